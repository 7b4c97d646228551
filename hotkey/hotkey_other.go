//go:build !linux

package hotkey

import (
	"golang.design/x/hotkey"
)

type xHotkey struct {
	hk   *hotkey.Hotkey
	down chan struct{}
	up   chan struct{}
	stop chan struct{}
}

func New() Hotkey {
	return &xHotkey{
		hk:   hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeyS),
		down: make(chan struct{}, 1),
		up:   make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go h.forward(h.hk.Keydown(), h.down)
	go h.forward(h.hk.Keyup(), h.up)
	return nil
}

func (h *xHotkey) forward(src <-chan hotkey.Event, dst chan struct{}) {
	for {
		select {
		case <-src:
		case <-h.stop:
			return
		}
		select {
		case dst <- struct{}{}:
		default:
		}
	}
}

func (h *xHotkey) Unregister() {
	close(h.stop)
	h.hk.Unregister()
}

func (h *xHotkey) Keydown() <-chan struct{} { return h.down }
func (h *xHotkey) Keyup() <-chan struct{}   { return h.up }

func Diagnose() (string, error) {
	return "hotkey support available (" + Combo + ")", nil
}
