package hotkey

import (
	"sync"
	"time"
)

type Action int

const (
	// ActionCapture is a short tap: take a picture and scan it.
	ActionCapture Action = iota
	// ActionToggle is a long press: start the camera, or stop it if running.
	ActionToggle
)

func (a Action) String() string {
	if a == ActionToggle {
		return "toggle"
	}
	return "capture"
}

// Shutter turns raw key presses into capture and toggle actions on one key.
// A press held past the long-press threshold toggles the camera as soon as
// the threshold passes; anything shorter captures on release.
type Shutter struct {
	actions chan Action
	stop    chan struct{}
	once    sync.Once
}

func NewShutter(hk Hotkey, longPress time.Duration) *Shutter {
	s := &Shutter{
		actions: make(chan Action, 1),
		stop:    make(chan struct{}),
	}
	go s.run(hk, longPress)
	return s
}

func (s *Shutter) Actions() <-chan Action { return s.actions }

func (s *Shutter) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Shutter) emit(a Action) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.actions <- a:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Shutter) run(hk Hotkey, longPress time.Duration) {
	for {
		select {
		case <-hk.Keydown():
		case <-s.stop:
			return
		}

		timer := time.NewTimer(longPress)
		select {
		case <-hk.Keyup():
			timer.Stop()
			if !s.emit(ActionCapture) {
				return
			}
		case <-timer.C:
			if !s.emit(ActionToggle) {
				return
			}
			// swallow the release of the held key
			select {
			case <-hk.Keyup():
			case <-s.stop:
				return
			}
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}
