//go:build gui

// Package gui is the optional desktop window: live preview, shutter and
// the last scan result.
package gui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"nutriscan/backend"
	"nutriscan/beep"
	"nutriscan/camera"
	"nutriscan/clipboard"
	"nutriscan/log"
	"nutriscan/scan"
)

const previewInterval = 66 * time.Millisecond

type Previewer interface {
	Latest() image.Image
}

type Options struct {
	Pipeline *scan.Pipeline
	Preview  Previewer
	Facing   camera.Facing
	Mode     backend.Mode
	// OnReady runs in its own goroutine once the window exists.
	OnReady func()
	OnQuit  func()
}

type App struct {
	opts Options
	ctrl *camera.Controller

	fyneApp fyne.App
	window  fyne.Window
	picture *canvas.Image
	status  *widget.Label
	result  *widget.Label
	metrics *widget.Label
	power   *widget.Button
	shutter *widget.Button

	mu      sync.Mutex
	facing  camera.Facing
	summary string
	busy    bool
}

func NewApp(opts Options) *App {
	if opts.Facing == "" {
		opts.Facing = camera.FacingEnvironment
	}
	if opts.Mode == "" {
		opts.Mode = backend.ModeAuto
	}
	return &App{opts: opts, ctrl: opts.Pipeline.Controller(), facing: opts.Facing}
}

// Run builds the window and blocks in the fyne event loop. It must be
// called from the main goroutine.
func Run(a *App) error {
	a.fyneApp = app.NewWithID("io.nutriscan.gui")
	a.fyneApp.Settings().SetTheme(scannerTheme{})
	a.window = a.fyneApp.NewWindow("nutriscan")

	if desk, ok := a.fyneApp.(desktop.App); ok {
		desk.SetSystemTrayIcon(fyne.NewStaticResource("tray.png", trayIconPNG(22)))
		desk.SetSystemTrayMenu(fyne.NewMenu("nutriscan",
			fyne.NewMenuItem("Show", a.window.Show),
			fyne.NewMenuItem("Scan", func() { go a.Scan() }),
		))
	}

	blank := image.NewUniform(color.Black)
	a.picture = canvas.NewImageFromImage(blank)
	a.picture.FillMode = canvas.ImageFillContain
	a.picture.SetMinSize(fyne.NewSize(480, 360))

	a.status = widget.NewLabel("idle")
	a.result = widget.NewLabel("No scans yet")
	a.result.Wrapping = fyne.TextWrapWord
	a.metrics = widget.NewLabel("")
	a.power = widget.NewButton("Start camera", func() { go a.Toggle() })
	a.shutter = widget.NewButton("Scan", func() { go a.Scan() })
	flip := widget.NewButton("Flip", func() { go a.Flip() })
	copyBtn := widget.NewButton("Copy", a.copyResult)

	buttons := container.NewHBox(a.power, a.shutter, flip, copyBtn)
	side := container.NewVBox(a.status, a.result, a.metrics)
	a.window.SetContent(container.NewBorder(nil, buttons, nil, side, a.picture))
	a.window.SetCloseIntercept(func() {
		if a.opts.OnQuit != nil {
			a.opts.OnQuit()
		}
		a.fyneApp.Quit()
	})
	a.window.Canvas().SetOnTypedKey(a.onKey)

	stop := make(chan struct{})
	go a.watch(stop)
	go a.refreshPreview(stop)
	if a.opts.OnReady != nil {
		go a.opts.OnReady()
	}

	a.window.Show()
	a.fyneApp.Run()
	close(stop)
	return nil
}

func (a *App) Quit() {
	if a.fyneApp != nil {
		fyne.Do(a.fyneApp.Quit)
	}
}

func (a *App) onKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeySpace:
		go a.Scan()
	case fyne.KeyS:
		go a.Toggle()
	case fyne.KeyF:
		go a.Flip()
	case fyne.KeyC:
		a.copyResult()
	}
}

// watch mirrors controller transitions into the status line.
func (a *App) watch(stop <-chan struct{}) {
	ch := a.ctrl.Subscribe()
	for {
		select {
		case <-stop:
			return
		case tr, ok := <-ch:
			if !ok {
				return
			}
			text := tr.To.String()
			if tr.Err != nil {
				text += ": " + tr.Err.Kind.Message()
				if tr.Err.Kind.Retryable() {
					text += " (start again to retry)"
				}
			}
			running := tr.To.Live()
			fyne.Do(func() {
				a.status.SetText(text)
				if running {
					a.power.SetText("Stop camera")
				} else {
					a.power.SetText("Start camera")
				}
			})
		}
	}
}

func (a *App) refreshPreview(stop <-chan struct{}) {
	ticker := time.NewTicker(previewInterval)
	defer ticker.Stop()
	var last image.Image
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		img := a.opts.Preview.Latest()
		if img == nil || img == last {
			continue
		}
		last = img
		fyne.Do(func() {
			a.picture.Image = img
			a.picture.Refresh()
		})
	}
}

// Toggle starts the camera, or stops it when a session is live.
func (a *App) Toggle() {
	if cur := a.ctrl.Current(); cur != nil && cur.Status().Live() {
		a.ctrl.StopCapture(cur)
		return
	}
	a.mu.Lock()
	facing := a.facing
	a.mu.Unlock()
	if _, err := a.ctrl.StartCapture(context.Background(), facing); err != nil {
		beep.PlayError()
		log.Warnf("gui start: %v", err)
	}
}

func (a *App) Flip() {
	a.mu.Lock()
	a.facing = a.facing.Flip()
	a.mu.Unlock()
	if cur := a.ctrl.Current(); cur != nil && cur.Status().Live() {
		a.ctrl.StopCapture(cur)
		a.Toggle()
	}
}

// Scan captures the current frame and analyzes it; the session stays live.
func (a *App) Scan() {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return
	}
	a.busy = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}()

	fyne.Do(func() { a.shutter.Disable() })
	defer fyne.Do(func() { a.shutter.Enable() })

	beep.PlayShutter()
	res, err := a.opts.Pipeline.Run(context.Background(), a.ctrl.Current(), a.opts.Mode, false)
	if err != nil {
		beep.PlayError()
		msg := err.Error()
		var ce *camera.CaptureError
		if errors.As(err, &ce) {
			msg = ce.Kind.Message()
		}
		fyne.Do(func() { a.result.SetText("Scan failed: " + msg) })
		return
	}
	beep.PlayDone()
	summary := "captured, no analysis"
	if res.Analysis != nil {
		summary = res.Analysis.Summary()
	}
	a.mu.Lock()
	a.summary = summary
	a.mu.Unlock()
	lines := res.MetricLines()
	fyne.Do(func() {
		a.result.SetText(summary)
		a.metrics.SetText(strings.Join(lines, "\n"))
	})
}

func (a *App) copyResult() {
	a.mu.Lock()
	s := a.summary
	a.mu.Unlock()
	if s == "" {
		return
	}
	if err := clipboard.Copy(s); err != nil {
		log.Warnf("clipboard: %v", err)
	}
}
