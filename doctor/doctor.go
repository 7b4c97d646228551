// Package doctor runs the -doctor diagnostics: camera, permission, first
// frame, backend and desktop integration.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/clipboard"
	"nutriscan/hotkey"
	"nutriscan/shutdown"
)

const totalChecks = 5

type HealthChecker interface {
	BaseURL() string
	Health(ctx context.Context) (*backend.HealthStatus, *backend.NetworkMetrics, error)
}

type Options struct {
	Devices camera.MediaDevices
	Backend HealthChecker
	Camera  camera.Config
	Facing  camera.Facing
	Out     io.Writer // defaults to stdout

	// Desktop probes the hotkey and clipboard; nil uses the real ones.
	Desktop func() []Probe
}

// Probe is one informational desktop-integration result.
type Probe struct {
	Name   string
	Detail string
	Err    error
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	setupInterruptHandler()
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if check(opts) {
		return 0
	}
	return 1
}

type report struct {
	w    io.Writer
	step int
}

func (r *report) begin(title string) {
	r.step++
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "[%d/%d] %s\n", r.step, totalChecks, title)
}

func (r *report) pass(format string, args ...any) bool {
	fmt.Fprintf(r.w, "  PASS: "+format+"\n", args...)
	return true
}

func (r *report) fail(format string, args ...any) bool {
	fmt.Fprintf(r.w, "  FAIL: "+format+"\n", args...)
	return false
}

func (r *report) hint(format string, args ...any) {
	fmt.Fprintf(r.w, "  Fix with: "+format+"\n", args...)
}

func check(opts Options) bool {
	r := &report{w: opts.Out}
	fmt.Fprintln(r.w, "nutriscan doctor - system diagnostics")
	fmt.Fprintln(r.w, "=====================================")

	allPass := true
	devsOK := checkDevices(r, opts.Devices)
	permOK := devsOK && checkPermission(r, opts.Devices)
	if !devsOK || !permOK {
		allPass = false
	}
	if permOK {
		if !checkFirstFrame(r, opts) {
			allPass = false
		}
	} else {
		r.begin("First frame")
		fmt.Fprintln(r.w, "  SKIP: camera not usable")
	}
	if !checkBackend(r, opts.Backend) {
		allPass = false
	}
	checkDesktop(r, opts.Desktop)

	fmt.Fprintln(r.w)
	if allPass {
		fmt.Fprintln(r.w, "All checks passed!")
	} else {
		fmt.Fprintln(r.w, "Some checks failed. See details above.")
	}
	return allPass
}

func checkDevices(r *report, md camera.MediaDevices) bool {
	r.begin("Camera devices")
	if md == nil {
		return r.fail("no camera backend on this platform")
	}
	devs, err := md.Devices()
	if err != nil {
		return r.fail("cannot list devices: %v", err)
	}
	if len(devs) == 0 {
		r.fail("no video capture devices found")
		r.hint("plug in a camera, or check `ls /dev/video*`")
		return false
	}
	for _, d := range devs {
		facing := ""
		if d.Facing != "" {
			facing = " (" + string(d.Facing) + ")"
		}
		fmt.Fprintf(r.w, "  %s  %s%s\n", d.ID, d.Name, facing)
	}
	return r.pass("%d camera(s) found", len(devs))
}

func checkPermission(r *report, md camera.MediaDevices) bool {
	r.begin("Camera permission")
	switch st := md.QueryPermission(); st {
	case camera.PermissionGranted:
		return r.pass("camera access granted")
	case camera.PermissionDenied:
		r.fail("camera access denied")
		r.hint("sudo usermod -aG video $USER, then re-login")
		return false
	default:
		// Prompt or unknown: the first-frame check decides.
		fmt.Fprintf(r.w, "  permission state %s, will be asked on first use\n", st)
		return true
	}
}

func checkFirstFrame(r *report, opts Options) bool {
	r.begin("First frame")
	sink := camera.NewFrameSink()
	cfg := opts.Camera
	cfg.Permissions = &camera.PermissionCache{}
	ctrl := camera.NewController(opts.Devices, sink, cfg)
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	sess, err := ctrl.StartCapture(ctx, opts.Facing)
	if err != nil {
		return r.fail("%s", describe(err))
	}
	ready := time.Since(start)
	frame, err := ctrl.CaptureFrame(ctx, sess)
	ctrl.StopCapture(sess)
	if err != nil {
		return r.fail("%s", describe(err))
	}
	fmt.Fprintf(r.w, "  device %s ready in %dms\n", sess.Settings().DeviceID, ready.Milliseconds())
	return r.pass("captured %dx%d JPEG, %.1f KB", frame.Width, frame.Height, float64(len(frame.Data))/1024)
}

func describe(err error) string {
	var ce *camera.CaptureError
	if errors.As(err, &ce) {
		if ce.Err != nil {
			return fmt.Sprintf("%s (%v)", ce.Kind.Message(), ce.Err)
		}
		return ce.Kind.Message()
	}
	return err.Error()
}

func checkBackend(r *report, hc HealthChecker) bool {
	r.begin("Analysis backend")
	if hc == nil {
		return r.fail("no backend configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, m, err := hc.Health(ctx)
	if err != nil {
		r.fail("%s: %v", hc.BaseURL(), err)
		if backend.IsConnectivity(err) {
			r.hint("start the backend, or set NUTRISCAN_API_URL")
		}
		return false
	}
	fmt.Fprintf(r.w, "  %s status=%s data=%v model=%v\n", hc.BaseURL(), h.Status, h.Data(), h.Model())
	if !h.Healthy() {
		return r.fail("backend reports %q", h.Status)
	}
	if !h.Model() {
		fmt.Fprintln(r.w, "  warning: AI model not loaded, scans will use OCR only")
	}
	if m != nil {
		return r.pass("backend healthy (%dms)", m.Total.Milliseconds())
	}
	return r.pass("backend healthy")
}

func desktopProbes() []Probe {
	hk, hkErr := hotkey.Diagnose()
	return []Probe{
		{Name: "shutter key " + hotkey.Combo, Detail: hk, Err: hkErr},
		{Name: "clipboard", Detail: "copy and read back ok", Err: clipboard.Check()},
	}
}

// checkDesktop never fails the run; the TUI works without either.
func checkDesktop(r *report, probes func() []Probe) {
	r.begin("Desktop integration")
	if probes == nil {
		probes = desktopProbes
	}
	for _, p := range probes() {
		if p.Err != nil {
			fmt.Fprintf(r.w, "  WARN: %s: %v\n", p.Name, p.Err)
			continue
		}
		fmt.Fprintf(r.w, "  ok: %s: %s\n", p.Name, p.Detail)
	}
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		signal.Stop(sigChan)
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		os.Exit(1)
	}()
}
