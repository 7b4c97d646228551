package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"nutriscan/backend"
	"nutriscan/beep"
	"nutriscan/camera"
	"nutriscan/clipboard"
	"nutriscan/doctor"
	"nutriscan/hotkey"
	"nutriscan/log"
	"nutriscan/publish"
	"nutriscan/scan"
	"nutriscan/server"
	"nutriscan/shutdown"
	"nutriscan/update"
)

var version = "dev"

var (
	appCtx    context.Context
	appCancel context.CancelFunc

	ctrl         *camera.Controller
	pipeline     *scan.Pipeline
	publisher    publish.Publisher
	analysisMode backend.Mode
	runMode      string

	stateMu     sync.Mutex
	facing      camera.Facing
	singleShot  bool
	lastSummary string

	shooting atomic.Bool

	scansMu         sync.Mutex
	scans           []ScanRecord
	percentileStats PercentileStats
)

type PercentileStats struct {
	TotalMs  [5]float64 // min, p50, p90, p95, max
	EncodeMs [5]float64
	TTFBMs   [5]float64
	SizeKB   [5]float64
}

type ScanRecord struct {
	TotalMs  float64
	EncodeMs float64
	TTFBMs   float64
	SizeKB   float64
}

var shutdownOnce sync.Once

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if appCancel != nil {
			appCancel()
		}
		if ctrl != nil {
			ctrl.Close()
		}
		if pipeline != nil && pipeline.Scans() > 0 {
			log.SessionEnd(pipeline.Scans())
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				log.Warnf("publisher close: %v", err)
			}
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func currentFacing() camera.Facing {
	stateMu.Lock()
	defer stateMu.Unlock()
	return facing
}

func isSingleShot() bool {
	stateMu.Lock()
	defer stateMu.Unlock()
	return singleShot
}

func modeLineText() string {
	capture := "live"
	if isSingleShot() {
		capture = "single"
	}
	return fmt.Sprintf("[%s | %s | %s]", capture, analysisMode, currentFacing())
}

func deviceLineText(s *camera.Session) string {
	if s == nil {
		return "cam: none"
	}
	id := s.Settings().DeviceID
	if devs, err := ctrl.Devices(); err == nil {
		if d, ok := camera.FindDevice(devs, id); ok {
			return "cam: " + d.Name
		}
	}
	return "cam: " + id
}

func reportError(what string, err error) {
	var ce *camera.CaptureError
	text := err.Error()
	retryable := false
	if errors.As(err, &ce) {
		text = ce.Kind.Message()
		retryable = ce.Kind.Retryable()
	}
	log.Errorf("%s: %v", what, err)
	tuiSend(ErrorMsg{Text: text, Retryable: retryable})
}

// startCamera begins a session with the current facing, replacing any live one.
func startCamera() {
	f := currentFacing()
	sess, err := ctrl.StartCapture(appCtx, f)
	if err != nil {
		if !errors.Is(err, camera.ErrCancelled) {
			beep.PlayError()
			reportError("start capture", err)
		}
		return
	}
	log.SessionStart(sess.Settings().DeviceID, string(f), runMode)
	tuiSend(DeviceLineMsg{Text: deviceLineText(sess)})
}

func stopCamera() {
	ctrl.StopCapture(ctrl.Current())
}

func toggleCamera() {
	if cur := ctrl.Current(); cur != nil && cur.Status().Live() {
		stopCamera()
		return
	}
	startCamera()
}

// retryCamera restarts only after a retryable failure.
func retryCamera() {
	cur := ctrl.Current()
	if cur == nil || cur.Status() != camera.StatusError {
		return
	}
	if ce := cur.Err(); ce != nil && ce.Kind.Retryable() {
		startCamera()
	}
}

func flipCamera() {
	stateMu.Lock()
	facing = facing.Flip()
	stateMu.Unlock()
	tuiSend(ModeLineMsg{Text: modeLineText()})
	if cur := ctrl.Current(); cur != nil && cur.Status().Live() {
		startCamera()
	}
}

func toggleSingleShot() {
	stateMu.Lock()
	singleShot = !singleShot
	stateMu.Unlock()
	tuiSend(ModeLineMsg{Text: modeLineText()})
}

func copyLast() {
	stateMu.Lock()
	text := lastSummary
	stateMu.Unlock()
	if text == "" {
		return
	}
	if err := clipboard.Copy(text); err != nil {
		log.Warnf("clipboard: %v", err)
		return
	}
	tuiSend(CopiedMsg{})
}

// shoot captures the current frame and analyzes it. Overlapping presses
// are dropped while a scan is in flight.
func shoot() {
	if !shooting.CompareAndSwap(false, true) {
		return
	}
	defer shooting.Store(false)

	cur := ctrl.Current()
	if cur == nil || cur.Status() != camera.StatusReady {
		reportError("capture", camera.ErrNotReady)
		return
	}
	beep.PlayShutter()
	tuiSend(ScanStartMsg{})
	res, err := pipeline.Run(appCtx, cur, analysisMode, isSingleShot())
	if err != nil {
		beep.PlayError()
		reportError("scan", err)
		tuiSend(ScanDoneMsg{})
		return
	}
	beep.PlayDone()

	summary := "captured, no analysis"
	if res.Analysis != nil {
		summary = res.Analysis.Summary()
	}
	stateMu.Lock()
	lastSummary = summary
	stateMu.Unlock()

	record := ScanRecord{
		TotalMs:  float64(res.Total.Microseconds()) / 1000,
		EncodeMs: float64(res.Frame.EncodeTime.Microseconds()) / 1000,
		SizeKB:   float64(len(res.Frame.Data)) / 1024,
	}
	if res.Analysis != nil && res.Analysis.Metrics != nil {
		record.TTFBMs = float64(res.Analysis.Metrics.TTFB.Microseconds()) / 1000
	}
	scansMu.Lock()
	scans = append(scans, record)
	updatePercentileStats()
	scansMu.Unlock()

	tuiSend(ScanResultMsg{Text: summary, Metrics: res.MetricLines(), Label: labelOf(res)})
}

func labelOf(res *scan.Result) *backend.LabelResult {
	if res == nil || res.Analysis == nil {
		return nil
	}
	return res.Analysis.Label
}

// forwardTransitions mirrors controller state into the TUI.
func forwardTransitions(ctx context.Context) {
	ch := ctrl.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-ch:
			if !ok {
				return
			}
			tuiSend(CameraStatusMsg{Transition: tr})
		}
	}
}

// shutterLoop maps the global shutter key onto camera actions.
func shutterLoop(ctx context.Context, sh *hotkey.Shutter) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-sh.Actions():
			log.Info("hotkey_" + a.String())
			switch a {
			case hotkey.ActionCapture:
				go shoot()
			case hotkey.ActionToggle:
				go toggleCamera()
			}
		}
	}
}

func run() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	deviceFlag := flag.String("device", "", "Use the camera with this ID or name")
	setupFlag := flag.Bool("setup", false, "Select camera interactively")
	facingFlag := flag.String("facing", "environment", "Preferred camera: environment (back) or user (front)")
	apiFlag := flag.String("api", "", "Backend base URL (default $NUTRISCAN_API_URL or "+backend.DefaultBaseURL+")")
	serveFlag := flag.String("serve", "", "Serve the local HTTP API on this address (e.g. :8080) instead of the TUI")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	updateFlag := flag.Bool("update", false, "Install the latest release and exit")
	modeFlag := flag.String("mode", "auto", "Analysis mode: auto (AI, then OCR), ai or ocr")
	singleFlag := flag.Bool("single", false, "Stop the camera after each capture")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, fake camera)")
	guiFlag := flag.Bool("gui", false, "Open the preview window (requires a -tags gui build)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	accessTimeoutFlag := flag.Duration("access-timeout", camera.DefaultAccessTimeout, "Give up on camera access after this long unless permission is known")
	readyTimeoutFlag := flag.Duration("ready-timeout", camera.DefaultReadyTimeout, "Give up on the first preview frame after this long")
	widthFlag := flag.Int("width", camera.DefaultWidth, "Requested capture width")
	heightFlag := flag.Int("height", camera.DefaultHeight, "Requested capture height")
	qualityFlag := flag.Int("quality", camera.DefaultQuality, "JPEG quality for captures (1-100)")
	hintCacheFlag := flag.Bool("hint-cache", true, "Remember the camera permission state across runs")
	amqpFlag := flag.String("amqp", "", "AMQP URL to publish scan results to (default $NUTRISCAN_AMQP_URL)")
	hotkeyFlag := flag.Bool("hotkey", true, "Listen for the global shutter key ("+hotkey.Combo+")")
	longPressFlag := flag.Duration("longpress", 400*time.Millisecond, "Holding the shutter key this long toggles the camera instead of scanning")
	quietFlag := flag.Bool("quiet", false, "Disable sounds")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("nutriscan %s\n", version)
		os.Exit(0)
	}

	if *updateFlag {
		os.Exit(runUpdate())
	}

	analysisMode, err = backend.ParseMode(*modeFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	facing = camera.ParseFacing(*facingFlag)
	singleShot = *singleFlag
	if *quietFlag {
		beep.Disable()
	}

	cfg := camera.DefaultConfig()
	cfg.AccessTimeout = *accessTimeoutFlag
	cfg.ReadyTimeout = *readyTimeoutFlag
	cfg.Width, cfg.Height = *widthFlag, *heightFlag
	cfg.Quality = *qualityFlag
	if *hintCacheFlag {
		camera.DefaultPermissions().Persist(log.Dir())
	}

	client := backend.New()
	if *apiFlag != "" {
		client = backend.NewClient(*apiFlag)
	}

	amqpURL := *amqpFlag
	if amqpURL == "" {
		amqpURL = os.Getenv("NUTRISCAN_AMQP_URL")
	}

	if *testFlag {
		runTestMode(testOptions{
			Camera:    cfg,
			Client:    client,
			AMQPURL:   amqpURL,
			Facing:    facing,
			Single:    *singleFlag,
			Mode:      analysisMode,
			NoBackend: *apiFlag == "" && os.Getenv("NUTRISCAN_API_URL") == "",
		})
		return
	}

	md, err := camera.NewMediaDevices()
	if err != nil {
		md = camera.Unsupported(err)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(doctor.Options{Devices: md, Backend: client, Camera: cfg, Facing: facing}))
	}

	if *deviceFlag != "" {
		devs, err := md.Devices()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		d, ok := camera.FindDevice(devs, *deviceFlag)
		if !ok {
			fmt.Printf("Error: no camera named %q\n", *deviceFlag)
			os.Exit(1)
		}
		cfg.DeviceID = d.ID
	} else if *setupFlag {
		d, err := camera.SelectDevice(md)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to facing preference")
		} else if d != nil {
			cfg.DeviceID = d.ID
		}
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if amqpURL != "" {
		p, err := publish.Dial(amqpURL)
		if err != nil {
			log.Warnf("amqp: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: not publishing scans: %v\n", err)
		} else {
			publisher = p
		}
	}

	appCtx, appCancel = shutdown.NotifyContext(context.Background())
	go func() {
		<-appCtx.Done()
		gracefulShutdown()
	}()

	sink := camera.NewFrameSink()
	ctrl = camera.NewController(md, sink, cfg)
	ctrl.WatchPermission(appCtx)
	pipeline = scan.New(ctrl, backend.NewAnalyzer(client), publisher)
	go client.Warm(appCtx)

	switch {
	case *serveFlag != "":
		runMode = "serve"
		srv := server.New(server.Options{
			Pipeline: pipeline,
			Preview:  sink,
			Backend:  client,
			Facing:   facing,
			Mode:     analysisMode,
			Version:  version,
		})
		fmt.Printf("nutriscan %s listening on %s\n", version, *serveFlag)
		if err := srv.ListenAndServe(appCtx, *serveFlag); err != nil {
			log.Errorf("server: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		gracefulShutdown()
		return

	case *guiFlag:
		runMode = "gui"
		if err := runGUI(pipeline, sink); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		gracefulShutdown()
		return
	}

	go beep.Init()

	if *hotkeyFlag {
		hk := hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey register error: %v", err)
			if !*tuiFlag {
				fmt.Printf("Error registering hotkey: %v\n", err)
				os.Exit(1)
			}
		} else {
			defer hk.Unregister()
			sh := hotkey.NewShutter(hk, *longPressFlag)
			defer sh.Close()
			go shutterLoop(appCtx, sh)
		}
	}

	if !*tuiFlag {
		runMode = "headless"
		fmt.Printf("nutriscan %s: hold %s to start the camera, tap it to scan\n", version, hotkey.Combo)
		<-appCtx.Done()
		gracefulShutdown()
		return
	}

	runMode = "tui"
	tuiMu.Lock()
	tuiProgram = NewTUIProgram(tuiActions{
		start:      startCamera,
		stop:       stopCamera,
		shoot:      shoot,
		retry:      retryCamera,
		flip:       flipCamera,
		toggleMode: toggleSingleShot,
		copy:       copyLast,
	}, sink)
	tuiMu.Unlock()
	go forwardTransitions(appCtx)
	update.NewChecker(version, log.Dir()).Watch(appCtx, func(rel update.Release) {
		tuiSend(UpdateMsg{Version: rel.Version})
	})
	tuiSend(ModeLineMsg{Text: modeLineText()})
	tuiSend(DeviceLineMsg{Text: deviceLineText(nil)})

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		os.Exit(1)
	}
	gracefulShutdown()
}

func runUpdate() int {
	if !update.Enabled(version) {
		fmt.Println("Updates are not available for this build")
		return 1
	}
	ctx, cancel := shutdown.NotifyContext(context.Background())
	defer cancel()
	uc := update.NewChecker(version, "")
	rel, err := uc.Latest(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: update check failed: %v\n", err)
		return 1
	}
	if rel == nil {
		fmt.Printf("nutriscan %s is up to date\n", version)
		return 0
	}
	fmt.Printf("Updating %s -> %s\n", version, rel.Version)
	if err := uc.Apply(ctx, rel, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Installed %s\n", rel.Version)
	return 0
}

func updatePercentileStats() {
	n := len(scans)
	if n == 0 {
		return
	}

	extract := func(fn func(ScanRecord) float64) []float64 {
		vals := make([]float64, n)
		for i, r := range scans {
			vals[i] = fn(r)
		}
		sort.Float64s(vals)
		return vals
	}

	percentile := func(sorted []float64, p float64) float64 {
		return sorted[int(float64(len(sorted)-1)*p)]
	}

	calcStats := func(sorted []float64) [5]float64 {
		return [5]float64{
			sorted[0],
			percentile(sorted, 0.50),
			percentile(sorted, 0.90),
			percentile(sorted, 0.95),
			sorted[len(sorted)-1],
		}
	}

	percentileStats.TotalMs = calcStats(extract(func(r ScanRecord) float64 { return r.TotalMs }))
	percentileStats.EncodeMs = calcStats(extract(func(r ScanRecord) float64 { return r.EncodeMs }))
	percentileStats.TTFBMs = calcStats(extract(func(r ScanRecord) float64 { return r.TTFBMs }))
	percentileStats.SizeKB = calcStats(extract(func(r ScanRecord) float64 { return r.SizeKB }))
}
