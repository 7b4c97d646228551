package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	scanFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// Metrics describes one label scan from capture to backend answer.
type Metrics struct {
	Width         int
	Height        int
	ImageKB       float64
	EncodeTimeMs  float64
	DNSTimeMs     float64
	TLSTimeMs     float64
	TTFBMs        float64
	TotalTimeMs   float64
	MemoryAllocMB float64
	MemoryPeakMB  float64
}

// ResolveDir picks the log directory: the -logpath flag, then
// NUTRISCAN_LOG_PATH, then the platform default.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv("NUTRISCAN_LOG_PATH")} {
		if p != "" {
			return absFromWd(p)
		}
	}
	return getDefaultDir()
}

func absFromWd(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	if diagFile, err = openAppend("diagnostics_log.txt"); err != nil {
		return err
	}
	if scanFile, err = openAppend("scan_log.txt"); err != nil {
		diagFile.Close()
		return err
	}

	diagLog = zerolog.New(zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: time.DateTime,
		NoColor:    true,
	}).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func openAppend(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	for _, f := range []**os.File{&diagFile, &scanFile} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msgf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msgf(format, args...)
	}
}

// CameraTransition records a capture session status change. kind is the
// error kind for transitions into error, empty otherwise.
func CameraTransition(sessionID, from, to, kind string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("session", sessionID).
		Str("from", from).
		Str("to", to)
	if kind != "" {
		ev = ev.Str("kind", kind)
	}
	ev.Msg("camera_transition")
}

func CameraError(sessionID, kind string, retryable bool, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("session", sessionID).
		Str("kind", kind).
		Bool("retryable", retryable).
		AnErr("cause", err).
		Msg("camera_error")
}

func FrameCaptured(sessionID string, width, height, bytes int, encodeMs float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("width", width).
		Int("height", height).
		Float64("kb", float64(bytes)/1024).
		Float64("encode_ms", encodeMs).
		Msg("frame_captured")
}

func ScanMetrics(m Metrics, mode, source string, connReused bool, tlsProto string) {
	if !logReady {
		return
	}

	connStatus := "new"
	if connReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("mode", mode).
		Str("source", source).
		Str("conn", connStatus)
	if tlsProto != "" {
		ev = ev.Str("tls_proto", tlsProto)
	}
	ev.Int("width", m.Width).
		Int("height", m.Height).
		Float64("image_kb", m.ImageKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Float64("mem_mb", m.MemoryAllocMB).
		Float64("peak_mb", m.MemoryPeakMB).
		Msg("scan")
}

// ScanResult appends one line per scan to scan_log.txt.
func ScanResult(source, summary string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintf(scanFile, "%s\t[%d]\t%s\t%s\n",
		time.Now().Format(time.DateTime), pid, source, strings.ReplaceAll(summary, "\n", " "))
}

func SessionStart(device, facing, mode string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Str("facing", facing).
		Str("mode", mode).
		Msg("session_start")
}

func SessionEnd(scans int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("scans", scans).
		Msg("session_end")
}
