// Package server exposes the capture controller and scan pipeline over a
// local HTTP API.
package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/log"
	"nutriscan/scan"
)

// Previewer yields the picture currently on display.
type Previewer interface {
	Latest() image.Image
}

type HealthChecker interface {
	Health(ctx context.Context) (*backend.HealthStatus, *backend.NetworkMetrics, error)
}

type Options struct {
	Pipeline *scan.Pipeline
	Preview  Previewer     // optional
	Backend  HealthChecker // optional
	Facing   camera.Facing
	Mode     backend.Mode
	Version  string
}

type Server struct {
	opts Options
	ctrl *camera.Controller
}

func New(opts Options) *Server {
	if opts.Facing == "" {
		opts.Facing = camera.FacingEnvironment
	}
	if opts.Mode == "" {
		opts.Mode = backend.ModeAuto
	}
	return &Server{opts: opts, ctrl: opts.Pipeline.Controller()}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	c := r.PathPrefix("/camera").Subrouter()
	c.HandleFunc("/permission", s.handlePermission).Methods("GET")
	c.HandleFunc("/devices", s.handleDevices).Methods("GET")
	c.HandleFunc("/status", s.handleStatus).Methods("GET")
	c.HandleFunc("/preview.jpg", s.handlePreview).Methods("GET")
	c.HandleFunc("/start", s.handleStart).Methods("POST")
	c.HandleFunc("/stop", s.handleStop).Methods("POST")
	c.HandleFunc("/capture", s.handleCapture).Methods("POST")
	c.HandleFunc("/scan", s.handleScan).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Endpoint not found"})
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
	r.MethodNotAllowedHandler = notAllowed
	c.MethodNotAllowedHandler = notAllowed
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("server_listening: " + addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.opts.Version,
		"camera":  camera.StatusIdle.String(),
	}
	if cur := s.ctrl.Current(); cur != nil {
		resp["camera"] = cur.Status().String()
	}
	if s.opts.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		h, _, err := s.opts.Backend.Health(ctx)
		switch {
		case err != nil:
			resp["backend"] = "unreachable"
			resp["backend_error"] = err.Error()
		case h.Healthy():
			resp["backend"] = "ok"
		default:
			resp["backend"] = h.Status
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.ctrl.CheckPermission())})
}

type deviceJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Facing string `json:"facing,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.ctrl.Devices()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]deviceJSON, 0, len(devs))
	for _, d := range devs {
		out = append(out, deviceJSON{ID: d.ID, Name: d.Name, Facing: string(d.Facing)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(s.ctrl.Current()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	cur := s.ctrl.Current()
	var img image.Image
	if s.opts.Preview != nil && cur != nil && cur.Status() == camera.StatusReady {
		img = s.opts.Preview.Latest()
	}
	if img == nil {
		writeError(w, camera.ErrNotReady)
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		writeError(w, camera.ErrEncodeFailed)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	facing := s.opts.Facing
	if f := r.URL.Query().Get("facing"); f != "" {
		facing = camera.ParseFacing(f)
	}
	sess, err := s.ctrl.StartCapture(r.Context(), facing)
	if err != nil {
		writeError(w, err)
		return
	}
	log.SessionStart(sess.Settings().DeviceID, string(facing), "serve")
	writeJSON(w, http.StatusOK, statusOf(sess))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	cur := s.ctrl.Current()
	s.ctrl.StopCapture(cur)
	resp := statusOf(cur)
	resp.Status = camera.StatusStopped.String()
	writeJSON(w, http.StatusOK, resp)
}

func stopFlag(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("stop"))
	return v
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	cur := s.ctrl.Current()
	frame, err := s.ctrl.CaptureFrame(r.Context(), cur)
	if err != nil {
		writeError(w, err)
		return
	}
	if stopFlag(r) {
		s.ctrl.StopCapture(cur)
	}
	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("X-Session-Id", frame.SessionID)
	h.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	h.Set("X-Frame-Height", strconv.Itoa(frame.Height))
	h.Set("X-Captured-At", frame.CapturedAt.UTC().Format(time.RFC3339Nano))
	w.Write(frame.Data)
}

type scanJSON struct {
	SessionID  string               `json:"session_id"`
	CapturedAt time.Time            `json:"captured_at"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Source     backend.Mode         `json:"source"`
	FellBack   string               `json:"fell_back,omitempty"`
	Summary    string               `json:"summary"`
	Result     *backend.LabelResult `json:"result"`
	AI         *backend.AIResult    `json:"ai,omitempty"`
	TotalMs    int64                `json:"total_ms"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	mode := s.opts.Mode
	if m := r.URL.Query().Get("mode"); m != "" {
		var err error
		if mode, err = backend.ParseMode(m); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "bad_request"})
			return
		}
	}
	res, err := s.opts.Pipeline.Run(r.Context(), s.ctrl.Current(), mode, stopFlag(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := scanJSON{
		SessionID:  res.Frame.SessionID,
		CapturedAt: res.Frame.CapturedAt.UTC(),
		Width:      res.Frame.Width,
		Height:     res.Frame.Height,
		TotalMs:    res.Total.Milliseconds(),
	}
	if a := res.Analysis; a != nil {
		out.Source = a.Source
		out.FellBack = a.FellBack
		out.Summary = a.Summary()
		out.Result = a.Label
		out.AI = a.AI
	}
	writeJSON(w, http.StatusOK, out)
}
