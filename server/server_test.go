package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/scan"
)

type fixture struct {
	srv  *Server
	fd   *camera.FakeDevices
	fake *backend.FakeScanner
	ctrl *camera.Controller
}

func newFixture(t *testing.T) *fixture {
	return newFixtureTimeout(t, 5*time.Second)
}

func newFixtureTimeout(t *testing.T, access time.Duration) *fixture {
	t.Helper()
	fd := camera.NewFakeDevices()
	sink := camera.NewFrameSink()
	ctrl := camera.NewController(fd, sink, camera.Config{
		AccessTimeout: access,
		ReadyTimeout:  5 * time.Second,
		Permissions:   &camera.PermissionCache{},
	})
	t.Cleanup(ctrl.Close)
	fake := backend.NewFake()
	p := scan.New(ctrl, backend.NewAnalyzer(fake), nil)
	return &fixture{
		srv:  New(Options{Pipeline: p, Preview: sink, Version: "test"}),
		fd:   fd,
		fake: fake,
		ctrl: ctrl,
	}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStartCaptureStop(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/camera/start?facing=user")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	st := decode[statusJSON](t, rec)
	if st.Status != "ready" || st.Facing != "user" || st.Device != "fake1" {
		t.Errorf("status = %+v", st)
	}

	rec = f.do(t, "POST", "/camera/capture?stop=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type %q", ct)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height); got != rec.Header().Get("X-Frame-Width")+"x"+rec.Header().Get("X-Frame-Height") {
		t.Errorf("encoded %s, headers %s x %s", got, rec.Header().Get("X-Frame-Width"), rec.Header().Get("X-Frame-Height"))
	}
	if f.fd.OpenStreams() != 0 {
		t.Errorf("open streams = %d after stop=1", f.fd.OpenStreams())
	}

	st = decode[statusJSON](t, f.do(t, "GET", "/camera/status"))
	if st.Status != "idle" {
		t.Errorf("status after stop = %s, want idle", st.Status)
	}
}

func TestCaptureNotReady(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/camera/capture")
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Kind != "not_ready" || body.Retryable {
		t.Errorf("body = %+v", body)
	}
	if f.fd.Requests() != 0 {
		t.Error("capture touched the device")
	}
}

func TestStartPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.fd.AccessErr = &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}

	rec := f.do(t, "POST", "/camera/start")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Kind != "permission_denied" || !body.Retryable {
		t.Errorf("body = %+v", body)
	}

	st := decode[statusJSON](t, f.do(t, "GET", "/camera/status"))
	if st.Status != "error" || st.Error == nil || st.Error.Kind != "permission_denied" {
		t.Errorf("status = %+v", st)
	}
	perm := decode[map[string]string](t, f.do(t, "GET", "/camera/permission"))
	if perm["state"] != "denied" {
		t.Errorf("permission = %v", perm)
	}
}

func TestStartTimeout(t *testing.T) {
	f := newFixtureTimeout(t, 100*time.Millisecond)
	f.fd.Hold()
	defer f.fd.Resolve(nil)

	rec := f.do(t, "POST", "/camera/start")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("code = %d, want 504", rec.Code)
	}
}

func TestScan(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/camera/start")

	rec := f.do(t, "POST", "/camera/scan?mode=ocr")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rec.Code, rec.Body)
	}
	out := decode[scanJSON](t, rec)
	if out.Source != backend.ModeOCR || out.Result == nil || out.Summary == "" {
		t.Errorf("scan = %+v", out)
	}
	if f.ctrl.Current() == nil {
		t.Error("scan without stop=1 should keep the session")
	}

	if rec := f.do(t, "POST", "/camera/scan?mode=vision"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode code = %d", rec.Code)
	}
}

func TestScanBackendErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		code int
	}{
		{"api error", &backend.APIError{Endpoint: "/api/scan_label", StatusCode: 400, Message: "File type not allowed"}, http.StatusBadGateway},
		{"unreachable", fmt.Errorf("%w: connection refused", backend.ErrConnectivity), http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.LabelErr = tt.err
			f.do(t, "POST", "/camera/start")

			rec := f.do(t, "POST", "/camera/scan?mode=ocr")
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body)
			}
		})
	}
}

func TestErrorResponseMapping(t *testing.T) {
	for _, tt := range []struct {
		err  error
		code int
	}{
		{camera.ErrNotReady, 409},
		{camera.ErrCancelled, 409},
		{camera.ErrPermissionDenied, 403},
		{camera.ErrDeviceNotFound, 404},
		{camera.ErrNotSupported, 501},
		{camera.ErrTimeout, 504},
		{camera.ErrPlaybackFailed, 502},
		{camera.ErrEncodeFailed, 500},
		{&backend.APIError{StatusCode: 500, Message: "boom"}, 502},
		{backend.ErrConnectivity, 503},
		{camera.ErrClosed, 503},
		{errors.New("other"), 500},
	} {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, body := errorResponse(tt.err)
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
			if body.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, "GET", "/camera/preview.jpg"); rec.Code != http.StatusConflict {
		t.Errorf("preview before start = %d, want 409", rec.Code)
	}
	f.do(t, "POST", "/camera/start")
	rec := f.do(t, "GET", "/camera/preview.jpg")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d", rec.Code)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Errorf("preview is not a jpeg: %v", err)
	}
}

func TestDevicesAndHealth(t *testing.T) {
	f := newFixture(t)

	devs := decode[[]deviceJSON](t, f.do(t, "GET", "/camera/devices"))
	if len(devs) != 2 || devs[0].Facing != "environment" {
		t.Errorf("devices = %+v", devs)
	}
	health := decode[map[string]any](t, f.do(t, "GET", "/health"))
	if health["status"] != "ok" || health["camera"] != "idle" {
		t.Errorf("health = %v", health)
	}
	if rec := f.do(t, "GET", "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/camera/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d, want 405", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, tt := range []struct{ method, path string }{
		{"GET", "/camera/start"},
		{"GET", "/camera/scan"},
		{"POST", "/camera/status"},
		{"DELETE", "/health"},
	} {
		rec := f.do(t, tt.method, tt.path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
			continue
		}
		if body := decode[errorBody](t, rec); body.Error == "" {
			t.Errorf("%s %s: empty error body", tt.method, tt.path)
		}
	}
	if f.fd.Requests() != 0 {
		t.Error("a rejected method reached the camera")
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
