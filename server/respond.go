package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nutriscan/backend"
	"nutriscan/camera"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

type statusJSON struct {
	SessionID string     `json:"session_id,omitempty"`
	Status    string     `json:"status"`
	Facing    string     `json:"facing,omitempty"`
	Device    string     `json:"device,omitempty"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
}

func statusOf(s *camera.Session) statusJSON {
	if s == nil {
		return statusJSON{Status: camera.StatusIdle.String()}
	}
	set := s.Settings()
	started := s.StartedAt.UTC()
	out := statusJSON{
		SessionID: s.ID,
		Status:    s.Status().String(),
		Facing:    string(s.Facing),
		Device:    set.DeviceID,
		Width:     set.Width,
		Height:    set.Height,
		StartedAt: &started,
	}
	if ce := s.Err(); ce != nil {
		out.Error = &errorBody{Error: ce.Kind.Message(), Kind: ce.Kind.String(), Retryable: ce.Kind.Retryable()}
	}
	return out
}

var cameraStatus = map[camera.ErrorKind]int{
	camera.KindNotReady:         http.StatusConflict,
	camera.KindCancelled:        http.StatusConflict,
	camera.KindPermissionDenied: http.StatusForbidden,
	camera.KindDeviceNotFound:   http.StatusNotFound,
	camera.KindNotSupported:     http.StatusNotImplemented,
	camera.KindTimeout:          http.StatusGatewayTimeout,
	camera.KindPlaybackFailed:   http.StatusBadGateway,
	camera.KindEncodeFailed:     http.StatusInternalServerError,
}

// errorResponse maps an error onto a status code and JSON body.
func errorResponse(err error) (int, errorBody) {
	var ce *camera.CaptureError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &ce):
		code, ok := cameraStatus[ce.Kind]
		if !ok {
			code = http.StatusInternalServerError
		}
		body := errorBody{Error: ce.Kind.Message(), Kind: ce.Kind.String(), Retryable: ce.Kind.Retryable()}
		if ce.Err != nil {
			body.Detail = ce.Err.Error()
		}
		return code, body
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, errorBody{Error: apiErr.Message, Kind: "backend_error", Retryable: apiErr.StatusCode >= 500}
	case backend.IsConnectivity(err):
		return http.StatusServiceUnavailable, errorBody{Error: backend.ErrConnectivity.Error(), Kind: "backend_unreachable", Retryable: true, Detail: err.Error()}
	case errors.Is(err, camera.ErrClosed):
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: "closed"}
	}
	return http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "internal"}
}

func writeError(w http.ResponseWriter, err error) {
	code, body := errorResponse(err)
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
