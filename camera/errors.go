package camera

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotSupported
	KindPermissionDenied
	KindDeviceNotFound
	KindTimeout
	KindPlaybackFailed
	KindNotReady
	KindEncodeFailed
	KindCancelled
)

var kindNames = map[ErrorKind]string{
	KindUnknown:          "unknown",
	KindNotSupported:     "not_supported",
	KindPermissionDenied: "permission_denied",
	KindDeviceNotFound:   "device_not_found",
	KindTimeout:          "timeout",
	KindPlaybackFailed:   "playback_failed",
	KindNotReady:         "not_ready",
	KindEncodeFailed:     "encode_failed",
	KindCancelled:        "cancelled",
}

var kindMessages = map[ErrorKind]string{
	KindUnknown:          "Something went wrong with the camera.",
	KindNotSupported:     "Camera access is not supported on this system.",
	KindPermissionDenied: "Camera access was denied. Allow camera access and try again.",
	KindDeviceNotFound:   "No camera was found. Connect a camera to scan labels.",
	KindTimeout:          "The camera did not respond in time. Try again.",
	KindPlaybackFailed:   "The camera started but no picture arrived. Try again.",
	KindNotReady:         "The camera is not ready yet.",
	KindEncodeFailed:     "The photo could not be saved.",
	KindCancelled:        "Camera start was cancelled.",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Message is the user-facing text for the kind.
func (k ErrorKind) Message() string {
	if s, ok := kindMessages[k]; ok {
		return s
	}
	return kindMessages[KindUnknown]
}

// Retryable reports whether the UI should offer an explicit retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindPermissionDenied, KindTimeout, KindPlaybackFailed:
		return true
	}
	return false
}

type CaptureError struct {
	Kind ErrorKind
	Err  error
}

func newError(kind ErrorKind, err error) *CaptureError {
	return &CaptureError{Kind: kind, Err: err}
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return "camera " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "camera " + e.Kind.String()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is matches any CaptureError of the same kind when the target carries no
// cause, so errors.Is(err, ErrTimeout) works for wrapped timeouts.
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotSupported     = &CaptureError{Kind: KindNotSupported}
	ErrPermissionDenied = &CaptureError{Kind: KindPermissionDenied}
	ErrDeviceNotFound   = &CaptureError{Kind: KindDeviceNotFound}
	ErrTimeout          = &CaptureError{Kind: KindTimeout}
	ErrPlaybackFailed   = &CaptureError{Kind: KindPlaybackFailed}
	ErrNotReady         = &CaptureError{Kind: KindNotReady}
	ErrEncodeFailed     = &CaptureError{Kind: KindEncodeFailed}
	ErrCancelled        = &CaptureError{Kind: KindCancelled}

	ErrClosed = errors.New("camera controller closed")
)

// Classify maps an arbitrary failure from a device capability onto the
// capture error taxonomy. Already classified errors pass through.
func Classify(err error) *CaptureError {
	if err == nil {
		return nil
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, os.ErrPermission):
		return newError(KindPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return newError(KindDeviceNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return newError(KindCancelled, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, errors.ErrUnsupported):
		return newError(KindNotSupported, err)
	}
	return newError(KindUnknown, err)
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
