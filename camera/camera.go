package camera

import (
	"context"
	"image"
	"strings"
)

// Facing is the preferred direction of the camera relative to the user.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// ParseFacing accepts "environment", "user" and the short forms "back"/"front".
// Anything else yields FacingEnvironment.
func ParseFacing(s string) Facing {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "front", "selfie":
		return FacingUser
	default:
		return FacingEnvironment
	}
}

// Flip returns the opposite facing.
func (f Facing) Flip() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

type DeviceInfo struct {
	ID     string // opaque platform-specific identifier
	Name   string
	Facing Facing // empty when the platform cannot tell
}

// Constraints are hints passed to the device-access capability.
type Constraints struct {
	Width    int
	Height   int
	Facing   Facing
	DeviceID string // exact device, overrides Facing
}

// Settings describe what a track is actually delivering. Zero
// dimensions mean the native resolution is not known yet.
type Settings struct {
	DeviceID string
	Width    int
	Height   int
}

type Track interface {
	Stop()
	Settings() Settings
}

// Stream is an open acquisition of a video input device. It stays open
// until every track is stopped.
type Stream interface {
	Tracks() []Track
	Frames() <-chan image.Image
}

// MediaDevices is the device-access capability consumed by the controller.
type MediaDevices interface {
	Devices() ([]DeviceInfo, error)
	// GetUserMedia may block for as long as the platform needs to grant
	// access. A stream returned after the caller stopped waiting is still
	// owned by the caller and must be released.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
	// QueryPermission must not prompt the user.
	QueryPermission() PermissionState
}

// PermissionWatcher is implemented by capabilities that can observe
// permission changes made outside the application.
type PermissionWatcher interface {
	WatchPermission(ctx context.Context) <-chan PermissionState
}

// PreviewSink renders a bound stream. Attach returns a readiness future
// that yields nil once the first frame is displayable, or an error if the
// stream can never get there.
type PreviewSink interface {
	Attach(s Stream) <-chan error
	Detach()
	Snapshot() (image.Image, error)
}

func stopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func streamSettings(s Stream) Settings {
	if s == nil {
		return Settings{}
	}
	for _, t := range s.Tracks() {
		if st := t.Settings(); st.Width > 0 && st.Height > 0 {
			return st
		}
	}
	return Settings{}
}
