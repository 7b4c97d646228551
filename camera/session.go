package camera

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status int

const (
	StatusIdle Status = iota
	StatusRequestingAccess
	StatusActive
	StatusReady
	StatusError
	StatusStopped
)

var statusNames = [...]string{
	StatusIdle:             "idle",
	StatusRequestingAccess: "requesting_access",
	StatusActive:           "active",
	StatusReady:            "ready",
	StatusError:            "error",
	StatusStopped:          "stopped",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "invalid"
}

// Live reports whether a session in this status holds, or is acquiring, a device.
func (s Status) Live() bool {
	return s == StatusRequestingAccess || s == StatusActive || s == StatusReady
}

// transitions lists every legal edge. Stopped has no outgoing edges; a
// retry always creates a new session.
var transitions = map[Status][]Status{
	StatusIdle:             {StatusRequestingAccess, StatusStopped},
	StatusRequestingAccess: {StatusActive, StatusError, StatusStopped},
	StatusActive:           {StatusReady, StatusError, StatusStopped},
	StatusReady:            {StatusReady, StatusError, StatusStopped},
	StatusError:            {StatusStopped},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is published to subscribers on every status change.
type Transition struct {
	SessionID string
	From      Status
	To        Status
	Err       *CaptureError
	At        time.Time
}

// Session is one acquisition of a video input device. Its fields are
// mutated only by the Controller.
type Session struct {
	ID        string
	Facing    Facing
	StartedAt time.Time

	mu       sync.Mutex
	status   Status
	lease    *deviceLease
	attached bool
	lastErr  *CaptureError

	stopped  chan struct{}
	stopOnce sync.Once
}

func newSession(facing Facing) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Facing:    facing,
		StartedAt: time.Now(),
		status:    StatusIdle,
		stopped:   make(chan struct{}),
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the classified error that put the session into Error, if any.
func (s *Session) Err() *CaptureError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Settings reports the bound stream's settings, zero when nothing is bound.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return Settings{}
	}
	return streamSettings(s.lease.stream)
}

// Done is closed once stop has been requested for the session.
func (s *Session) Done() <-chan struct{} { return s.stopped }

func (s *Session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// deviceLease ties an open stream to the controller's single device slot.
// Releasing it stops every track and frees the slot exactly once.
type deviceLease struct {
	stream Stream
	slot   chan struct{}
	once   sync.Once
}

func (l *deviceLease) release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		stopTracks(l.stream)
		<-l.slot
	})
}
