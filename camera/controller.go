package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"nutriscan/log"
)

const (
	DefaultAccessTimeout = 10 * time.Second
	DefaultReadyTimeout  = 5 * time.Second
	DefaultWidth         = 640
	DefaultHeight        = 480
	DefaultQuality       = 90 // 0.9 on a 0-1 scale
)

type Config struct {
	// AccessTimeout bounds device access while permission is not known to be granted.
	AccessTimeout time.Duration
	// ReadyTimeout bounds the wait for the preview's first frame.
	ReadyTimeout time.Duration
	// Width and Height are the resolution hints, and the capture fallback
	// when the device does not report its native resolution.
	Width   int
	Height  int
	Quality int

	// DeviceID pins a specific device; Facing is then ignored.
	DeviceID string
	// Permissions defaults to the process-wide cache.
	Permissions *PermissionCache
}

func DefaultConfig() Config {
	return Config{
		AccessTimeout: DefaultAccessTimeout,
		ReadyTimeout:  DefaultReadyTimeout,
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		Quality:       DefaultQuality,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.AccessTimeout <= 0 {
		c.AccessTimeout = d.AccessTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = d.Quality
	}
	if c.Permissions == nil {
		c.Permissions = defaultPermissions
	}
}

// CapturedFrame is an encoded still. The controller keeps no reference to it.
type CapturedFrame struct {
	SessionID  string
	Data       []byte // JPEG
	Width      int
	Height     int
	CapturedAt time.Time
	EncodeTime time.Duration
}

// Controller mediates all access to the video input device. At most one
// session that is not Stopped exists at a time, and at most one device
// stream is open.
type Controller struct {
	devices MediaDevices
	sink    PreviewSink
	cfg     Config

	// slot holds a token while a stream is open.
	slot chan struct{}

	mu      sync.Mutex
	current *Session
	closed  bool
	subs    []chan Transition
}

func NewController(devices MediaDevices, sink PreviewSink, cfg Config) *Controller {
	cfg.fill()
	return &Controller{
		devices: devices,
		sink:    sink,
		cfg:     cfg,
		slot:    make(chan struct{}, 1),
	}
}

func (c *Controller) Config() Config { return c.cfg }

// Current returns the session that is not yet Stopped, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Devices() ([]DeviceInfo, error) {
	if c.devices == nil {
		return nil, newError(KindNotSupported, nil)
	}
	devs, err := c.devices.Devices()
	if err != nil {
		return nil, Classify(err)
	}
	return devs, nil
}

// CheckPermission returns the cached hint, or asks the capability without
// prompting when nothing is cached.
func (c *Controller) CheckPermission() PermissionState {
	if h := c.cfg.Permissions.Get(); h != PermissionUnknown {
		return h
	}
	if c.devices == nil {
		return PermissionUnknown
	}
	return c.devices.QueryPermission()
}

// WatchPermission feeds externally observed permission changes into the
// hint cache until ctx is done. It returns false if the capability cannot
// observe changes.
func (c *Controller) WatchPermission(ctx context.Context) bool {
	w, ok := c.devices.(PermissionWatcher)
	if !ok {
		return false
	}
	ch := w.WatchPermission(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-ch:
				if !ok {
					return
				}
				log.Info("permission_changed: " + string(st))
				c.cfg.Permissions.Set(st)
			}
		}
	}()
	return true
}

// Subscribe returns a channel receiving every status transition. Slow
// subscribers miss events rather than block the controller.
func (c *Controller) Subscribe() <-chan Transition {
	return c.SubscribeBuffered(16)
}

// SubscribeBuffered is Subscribe with room for n undelivered transitions
// before any are dropped.
func (c *Controller) SubscribeBuffered(n int) <-chan Transition {
	ch := make(chan Transition, max(n, 1))
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

type acquireResult struct {
	lease *deviceLease
	err   error
}

// StartCapture stops any previous session, then acquires the device and
// waits for the preview's first frame. The returned session is non-nil
// whenever the controller is open and records the terminal state; the
// error is a *CaptureError.
func (c *Controller) StartCapture(ctx context.Context, facing Facing) (*Session, error) {
	if facing == "" {
		facing = FacingEnvironment
	}
	s := newSession(facing)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prev := c.current
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		c.StopCapture(prev)
	}

	if !c.transition(s, StatusRequestingAccess, nil) {
		return s, newError(KindCancelled, nil)
	}
	if c.devices == nil {
		return s, c.fail(s, newError(KindNotSupported, errors.New("no device-access capability")))
	}

	// The hint only decides whether to race against a timer.
	var timeout <-chan time.Time
	timed := c.cfg.Permissions.Get() != PermissionGranted
	if timed {
		t := time.NewTimer(c.cfg.AccessTimeout)
		defer t.Stop()
		timeout = t.C
	}

	result := make(chan acquireResult)
	abandon := make(chan struct{})
	go c.acquire(ctx, s, Constraints{
		Width:    c.cfg.Width,
		Height:   c.cfg.Height,
		Facing:   facing,
		DeviceID: c.cfg.DeviceID,
	}, result, abandon)

	var lease *deviceLease
	select {
	case r := <-result:
		if r.err != nil {
			if ctx.Err() != nil {
				return s, c.abort(s, ctx.Err(), timed)
			}
			ce := Classify(r.err)
			if ce.Kind == KindPermissionDenied {
				c.cfg.Permissions.Set(PermissionDenied)
			}
			return s, c.fail(s, ce)
		}
		lease = r.lease
	case <-timeout:
		close(abandon)
		return s, c.fail(s, newError(KindTimeout, fmt.Errorf("no answer to device access within %s", c.cfg.AccessTimeout)))
	case <-s.stopped:
		close(abandon)
		return s, newError(KindCancelled, nil)
	case <-ctx.Done():
		close(abandon)
		return s, c.abort(s, ctx.Err(), timed)
	}

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		lease.release()
		return s, newError(KindCancelled, nil)
	}
	s.lease = lease
	s.mu.Unlock()
	if !c.transition(s, StatusActive, nil) {
		return s, newError(KindCancelled, nil)
	}

	// Attach under the session lock so a concurrent stop either sees the
	// sink attached or finds the session already Stopped here.
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return s, newError(KindCancelled, nil)
	}
	ready := c.sink.Attach(lease.stream)
	s.attached = true
	s.mu.Unlock()

	rt := time.NewTimer(c.cfg.ReadyTimeout)
	defer rt.Stop()
	select {
	case err := <-ready:
		if err != nil {
			return s, c.fail(s, newError(KindPlaybackFailed, err))
		}
	case <-rt.C:
		return s, c.fail(s, newError(KindPlaybackFailed, fmt.Errorf("no frame within %s", c.cfg.ReadyTimeout)))
	case <-s.stopped:
		return s, newError(KindCancelled, nil)
	case <-ctx.Done():
		return s, c.abort(s, ctx.Err(), timed)
	}

	if !c.transition(s, StatusReady, nil) {
		return s, newError(KindCancelled, nil)
	}
	c.cfg.Permissions.Set(PermissionGranted)
	return s, nil
}

// acquire runs device access on behalf of s. A stream that arrives after
// the starter gave up is released here instead of being delivered.
func (c *Controller) acquire(ctx context.Context, s *Session, cons Constraints, result chan<- acquireResult, abandon <-chan struct{}) {
	select {
	case c.slot <- struct{}{}:
	case <-abandon:
		return
	}

	stream, err := c.devices.GetUserMedia(ctx, cons)
	if err != nil {
		<-c.slot
		select {
		case result <- acquireResult{err: err}:
		case <-abandon:
		}
		return
	}

	lease := &deviceLease{stream: stream, slot: c.slot}
	select {
	case result <- acquireResult{lease: lease}:
	case <-abandon:
		log.Info("late_stream_released: " + s.ID)
		lease.release()
	}
}

// fail moves s to Error and releases whatever it holds. A session that was
// stopped in the meantime stays Stopped.
func (c *Controller) fail(s *Session, ce *CaptureError) *CaptureError {
	s.mu.Lock()
	lease, attached := s.lease, s.attached
	s.lease, s.attached = nil, false
	s.mu.Unlock()
	if attached {
		c.sink.Detach()
	}
	lease.release()

	log.CameraError(s.ID, ce.Kind.String(), ce.Kind.Retryable(), ce.Err)
	c.transition(s, StatusError, ce)
	return ce
}

// abort ends s because the caller's context is done. A deadline only
// reads as a timeout when the access timer was armed; otherwise the
// session is stopped like any other cancellation.
func (c *Controller) abort(s *Session, err error, timed bool) *CaptureError {
	ce := Classify(err)
	if ce.Kind == KindTimeout && !timed {
		ce = newError(KindCancelled, err)
	}
	if ce.Kind == KindCancelled {
		c.StopCapture(s)
		return ce
	}
	return c.fail(s, ce)
}

func (c *Controller) transition(s *Session, to Status, ce *CaptureError) bool {
	s.mu.Lock()
	from := s.status
	if !canTransition(from, to) {
		s.mu.Unlock()
		if from != StatusStopped {
			log.Warnf("camera: illegal transition %s -> %s", from, to)
		}
		return false
	}
	s.status = to
	if to == StatusRequestingAccess {
		s.lastErr = nil
	}
	if ce != nil {
		s.lastErr = ce
	}
	s.mu.Unlock()

	kind := ""
	if ce != nil {
		kind = ce.Kind.String()
	}
	log.CameraTransition(s.ID, from.String(), to.String(), kind)
	c.publish(Transition{SessionID: s.ID, From: from, To: to, Err: ce, At: time.Now()})
	return true
}

func (c *Controller) publish(t Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// StopCapture releases the session's stream and detaches the preview. It
// is safe from any state, including while StartCapture is still waiting
// for the device, and a no-op on a Stopped session.
func (c *Controller) StopCapture(s *Session) {
	if s == nil {
		return
	}
	s.requestStop()

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	from := s.status
	s.status = StatusStopped
	lease, attached := s.lease, s.attached
	s.lease, s.attached = nil, false
	s.mu.Unlock()

	if attached {
		c.sink.Detach()
	}
	lease.release()

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	log.CameraTransition(s.ID, from.String(), StatusStopped.String(), "")
	c.publish(Transition{SessionID: s.ID, From: from, To: StatusStopped, At: time.Now()})
}

// CaptureFrame encodes the current preview picture. It never changes the
// session's state; stopping after a capture is the caller's choice.
func (c *Controller) CaptureFrame(ctx context.Context, s *Session) (*CapturedFrame, error) {
	if s == nil {
		return nil, newError(KindNotReady, nil)
	}
	s.mu.Lock()
	if s.status != StatusReady {
		st := s.status
		s.mu.Unlock()
		return nil, newError(KindNotReady, fmt.Errorf("session is %s", st))
	}
	native := streamSettings(s.lease.stream)
	s.mu.Unlock()

	img, err := c.sink.Snapshot()
	if err != nil {
		return nil, newError(KindEncodeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}

	w, h := native.Width, native.Height
	if w <= 0 || h <= 0 {
		w, h = c.cfg.Width, c.cfg.Height
	}

	start := time.Now()
	data, err := encodeJPEG(img, w, h, c.cfg.Quality)
	if err != nil {
		ce := newError(KindEncodeFailed, err)
		log.CameraError(s.ID, ce.Kind.String(), false, err)
		return nil, ce
	}
	elapsed := time.Since(start)
	log.FrameCaptured(s.ID, w, h, len(data), float64(elapsed.Microseconds())/1000)

	return &CapturedFrame{
		SessionID:  s.ID,
		Data:       data,
		Width:      w,
		Height:     h,
		CapturedAt: time.Now(),
		EncodeTime: elapsed,
	}, nil
}

// encodeJPEG draws img into a w x h canvas and encodes it. The same input
// always yields the same bytes.
func encodeJPEG(img image.Image, w, h, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("no frame available")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("empty frame")
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close stops the current session and refuses new ones.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cur := c.current
	c.mu.Unlock()

	c.StopCapture(cur)

	c.mu.Lock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.mu.Unlock()
}
