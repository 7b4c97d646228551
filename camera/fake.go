package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

const fakeFrameInterval = 33 * time.Millisecond

// FakeDevices is a scriptable MediaDevices for tests and the headless
// test mode. Configure the exported fields before first use.
type FakeDevices struct {
	DeviceList      []DeviceInfo
	Permission      PermissionState
	AccessDelay     time.Duration
	AccessErr       error
	FirstFrameDelay time.Duration
	NoFrames        bool // stream opens but never produces a frame
	Width, Height   int
	HideSettings    bool // tracks report no native resolution

	mu       sync.Mutex
	gate     *fakeGate
	watchers []chan PermissionState

	patternOnce sync.Once
	pattern     image.Image

	open     atomic.Int32
	maxOpen  atomic.Int32
	requests atomic.Int32
	pending  atomic.Int32
}

type fakeGate struct {
	done chan struct{}
	err  error
}

func NewFakeDevices() *FakeDevices {
	return &FakeDevices{
		DeviceList: []DeviceInfo{
			{ID: "fake0", Name: "Fake Back Camera", Facing: FacingEnvironment},
			{ID: "fake1", Name: "Fake Front Camera", Facing: FacingUser},
		},
		Permission: PermissionPrompt,
		Width:      1280,
		Height:     720,
	}
}

func (f *FakeDevices) Devices() ([]DeviceInfo, error) { return f.DeviceList, nil }

func (f *FakeDevices) QueryPermission() PermissionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Permission == "" {
		return PermissionUnknown
	}
	return f.Permission
}

// SetPermission changes the reported state and notifies watchers.
func (f *FakeDevices) SetPermission(s PermissionState) {
	f.mu.Lock()
	f.Permission = s
	watchers := f.watchers
	f.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- s:
		default:
		}
	}
}

func (f *FakeDevices) WatchPermission(ctx context.Context) <-chan PermissionState {
	ch := make(chan PermissionState, 4)
	f.mu.Lock()
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()
	return ch
}

// Hold makes subsequent access requests block until Resolve is called,
// like a permission prompt nobody has answered yet.
func (f *FakeDevices) Hold() {
	f.mu.Lock()
	f.gate = &fakeGate{done: make(chan struct{})}
	f.mu.Unlock()
}

// Resolve answers held requests: nil grants, anything else rejects.
func (f *FakeDevices) Resolve(err error) {
	f.mu.Lock()
	g := f.gate
	f.gate = nil
	f.mu.Unlock()
	if g != nil {
		g.err = err
		close(g.done)
	}
}

// OpenStreams is the number of streams with at least one live track.
func (f *FakeDevices) OpenStreams() int    { return int(f.open.Load()) }
func (f *FakeDevices) MaxOpenStreams() int { return int(f.maxOpen.Load()) }
func (f *FakeDevices) Requests() int       { return int(f.requests.Load()) }

// Pending is the number of access requests currently blocked.
func (f *FakeDevices) Pending() int { return int(f.pending.Load()) }

func (f *FakeDevices) GetUserMedia(_ context.Context, c Constraints) (Stream, error) {
	f.requests.Add(1)

	f.mu.Lock()
	g := f.gate
	f.mu.Unlock()

	f.pending.Add(1)
	if f.AccessDelay > 0 {
		time.Sleep(f.AccessDelay)
	}
	if g != nil {
		<-g.done
	}
	f.pending.Add(-1)

	if g != nil && g.err != nil {
		return nil, g.err
	}
	if f.AccessErr != nil {
		return nil, f.AccessErr
	}
	if len(f.DeviceList) == 0 {
		return nil, ErrDeviceNotFound
	}

	dev := pickDevice(f.DeviceList, c)
	st := newFakeStream(f, dev.ID)
	n := f.open.Add(1)
	for {
		m := f.maxOpen.Load()
		if n <= m || f.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}
	go st.produce()
	return st, nil
}

type fakeStream struct {
	dev    *FakeDevices
	frames chan image.Image
	tracks []Track
	stop   chan struct{}
	once   sync.Once
	w, h   int
	id     string
}

func (f *FakeDevices) size() (int, int) {
	if f.Width <= 0 || f.Height <= 0 {
		return DefaultWidth, DefaultHeight
	}
	return f.Width, f.Height
}

// frame is the picture every stream of f shows, drawn on first use.
func (f *FakeDevices) frame() image.Image {
	f.patternOnce.Do(func() {
		f.pattern = TestPattern(f.size())
	})
	return f.pattern
}

func newFakeStream(f *FakeDevices, id string) *fakeStream {
	w, h := f.size()
	s := &fakeStream{
		dev:    f,
		frames: make(chan image.Image, 1),
		stop:   make(chan struct{}),
		w:      w,
		h:      h,
		id:     id,
	}
	s.tracks = []Track{&fakeTrack{s: s}}
	return s
}

func (s *fakeStream) Tracks() []Track            { return s.tracks }
func (s *fakeStream) Frames() <-chan image.Image { return s.frames }

func (s *fakeStream) close() {
	s.once.Do(func() {
		close(s.stop)
		s.dev.open.Add(-1)
	})
}

func (s *fakeStream) produce() {
	defer close(s.frames)
	if s.dev.NoFrames {
		<-s.stop
		return
	}
	if d := s.dev.FirstFrameDelay; d > 0 {
		select {
		case <-s.stop:
			return
		case <-time.After(d):
		}
	}
	frame := s.dev.frame()
	ticker := time.NewTicker(fakeFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case s.frames <- frame:
		default:
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

type fakeTrack struct {
	s *fakeStream
}

func (t *fakeTrack) Stop() { t.s.close() }

func (t *fakeTrack) Settings() Settings {
	if t.s.dev.HideSettings {
		return Settings{DeviceID: t.s.id}
	}
	return Settings{DeviceID: t.s.id, Width: t.s.w, Height: t.s.h}
}

// TestPattern returns a deterministic gradient image.
func TestPattern(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		g := uint8(y * 255 / max(h-1, 1))
		for x := 0; x < w; x++ {
			row[4*x] = uint8(x * 255 / max(w-1, 1))
			row[4*x+1] = g
			row[4*x+2] = 128
			row[4*x+3] = 255
		}
	}
	return img
}
