package camera

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

var errStreamEnded = errors.New("stream ended before first frame")

// FrameSink is the default PreviewSink. It keeps the latest frame of the
// attached stream and resolves the readiness future on the first one.
// OnFrame, if set, is called from the pump goroutine for every frame.
type FrameSink struct {
	OnFrame func(image.Image)

	mu     sync.Mutex
	latest image.Image
	gen    uint64 // bumped on every Attach/Detach
	done   chan struct{}

	frameCount  atomic.Uint64
	lastFrameAt atomic.Int64
}

func NewFrameSink() *FrameSink {
	return &FrameSink{}
}

func (fs *FrameSink) Attach(s Stream) <-chan error {
	ready := make(chan error, 1)

	fs.mu.Lock()
	if fs.done != nil {
		close(fs.done)
	}
	fs.gen++
	gen := fs.gen
	done := make(chan struct{})
	fs.done = done
	fs.latest = nil
	fs.mu.Unlock()

	go fs.pump(s.Frames(), gen, done, ready)
	return ready
}

func (fs *FrameSink) pump(frames <-chan image.Image, gen uint64, done <-chan struct{}, ready chan<- error) {
	first := true
	for {
		select {
		case <-done:
			if first {
				ready <- errors.New("preview detached")
			}
			return
		case img, ok := <-frames:
			if !ok {
				if first {
					ready <- errStreamEnded
				}
				return
			}
			if img == nil || img.Bounds().Empty() {
				continue
			}
			fs.mu.Lock()
			if fs.gen != gen {
				fs.mu.Unlock()
				return
			}
			fs.latest = img
			fs.mu.Unlock()
			fs.frameCount.Add(1)
			fs.lastFrameAt.Store(time.Now().UnixNano())
			if cb := fs.OnFrame; cb != nil {
				cb(img)
			}
			if first {
				first = false
				ready <- nil
			}
		}
	}
}

func (fs *FrameSink) Detach() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.done != nil {
		close(fs.done)
		fs.done = nil
	}
	fs.gen++
	fs.latest = nil
}

// Snapshot returns the frame currently on display.
func (fs *FrameSink) Snapshot() (image.Image, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.latest == nil {
		return nil, errors.New("no frame on display")
	}
	return fs.latest, nil
}

// Latest is Snapshot without the error, for renderers.
func (fs *FrameSink) Latest() image.Image {
	img, _ := fs.Snapshot()
	return img
}

func (fs *FrameSink) FrameCount() uint64 { return fs.frameCount.Load() }

func (fs *FrameSink) LastFrameTime() time.Time {
	n := fs.lastFrameAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
