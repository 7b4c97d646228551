//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"nutriscan/log"
)

const (
	v4l2FPS              = 15
	permissionPollPeriod = 2 * time.Second
)

type v4l2Devices struct {
	ffmpeg string
	devDir string
	sysDir string
}

// NewMediaDevices returns the V4L2 capability. Frames are read through an
// ffmpeg subprocess, so a missing ffmpeg binary means NotSupported.
func NewMediaDevices() (MediaDevices, error) {
	bin := os.Getenv("NUTRISCAN_FFMPEG")
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, newError(KindNotSupported, fmt.Errorf("ffmpeg: %w", err))
	}
	return &v4l2Devices{ffmpeg: path, devDir: "/dev", sysDir: "/sys/class/video4linux"}, nil
}

func (v *v4l2Devices) Devices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(v.devDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", v.devDir, err)
	}
	var devs []DeviceInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		// Each UVC camera exposes a metadata node with index 1.
		if idx, err := os.ReadFile(filepath.Join(v.sysDir, name, "index")); err == nil && strings.TrimSpace(string(idx)) != "0" {
			continue
		}
		label := "Camera " + name
		if b, err := os.ReadFile(filepath.Join(v.sysDir, name, "name")); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				label = s
			}
		}
		devs = append(devs, DeviceInfo{
			ID:     filepath.Join(v.devDir, name),
			Name:   label,
			Facing: GuessFacing(label),
		})
	}
	sort.Slice(devs, func(i, j int) bool { return videoIndex(devs[i].ID) < videoIndex(devs[j].ID) })
	return devs, nil
}

func videoIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func (v *v4l2Devices) QueryPermission() PermissionState {
	devs, err := v.Devices()
	if err != nil || len(devs) == 0 {
		return PermissionUnknown
	}
	denied := false
	for _, d := range devs {
		err := unix.Access(d.ID, unix.R_OK|unix.W_OK)
		if err == nil {
			return PermissionGranted
		}
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			denied = true
		}
	}
	if denied {
		return PermissionDenied
	}
	return PermissionUnknown
}

// WatchPermission polls device access, since group membership changes do
// not produce events.
func (v *v4l2Devices) WatchPermission(ctx context.Context) <-chan PermissionState {
	ch := make(chan PermissionState, 1)
	go func() {
		defer close(ch)
		last := v.QueryPermission()
		ticker := time.NewTicker(permissionPollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cur := v.QueryPermission()
			if cur == last {
				continue
			}
			last = cur
			select {
			case ch <- cur:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (v *v4l2Devices) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	devs, err := v.Devices()
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, newError(KindDeviceNotFound, errors.New("no video capture devices"))
	}
	dev := pickDevice(devs, c)
	if err := unix.Access(dev.ID, unix.R_OK|unix.W_OK); err != nil {
		return nil, &os.PathError{Op: "access", Path: dev.ID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(v.ffmpeg, ffmpegArgs(dev.ID, c.Width, c.Height, v4l2FPS)...)
	st := &ffmpegStream{
		cmd:    cmd,
		device: dev.ID,
		frames: make(chan image.Image, 1),
		stop:   make(chan struct{}),
	}
	cmd.Stderr = &st.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	log.Info(fmt.Sprintf("v4l2_open: %s (%s) pid=%d", dev.ID, dev.Name, cmd.Process.Pid))

	st.track = &ffmpegTrack{s: st}
	go st.read(NewMJPEGReader(stdout))
	return st, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	device string
	stderr bytes.Buffer
	frames chan image.Image
	track  *ffmpegTrack
	stop   chan struct{}
	once   sync.Once

	width  atomic.Int32
	height atomic.Int32
}

func (s *ffmpegStream) Tracks() []Track            { return []Track{s.track} }
func (s *ffmpegStream) Frames() <-chan image.Image { return s.frames }

func (s *ffmpegStream) read(r *MJPEGReader) {
	defer close(s.frames)
	err := s.pump(r)

	s.cmd.Process.Kill()
	s.cmd.Wait() // reap; stderr is complete after this
	select {
	case <-s.stop:
	default:
		log.Warnf("v4l2 %s: stream ended: %v %s", s.device, err, strings.TrimSpace(s.stderr.String()))
	}
}

func (s *ffmpegStream) pump(r *MJPEGReader) error {
	for {
		data, err := r.Next()
		if err != nil {
			return err
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		b := img.Bounds()
		s.width.Store(int32(b.Dx()))
		s.height.Store(int32(b.Dy()))

		// Latest frame wins.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- img:
		case <-s.stop:
			return nil
		}
	}
}

type ffmpegTrack struct {
	s *ffmpegStream
}

func (t *ffmpegTrack) Stop() {
	t.s.once.Do(func() {
		close(t.s.stop)
		if t.s.cmd.Process != nil {
			t.s.cmd.Process.Kill()
		}
		log.Info("v4l2_close: " + t.s.device)
	})
}

func (t *ffmpegTrack) Settings() Settings {
	return Settings{
		DeviceID: t.s.device,
		Width:    int(t.s.width.Load()),
		Height:   int(t.s.height.Load()),
	}
}
