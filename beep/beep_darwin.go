//go:build darwin

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	shutterBytes []byte
	doneBytes    []byte
	errorBytes   []byte
	soundOnce    sync.Once

	// read from the device callback
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
	playMu  sync.Mutex
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: fill})
	return err
}

func initSound() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	shutterBytes = le16(twice(shutterTone, shutterGap, sampleRate, 1))
	doneBytes = le16(synth(tone{freq: doneTone.freq, dur: 0.05, volume: doneTone.volume, decay: doneTone.decay}, sampleRate, 1))
	errorBytes = le16(twice(errorTone, errorGap, sampleRate, 1))

	if err := initDevice(); err != nil {
		malgoCtx.Uninit()
		malgoCtx = nil
	}
}

func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	var n uint32
	if s := current.Load(); s != nil {
		p := pos.Load()
		if rem := uint32(len(*s)) - p; rem > 0 {
			n = min(want, rem)
			copy(out[:n], (*s)[p:p+n])
			pos.Store(p + n)
		} else {
			current.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(samples []byte) {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	if malgoCtx == nil || len(samples) == 0 {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()
	if device == nil {
		return
	}
	device.Stop()
	pos.Store(0)
	current.Store(&samples)

	if err := device.Start(); err != nil {
		// The device goes stale across sleep/wake; recreate once.
		device.Uninit()
		if err := initDevice(); err != nil {
			current.Store(nil)
			return
		}
		if err := device.Start(); err != nil {
			current.Store(nil)
		}
	}
}

func Init() { soundOnce.Do(initSound) }

func PlayShutter() { play(shutterBytes) }
func PlayDone()    { play(doneBytes) }
func PlayError()   { play(errorBytes) }
