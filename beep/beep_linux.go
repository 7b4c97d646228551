//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

var (
	shutterSamples []int16
	doneSamples    []int16
	errorSamples   []int16
	soundOnce      sync.Once
)

func initSound() {
	// PulseAudio wants a short tail so the buffer fills before drain.
	tail := synth(tone{dur: 0.15}, sampleRate, 2)
	shutterSamples = append(twice(shutterTone, shutterGap, sampleRate, 2), tail...)
	doneSamples = synth(doneTone, sampleRate, 2)
	errorSamples = twice(errorTone, errorGap, sampleRate, 2)
}

func playSamples(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c, err := pulse.NewClient()
	if err != nil {
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
	stream.Stop()
}

func play(samples *[]int16) {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	go playSamples(*samples)
}

func Init() { soundOnce.Do(initSound) }

func PlayShutter() { play(&shutterSamples) }
func PlayDone()    { play(&doneSamples) }
func PlayError()   { play(&errorSamples) }
