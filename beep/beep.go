// Package beep plays the shutter, scan-done and error cues.
package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process (test mode, -quiet).
func Disable() { disabled.Store(true) }

const sampleRate = 44100

// tone is an exponentially decaying sine burst.
type tone struct {
	freq   float64
	dur    float64 // seconds
	volume float64
	decay  float64
}

var (
	// Shutter: two quick high clicks, like a mechanical shutter.
	shutterTone = tone{freq: 2400, dur: 0.025, volume: 0.45, decay: 140}
	shutterGap  = 0.035

	// Done: a single mid tick once the backend answers.
	doneTone = tone{freq: 900, dur: 0.2, volume: 0.5, decay: 40}

	// Error: low double beep.
	errorTone = tone{freq: 350, dur: 0.08, volume: 0.6, decay: 30}
	errorGap  = 0.05
)

// synth renders t as interleaved int16 samples with the given channel count.
func synth(t tone, rate, channels int) []int16 {
	n := int(float64(rate) * t.dur)
	out := make([]int16, n*channels)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(rate)
		s := int16(math.Sin(2*math.Pi*t.freq*x) * 32767 * t.volume * math.Exp(-x*t.decay))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// twice renders t, a gap of silence, then t again.
func twice(t tone, gap float64, rate, channels int) []int16 {
	one := synth(t, rate, channels)
	silence := int(float64(rate)*gap) * channels
	out := make([]int16, 0, 2*len(one)+silence)
	out = append(out, one...)
	out = append(out, make([]int16, silence)...)
	return append(out, one...)
}

// le16 packs samples as little-endian bytes for byte-oriented backends.
func le16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
