package beep

import (
	"math"
	"testing"
)

func TestSynthLengthAndChannels(t *testing.T) {
	for _, tt := range []struct {
		name     string
		channels int
	}{
		{"mono", 1},
		{"stereo", 2},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := synth(doneTone, sampleRate, tt.channels)
			frames := int(sampleRate * doneTone.dur)
			if len(s) != frames*tt.channels {
				t.Fatalf("len = %d, want %d", len(s), frames*tt.channels)
			}
			if tt.channels == 2 {
				for i := 0; i < len(s); i += 2 {
					if s[i] != s[i+1] {
						t.Fatalf("frame %d: L=%d R=%d", i/2, s[i], s[i+1])
					}
				}
			}
		})
	}
}

func TestSynthDecays(t *testing.T) {
	s := synth(errorTone, sampleRate, 1)
	peak := func(from, to int) float64 {
		var p float64
		for _, v := range s[from:to] {
			p = math.Max(p, math.Abs(float64(v)))
		}
		return p
	}
	q := len(s) / 4
	if early, late := peak(0, q), peak(3*q, len(s)); late >= early {
		t.Errorf("envelope did not decay: early peak %.0f, late peak %.0f", early, late)
	}
	if limit := 32767 * errorTone.volume; peak(0, len(s)) > limit+1 {
		t.Errorf("peak exceeds volume limit %.0f", limit)
	}
}

func TestTwiceHasSilentGap(t *testing.T) {
	one := synth(shutterTone, sampleRate, 1)
	gap := int(sampleRate * shutterGap)
	s := twice(shutterTone, shutterGap, sampleRate, 1)
	if len(s) != 2*len(one)+gap {
		t.Fatalf("len = %d, want %d", len(s), 2*len(one)+gap)
	}
	for i, v := range s[len(one) : len(one)+gap] {
		if v != 0 {
			t.Fatalf("gap sample %d = %d", i, v)
		}
	}
}

func TestLE16(t *testing.T) {
	got := le16([]int16{1, -2, 0x1234})
	want := []byte{0x01, 0x00, 0xFE, 0xFF, 0x34, 0x12}
	if string(got) != string(want) {
		t.Errorf("le16 = % x, want % x", got, want)
	}
}
