package camera

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"
)

func firstFrame(t *testing.T, st Stream) image.Image {
	t.Helper()
	select {
	case img := <-st.Frames():
		return img
	case <-time.After(time.Second):
		t.Fatal("no frame")
	}
	return nil
}

func TestFakeStreamsShareFrame(t *testing.T) {
	fd := NewFakeDevices()
	ctx := context.Background()

	a, err := fd.GetUserMedia(ctx, Constraints{Facing: FacingEnvironment})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Tracks()[0].Stop()
	b, err := fd.GetUserMedia(ctx, Constraints{Facing: FacingUser})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Tracks()[0].Stop()

	fa, fb := firstFrame(t, a), firstFrame(t, b)
	if fa != fb {
		t.Error("streams drew separate frames")
	}
	if bounds := fa.Bounds(); bounds.Dx() != 1280 || bounds.Dy() != 720 {
		t.Errorf("frame %dx%d, want 1280x720", bounds.Dx(), bounds.Dy())
	}
}

func TestPatternGradient(t *testing.T) {
	img := TestPattern(5, 3)
	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{0, 0, 128, 255}},
		{4, 0, color.RGBA{255, 0, 128, 255}},
		{0, 2, color.RGBA{0, 255, 128, 255}},
		{2, 1, color.RGBA{127, 127, 128, 255}},
	}
	for _, tt := range tests {
		if got := img.At(tt.x, tt.y); got != tt.want {
			t.Errorf("At(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}
