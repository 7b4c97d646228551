package gui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// trayIconPNG draws the tray icon: a lens ring around a green core.
func trayIconPNG(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	outer := c - 1
	inner := outer * 0.55
	core := outer * 0.3
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-c+0.5, float64(y)-c+0.5)
			switch {
			case d < core:
				img.Set(x, y, color.NRGBA{70, 200, 110, 255})
			case d < inner:
				img.Set(x, y, color.NRGBA{30, 30, 30, 255})
			case d < outer:
				img.Set(x, y, color.NRGBA{200, 200, 200, 255})
			}
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
