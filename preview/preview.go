// Package preview renders camera frames as half-block terminal art.
package preview

import (
	"image"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"
)

// Each cell shows two vertically stacked pixels: the foreground colors the
// upper half block, the background the lower one.
const halfBlock = "▀"

type cellKey struct{ fg, bg uint8 }

var (
	styleMu    sync.Mutex
	styleCache = map[cellKey]lipgloss.Style{}
)

func cellStyle(fg, bg uint8) lipgloss.Style {
	k := cellKey{fg, bg}
	styleMu.Lock()
	defer styleMu.Unlock()
	if s, ok := styleCache[k]; ok {
		return s
	}
	s := lipgloss.NewStyle().
		Foreground(lipgloss.Color(strconv.Itoa(int(fg)))).
		Background(lipgloss.Color(strconv.Itoa(int(bg))))
	styleCache[k] = s
	return s
}

// ansi256 maps an 8-bit RGB triple onto the 6x6x6 xterm color cube.
func ansi256(r, g, b uint8) uint8 {
	q := func(v uint8) int { return (int(v)*5 + 127) / 255 }
	return uint8(16 + 36*q(r) + 6*q(g) + q(b))
}

// Fit returns the largest cell grid that fits maxW x maxH and keeps the
// image's aspect ratio. A cell is one pixel wide and two pixels tall.
func Fit(imgW, imgH, maxW, maxH int) (w, h int) {
	if imgW <= 0 || imgH <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	w = maxW
	h = (w*imgH/imgW + 1) / 2
	if h > maxH {
		h = maxH
		w = h * 2 * imgW / imgH
	}
	return max(w, 1), max(h, 1)
}

// Render scales img to w x 2h pixels and draws it as h lines of w cells.
func Render(img image.Image, w, h int) string {
	if img == nil || w <= 0 || h <= 0 || img.Bounds().Empty() {
		return Placeholder(w, h, "no picture")
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h*2))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var out strings.Builder
	out.Grow(w * h * 24)
	for cy := 0; cy < h; cy++ {
		for cx := 0; cx < w; cx++ {
			top := dst.RGBAAt(cx, cy*2)
			bot := dst.RGBAAt(cx, cy*2+1)
			out.WriteString(cellStyle(ansi256(top.R, top.G, top.B), ansi256(bot.R, bot.G, bot.B)).Render(halfBlock))
		}
		if cy < h-1 {
			out.WriteByte('\n')
		}
	}
	return out.String()
}

var placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

// Placeholder fills a w x h area with centered text.
func Placeholder(w, h int, text string) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	return lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, placeholderStyle.Render(text))
}
