//go:build gui

package gui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// scannerTheme is a dark theme with a green accent so the live preview
// dominates the window.
type scannerTheme struct{}

var palette = map[fyne.ThemeColorName]color.Color{
	theme.ColorNameBackground:      color.NRGBA{R: 16, G: 18, B: 17, A: 255},
	theme.ColorNameForeground:      color.NRGBA{R: 214, G: 220, B: 216, A: 255},
	theme.ColorNamePrimary:         color.NRGBA{R: 76, G: 190, B: 120, A: 255},
	theme.ColorNameError:           color.NRGBA{R: 240, G: 96, B: 80, A: 255},
	theme.ColorNameButton:          color.NRGBA{R: 34, G: 38, B: 36, A: 255},
	theme.ColorNameDisabledButton:  color.NRGBA{R: 26, G: 28, B: 27, A: 255},
	theme.ColorNamePlaceHolder:     color.NRGBA{R: 120, G: 128, B: 124, A: 255},
	theme.ColorNameInputBackground: color.NRGBA{R: 28, G: 31, B: 30, A: 255},
}

func (scannerTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	if c, ok := palette[name]; ok {
		return c
	}
	return theme.DefaultTheme().Color(name, theme.VariantDark)
}

func (scannerTheme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (scannerTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (scannerTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameText:
		return 13
	case theme.SizeNamePadding:
		return 5
	}
	return theme.DefaultTheme().Size(name)
}
