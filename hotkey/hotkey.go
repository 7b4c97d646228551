// Package hotkey delivers the global shutter key (Ctrl+Shift+S) while the
// terminal or preview window is not focused.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Combo is the human-readable shutter binding.
const Combo = "Ctrl+Shift+S"
