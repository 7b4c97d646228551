// Package clipboard copies scan summaries to the system clipboard.
package clipboard

import (
	"errors"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported means no clipboard utility was found (xclip, xsel,
// wl-clipboard on Linux).
var ErrUnsupported = errors.New("no clipboard utility available (install xclip, xsel or wl-clipboard)")

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// Check writes a probe value and reads it back, then restores what was there.
func Check() error {
	prev, err := Read()
	if err != nil {
		return err
	}
	const probe = "nutriscan-clipboard-check"
	if err := Copy(probe); err != nil {
		return err
	}
	got, err := Read()
	restoreErr := Copy(prev)
	if err != nil {
		return err
	}
	if got != probe {
		return errors.New("clipboard did not keep the copied text")
	}
	return restoreErr
}
