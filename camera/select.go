package camera

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

func facingTag(f Facing) string {
	switch f {
	case FacingUser:
		return " \x1b[2m(front)\x1b[0m"
	case FacingEnvironment:
		return " \x1b[2m(back)\x1b[0m"
	}
	return ""
}

// SelectDevice presents an interactive camera picker and returns the selected device.
// If only one camera is available, it returns that device without prompting.
func SelectDevice(md MediaDevices) (*DeviceInfo, error) {
	devices, err := md.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating cameras: %w", err)
	}

	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderList := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select camera (↑/↓, Enter to confirm, Esc to cancel):\r\n\r\n")
		for i, d := range devices {
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s\x1b[0m%s\r\n", d.Name, facingTag(d.Facing))
			} else {
				fmt.Printf("    %s%s\r\n", d.Name, facingTag(d.Facing))
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				return &devices[cursor], nil
			case 3, 27: // Ctrl+C, Esc
				fmt.Print("\r\n")
				return nil, nil
			case 'j':
				if cursor < len(devices)-1 {
					cursor++
				}
			case 'k':
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				if cursor > 0 {
					cursor--
				}
			case 'B':
				if cursor < len(devices)-1 {
					cursor++
				}
			}
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		renderList()
	}
}
