package camera

import "strings"

var (
	userKeywords        = []string{"front", "user", "integrated", "facetime", "webcam", "built-in"}
	environmentKeywords = []string{"back", "rear", "environment", "world", "document", "usb camera"}
)

// GuessFacing infers a facing from a device name. Laptop webcams face the
// user; "rear"/"back" style names face the environment.
func GuessFacing(name string) Facing {
	lower := strings.ToLower(name)
	for _, kw := range environmentKeywords {
		if strings.Contains(lower, kw) {
			return FacingEnvironment
		}
	}
	for _, kw := range userKeywords {
		if strings.Contains(lower, kw) {
			return FacingUser
		}
	}
	return ""
}

// pickDevice honors an exact DeviceID, then the facing hint, then falls
// back to the first device. devs must not be empty.
func pickDevice(devs []DeviceInfo, c Constraints) DeviceInfo {
	if c.DeviceID != "" {
		for _, d := range devs {
			if d.ID == c.DeviceID || d.Name == c.DeviceID {
				return d
			}
		}
	}
	if c.Facing != "" {
		for _, d := range devs {
			if d.Facing == c.Facing {
				return d
			}
		}
	}
	return devs[0]
}

// FindDevice looks a device up by ID or name.
func FindDevice(devs []DeviceInfo, idOrName string) (DeviceInfo, bool) {
	for _, d := range devs {
		if d.ID == idOrName || d.Name == idOrName {
			return d, true
		}
	}
	return DeviceInfo{}, false
}
