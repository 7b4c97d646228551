//go:build !linux

package camera

import (
	"fmt"
	"runtime"
)

func NewMediaDevices() (MediaDevices, error) {
	return nil, newError(KindNotSupported, fmt.Errorf("no camera backend for %s", runtime.GOOS))
}
