//go:build !gui

package main

import (
	"errors"

	"nutriscan/camera"
	"nutriscan/scan"
)

func runGUI(*scan.Pipeline, *camera.FrameSink) error {
	return errors.New("built without GUI support (rebuild with -tags gui)")
}
