//go:build gui

package main

import (
	"nutriscan/camera"
	"nutriscan/gui"
	"nutriscan/log"
	"nutriscan/scan"
)

func runGUI(p *scan.Pipeline, sink *camera.FrameSink) error {
	app := gui.NewApp(gui.Options{
		Pipeline: p,
		Preview:  sink,
		Facing:   currentFacing(),
		Mode:     analysisMode,
		OnReady:  func() { log.Info("gui_ready") },
		OnQuit:   gracefulShutdown,
	})
	return gui.Run(app)
}
