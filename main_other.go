//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	// The preview window needs the main thread for itself, so the hotkey
	// runloop is skipped.
	for _, arg := range os.Args[1:] {
		if arg == "-gui" {
			run()
			return
		}
	}
	mainthread.Init(run)
}
