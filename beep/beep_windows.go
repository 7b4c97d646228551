//go:build windows

package beep

// No playback backend on Windows; cues are silent.

func Init()        {}
func PlayShutter() {}
func PlayDone()    {}
func PlayError()   {}
