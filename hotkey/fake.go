package hotkey

// FakeHotkey is driven by Press/Release, for tests and -test mode.
type FakeHotkey struct {
	down chan struct{}
	up   chan struct{}
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		down: make(chan struct{}, 1),
		up:   make(chan struct{}, 1),
	}
}

func (f *FakeHotkey) Register() error          { return nil }
func (f *FakeHotkey) Unregister()              {}
func (f *FakeHotkey) Keydown() <-chan struct{} { return f.down }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.up }

func (f *FakeHotkey) Press()   { f.down <- struct{}{} }
func (f *FakeHotkey) Release() { f.up <- struct{}{} }

// Tap is Press followed by Release.
func (f *FakeHotkey) Tap() {
	f.Press()
	f.Release()
}
