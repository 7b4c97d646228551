package hotkey

import (
	"testing"
	"time"
)

func nextAction(t *testing.T, s *Shutter) Action {
	t.Helper()
	select {
	case a := <-s.Actions():
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shutter action")
		return 0
	}
}

func noAction(t *testing.T, s *Shutter, d time.Duration) {
	t.Helper()
	select {
	case a := <-s.Actions():
		t.Fatalf("unexpected action %v", a)
	case <-time.After(d):
	}
}

func TestShutterTapCaptures(t *testing.T) {
	fk := NewFake()
	s := NewShutter(fk, 200*time.Millisecond)
	defer s.Close()

	fk.Tap()
	if a := nextAction(t, s); a != ActionCapture {
		t.Errorf("tap = %v, want capture", a)
	}
}

func TestShutterHoldToggles(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	s := NewShutter(fk, threshold)
	defer s.Close()

	fk.Press()
	// fires at the threshold, before release
	if a := nextAction(t, s); a != ActionToggle {
		t.Errorf("hold = %v, want toggle", a)
	}
	fk.Release()
	noAction(t, s, 3*threshold)
}

func TestShutterMixedCycles(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	s := NewShutter(fk, threshold)
	defer s.Close()

	want := []Action{ActionToggle, ActionCapture, ActionCapture, ActionToggle}
	for i, a := range want {
		if a == ActionToggle {
			fk.Press()
			if got := nextAction(t, s); got != a {
				t.Fatalf("cycle %d: %v, want %v", i, got, a)
			}
			fk.Release()
			continue
		}
		fk.Tap()
		if got := nextAction(t, s); got != a {
			t.Fatalf("cycle %d: %v, want %v", i, got, a)
		}
	}
}

func TestShutterClose(t *testing.T) {
	fk := NewFake()
	s := NewShutter(fk, time.Second)
	s.Close()
	s.Close()

	fk.Press()
	fk.Release()
	noAction(t, s, 50*time.Millisecond)
}

func TestActionString(t *testing.T) {
	if ActionCapture.String() != "capture" || ActionToggle.String() != "toggle" {
		t.Errorf("got %s, %s", ActionCapture, ActionToggle)
	}
}
