package main

import (
	"image"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"nutriscan/camera"
)

type stillSource struct{ img image.Image }

func (s stillSource) Latest() image.Image { return s.img }

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func recordingActions(called *[]string) tuiActions {
	rec := func(name string) func() {
		return func() { *called = append(*called, name) }
	}
	return tuiActions{
		start:      rec("start"),
		stop:       rec("stop"),
		shoot:      rec("shoot"),
		retry:      rec("retry"),
		flip:       rec("flip"),
		toggleMode: rec("mode"),
		copy:       rec("copy"),
	}
}

func press(m tuiModel, k string) (tuiModel, tea.Cmd) {
	next, cmd := m.Update(key(k))
	return next.(tuiModel), cmd
}

func TestTUIKeysInvokeActions(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"s", "start"},
		{"x", "stop"},
		{" ", "shoot"},
		{"f", "flip"},
		{"m", "mode"},
		{"c", "copy"},
	}
	for _, tt := range tests {
		var called []string
		m := newTUIModel(recordingActions(&called), nil)
		_, cmd := press(m, tt.key)
		if cmd == nil {
			t.Fatalf("key %q: no command", tt.key)
		}
		cmd()
		if len(called) != 1 || called[0] != tt.want {
			t.Errorf("key %q: called %v, want [%s]", tt.key, called, tt.want)
		}
	}
}

func TestTUIQuit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		m := newTUIModel(tuiActions{}, nil)
		_, cmd := press(m, k)
		if cmd == nil {
			t.Fatalf("key %q: no command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q: expected quit", k)
		}
	}
}

func TestTUIRetryOnlyWhenRetryable(t *testing.T) {
	var called []string
	m := newTUIModel(recordingActions(&called), nil)

	if _, cmd := press(m, "r"); cmd != nil {
		t.Fatal("retry offered while idle")
	}

	next, _ := m.Update(CameraStatusMsg{Transition: camera.Transition{
		From: camera.StatusRequestingAccess,
		To:   camera.StatusError,
		Err:  &camera.CaptureError{Kind: camera.KindNotSupported},
	}})
	m = next.(tuiModel)
	if _, cmd := press(m, "r"); cmd != nil {
		t.Fatal("retry offered for a permanent error")
	}

	next, _ = m.Update(CameraStatusMsg{Transition: camera.Transition{
		From: camera.StatusRequestingAccess,
		To:   camera.StatusError,
		Err:  &camera.CaptureError{Kind: camera.KindTimeout},
	}})
	m = next.(tuiModel)
	if !m.retryable || m.errText != camera.KindTimeout.Message() {
		t.Fatalf("error state = %q retryable=%v", m.errText, m.retryable)
	}
	_, cmd := press(m, "r")
	if cmd == nil {
		t.Fatal("retry not offered for a timeout")
	}
	cmd()
	if len(called) != 1 || called[0] != "retry" {
		t.Errorf("called %v", called)
	}
}

func TestTUISpaceIgnoredWhileScanning(t *testing.T) {
	var called []string
	m := newTUIModel(recordingActions(&called), nil)
	next, _ := m.Update(ScanStartMsg{})
	m = next.(tuiModel)
	if _, cmd := press(m, " "); cmd != nil {
		t.Fatal("shoot offered during a scan")
	}
	next, _ = m.Update(ScanDoneMsg{})
	m = next.(tuiModel)
	if _, cmd := press(m, " "); cmd == nil {
		t.Fatal("shoot not offered after the scan")
	}
}

func TestTUIResultAndCopied(t *testing.T) {
	m := newTUIModel(tuiActions{}, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(tuiModel)

	if !strings.Contains(m.View(), "No scans yet") {
		t.Error("empty view missing placeholder")
	}

	next, _ = m.Update(ScanResultMsg{Text: "Granola Bar: 190 kcal", Metrics: []string{"total: 120ms"}})
	m = next.(tuiModel)
	next, _ = m.Update(CopiedMsg{})
	m = next.(tuiModel)

	view := m.View()
	for _, want := range []string{"Last scan (#1)", "Granola Bar: 190 kcal", "total: 120ms", "copied"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	// A new result clears the copied marker.
	next, _ = m.Update(ScanResultMsg{Text: "Apple"})
	m = next.(tuiModel)
	if m.copied || m.msgCount != 2 {
		t.Errorf("copied=%v count=%d", m.copied, m.msgCount)
	}
}

func TestTUIPreviewOnlyWhenReady(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	m := newTUIModel(tuiActions{}, stillSource{img})

	if !strings.Contains(m.renderPreview(), "camera off") {
		t.Error("idle preview should show the placeholder")
	}
	m.status = camera.StatusReady
	if strings.Contains(m.renderPreview(), "camera off") {
		t.Error("ready preview should render the frame")
	}
}

func TestTUILines(t *testing.T) {
	m := newTUIModel(tuiActions{}, nil)
	next, _ := m.Update(ModeLineMsg{Text: "[live | auto | environment]"})
	m = next.(tuiModel)
	next, _ = m.Update(DeviceLineMsg{Text: "cam: Fake Back Camera"})
	m = next.(tuiModel)
	next, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = next.(tuiModel)

	view := m.View()
	if !strings.Contains(view, "auto") || !strings.Contains(view, "Fake Back Camera") {
		t.Error("view missing mode or device line")
	}
	if strings.Contains(view, "-update") {
		t.Error("update notice shown before one is found")
	}

	next, _ = m.Update(UpdateMsg{Version: "v0.3.0"})
	m = next.(tuiModel)
	if !strings.Contains(m.View(), "v0.3.0") {
		t.Error("view missing update notice")
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello world again", 11, []string{"hello world", "again"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}
