package main

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/hotkey"
	"nutriscan/preview"
)

// TUI message types
type CameraStatusMsg struct{ Transition camera.Transition }
type ErrorMsg struct {
	Text      string
	Retryable bool
}
type ScanStartMsg struct{}
type ScanDoneMsg struct{}
type ScanResultMsg struct {
	Text    string
	Metrics []string
	Label   *backend.LabelResult
}
type CopiedMsg struct{}
type UpdateMsg struct{ Version string }
type LogMsg struct{ Text string }
type ModeLineMsg struct{ Text string }   // capture/analysis/facing
type DeviceLineMsg struct{ Text string } // camera name
type tickMsg time.Time

const (
	previewWidth  = 44
	previewHeight = 15
)

type tuiActions struct {
	start, stop, shoot, retry, flip, toggleMode, copy func()
}

type frameSource interface {
	Latest() image.Image
}

type tuiModel struct {
	actions tuiActions
	source  frameSource

	status      camera.Status
	errText     string
	retryable   bool
	scanning    bool
	frame       int
	width       int
	height      int
	modeLine    string
	deviceLine  string
	logLine     string
	lastText    string
	lastMetrics []string
	label       *backend.LabelResult
	msgCount    int
	copied      bool
	updateVer   string
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	statusStyles = map[camera.Status]lipgloss.Style{
		camera.StatusIdle:             lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		camera.StatusRequestingAccess: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		camera.StatusActive:           lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		camera.StatusReady:            lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		camera.StatusError:            lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		camera.StatusStopped:          lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
	statusLabels = map[camera.Status]string{
		camera.StatusIdle:             "○ IDLE",
		camera.StatusRequestingAccess: "◌ REQUESTING ACCESS",
		camera.StatusActive:           "◐ STARTING",
		camera.StatusReady:            "● LIVE",
		camera.StatusError:            "✕ ERROR",
		camera.StatusStopped:          "○ STOPPED",
	}

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	modeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	resultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	metricStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	copiedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func newTUIModel(actions tuiActions, source frameSource) tuiModel {
	return tuiModel{actions: actions, source: source}
}

func NewTUIProgram(actions tuiActions, source frameSource) *tea.Program {
	return tea.NewProgram(newTUIModel(actions, source), tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func logToTUI(format string, args ...any) {
	tuiSend(LogMsg{Text: fmt.Sprintf(format, args...)})
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// actionCmd wraps an action as a command so it never blocks the update loop.
func actionCmd(fn func()) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case CameraStatusMsg:
		m.status = msg.Transition.To
		switch {
		case msg.Transition.Err != nil:
			m.errText = msg.Transition.Err.Kind.Message()
			m.retryable = msg.Transition.Err.Kind.Retryable()
		case m.status == camera.StatusRequestingAccess:
			m.errText = ""
			m.retryable = false
		}

	case ErrorMsg:
		m.errText = msg.Text
		m.retryable = msg.Retryable

	case ScanStartMsg:
		m.scanning = true
		m.errText = ""

	case ScanDoneMsg:
		m.scanning = false

	case ScanResultMsg:
		m.scanning = false
		m.msgCount++
		m.lastText = msg.Text
		m.lastMetrics = msg.Metrics
		m.label = msg.Label
		m.copied = false

	case CopiedMsg:
		m.copied = true

	case UpdateMsg:
		m.updateVer = msg.Version

	case LogMsg:
		m.logLine = msg.Text

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.actions
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "s":
		return m, actionCmd(a.start)
	case "x":
		return m, actionCmd(a.stop)
	case " ":
		if m.scanning {
			return m, nil
		}
		return m, actionCmd(a.shoot)
	case "r":
		if m.status == camera.StatusError && m.retryable {
			return m, actionCmd(a.retry)
		}
	case "f":
		return m, actionCmd(a.flip)
	case "m":
		return m, actionCmd(a.toggleMode)
	case "c":
		return m, actionCmd(a.copy)
	}
	return m, nil
}

func (m tuiModel) renderPreview() string {
	if m.status == camera.StatusReady && m.source != nil {
		if img := m.source.Latest(); img != nil {
			b := img.Bounds()
			w, h := preview.Fit(b.Dx(), b.Dy(), previewWidth, previewHeight)
			pic := preview.Render(img, w, h)
			return lipgloss.Place(previewWidth, previewHeight, lipgloss.Center, lipgloss.Top, pic)
		}
	}
	text := "camera off"
	switch m.status {
	case camera.StatusRequestingAccess, camera.StatusActive:
		text = spinner[m.frame%len(spinner)] + " waiting for camera"
	case camera.StatusError:
		text = "no picture"
	}
	return preview.Placeholder(previewWidth, previewHeight, text)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	left := m.renderPreview() + "\n"

	var infoLines []string
	status := statusStyles[m.status].Render(statusLabels[m.status])
	if m.scanning {
		status += " " + resultStyle.Render(spinner[m.frame%len(spinner)]+" scanning")
	}
	infoLines = append(infoLines, status)

	if m.errText != "" {
		infoLines = append(infoLines, errStyle.Render("  ⚠ "+m.errText))
		if m.retryable && m.status == camera.StatusError {
			infoLines = append(infoLines, helpKeyStyle.Render("  r")+helpStyle.Render(" to retry"))
		}
	}
	if m.modeLine != "" {
		infoLines = append(infoLines, modeStyle.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		infoLines = append(infoLines, dimStyle.Render(m.deviceLine))
	}
	if m.logLine != "" {
		infoLines = append(infoLines, dimStyle.Render(m.logLine))
	}

	if table := renderPercentileTable(); table != "" {
		infoLines = append(infoLines, "")
		for _, line := range strings.Split(table, "\n") {
			infoLines = append(infoLines, dimStyle.Render(line))
		}
	}

	infoLines = append(infoLines, "")
	help := []struct{ key, what string }{
		{"s", "start"}, {"x", "stop"}, {"space", "scan"}, {"f", "flip"}, {"m", "mode"}, {"c", "copy"}, {"q", "quit"},
	}
	var helpLine strings.Builder
	for i, h := range help {
		if i > 0 {
			helpLine.WriteString(helpStyle.Render(" · "))
		}
		helpLine.WriteString(helpKeyStyle.Render(h.key) + helpStyle.Render(" "+h.what))
	}
	infoLines = append(infoLines, helpLine.String())
	infoLines = append(infoLines, helpKeyStyle.Render(hotkey.Combo)+helpStyle.Render(" tap to scan, hold to toggle camera"))
	infoLines = append(infoLines, helpStyle.Render("nutriscan "+version))
	if m.updateVer != "" {
		infoLines = append(infoLines, copiedStyle.Render("update "+m.updateVer+" available, run nutriscan -update"))
	}

	for _, line := range infoLines {
		left += line + "\n"
	}
	leftLines := strings.Split(left, "\n")

	rightWidth := m.width - previewWidth - 1
	if rightWidth < 20 {
		rightWidth = 20
	}
	wrapWidth := rightWidth - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var right strings.Builder
	if m.lastText != "" {
		right.WriteString(titleStyle.Render(fmt.Sprintf("Last scan (#%d)", m.msgCount)) + "\n\n")
		lines := wrapText(m.lastText, wrapWidth)
		for i, line := range lines {
			right.WriteString(resultStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				right.WriteString(" " + copiedStyle.Render("[✓ copied]"))
			}
			right.WriteString("\n")
		}
		if m.label != nil {
			for _, rec := range m.label.Recommendations {
				for _, line := range wrapText("• "+rec, wrapWidth) {
					right.WriteString(dimStyle.Render(line) + "\n")
				}
			}
		}
		if len(m.lastMetrics) > 0 {
			right.WriteString("\n")
			for _, metric := range m.lastMetrics {
				right.WriteString(metricStyle.Render(metric) + "\n")
			}
		}
	} else {
		right.WriteString(dimStyle.Render("No scans yet"))
	}

	rightPanel := lipgloss.NewStyle().
		Width(rightWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	padded := make([]string, m.height)
	for i := range padded {
		if i < len(leftLines) {
			padded[i] = leftLines[i]
		} else {
			padded[i] = strings.Repeat(" ", previewWidth)
		}
	}
	leftPanel := lipgloss.NewStyle().
		Width(previewWidth).
		Height(m.height).
		Render(strings.Join(padded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

func renderPercentileTable() string {
	scansMu.Lock()
	defer scansMu.Unlock()
	if len(scans) < 2 {
		return ""
	}

	ts := percentileStats.TotalMs
	es := percentileStats.EncodeMs
	tf := percentileStats.TTFBMs
	ks := percentileStats.SizeKB

	return fmt.Sprintf(
		"        %5s %5s %5s %5s %5s\n"+
			"total   %5.0f %5.0f %5.0f %5.0f %5.0f\n"+
			"encode  %5.0f %5.0f %5.0f %5.0f %5.0f\n"+
			"ttfb    %5.0f %5.0f %5.0f %5.0f %5.0f\n"+
			"kb      %5.0f %5.0f %5.0f %5.0f %5.0f",
		"min", "p50", "p90", "p95", "max",
		ts[0], ts[1], ts[2], ts[3], ts[4],
		es[0], es[1], es[2], es[3], es[4],
		tf[0], tf[1], tf[2], tf[3], tf[4],
		ks[0], ks[1], ks[2], ks[3], ks[4],
	)
}
