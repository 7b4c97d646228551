package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nutriscan/log"
)

type Mode string

const (
	ModeAuto Mode = "auto"
	ModeAI   Mode = "ai"
	ModeOCR  Mode = "ocr"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeAI, ModeOCR:
		return m, nil
	}
	return "", fmt.Errorf("unknown scan mode %q (want auto, ai or ocr)", s)
}

// Scanner is the image half of the backend.
type Scanner interface {
	ScanLabel(ctx context.Context, jpeg []byte) (*LabelResult, *NetworkMetrics, error)
	AIAnalyze(ctx context.Context, jpeg []byte) (*AIResult, *NetworkMetrics, error)
}

type Analysis struct {
	Source  Mode            `json:"source"` // ai or ocr
	Label   *LabelResult    `json:"result"`
	AI      *AIResult       `json:"ai,omitempty"`
	Metrics *NetworkMetrics `json:"-"`
	// FellBack is why the AI answer was not used, empty otherwise.
	FellBack string `json:"fell_back,omitempty"`
}

// Summary is a one-line rendering for logs and the clipboard.
func (a *Analysis) Summary() string {
	if a == nil || a.Label == nil {
		return ""
	}
	n := a.Label.NutritionalInfo
	var b strings.Builder
	name := a.Label.Name
	if name == "" {
		name = "Unknown product"
	}
	b.WriteString(name)
	fmt.Fprintf(&b, " | %.0f kcal | protein %.1fg carbs %.1fg fat %.1fg sugar %.1fg sodium %.0fmg",
		float64(n.Calories), float64(n.Protein), float64(n.Carbohydrates), float64(n.Fat), float64(n.Sugar), float64(n.Sodium))
	if a.Label.HealthScore > 0 {
		fmt.Fprintf(&b, " | score %.0f", float64(a.Label.HealthScore))
	}
	return b.String()
}

// Analyzer tries the AI route first and falls back to label OCR when the
// AI route fails or answers with too little to be useful.
type Analyzer struct {
	scanner Scanner
}

func NewAnalyzer(s Scanner) *Analyzer {
	return &Analyzer{scanner: s}
}

func (a *Analyzer) Analyze(ctx context.Context, jpeg []byte, mode Mode) (*Analysis, error) {
	switch mode {
	case ModeOCR:
		return a.ocr(ctx, jpeg, "")
	case ModeAI:
		ai, m, err := a.scanner.AIAnalyze(ctx, jpeg)
		if err != nil {
			return nil, err
		}
		return &Analysis{Source: ModeAI, Label: &ai.LabelResult, AI: ai, Metrics: m}, nil
	}

	ai, m, err := a.scanner.AIAnalyze(ctx, jpeg)
	switch {
	case err == nil && ai.Sufficient():
		return &Analysis{Source: ModeAI, Label: &ai.LabelResult, AI: ai, Metrics: m}, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}

	reason := "insufficient ai result"
	if err != nil {
		reason = err.Error()
	}
	log.Warnf("ai analysis fell back to ocr: %s", reason)
	return a.ocr(ctx, jpeg, reason)
}

func (a *Analyzer) ocr(ctx context.Context, jpeg []byte, fellBack string) (*Analysis, error) {
	label, m, err := a.scanner.ScanLabel(ctx, jpeg)
	if err != nil {
		return nil, err
	}
	return &Analysis{Source: ModeOCR, Label: label, Metrics: m, FellBack: fellBack}, nil
}
