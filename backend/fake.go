package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// FakeScanner answers scans from canned results.
type FakeScanner struct {
	Label    *LabelResult
	AI       *AIResult
	LabelErr error
	AIErr    error
	Delay    time.Duration

	labelCalls atomic.Int32
	aiCalls    atomic.Int32
}

func NewFake() *FakeScanner {
	return &FakeScanner{
		Label: &LabelResult{
			Name:       "Scanned Food Product (Snacks)",
			Confidence: 85,
			NutritionalInfo: NutritionalInfo{
				Calories: 210, Protein: 4, Carbohydrates: 27, Fat: 10,
				Fiber: 2, Sugar: 12, Sodium: 180,
			},
			HealthScore:     72,
			ProcessingLevel: "Processed",
			Recommendations: []string{"High sugar content - consider moderation"},
		},
	}
}

func (f *FakeScanner) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeScanner) ScanLabel(ctx context.Context, jpeg []byte) (*LabelResult, *NetworkMetrics, error) {
	f.labelCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, nil, err
	}
	if f.LabelErr != nil {
		return nil, nil, fmt.Errorf("fake scan_label: %w", f.LabelErr)
	}
	if len(jpeg) == 0 {
		return nil, nil, &APIError{Endpoint: "/api/scan_label", StatusCode: 400, Message: "No image file provided"}
	}
	r := *f.Label
	return &r, &NetworkMetrics{Total: f.Delay}, nil
}

func (f *FakeScanner) AIAnalyze(ctx context.Context, jpeg []byte) (*AIResult, *NetworkMetrics, error) {
	f.aiCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, nil, err
	}
	if f.AIErr != nil {
		return nil, nil, fmt.Errorf("fake ai_analyze: %w", f.AIErr)
	}
	if f.AI == nil {
		return nil, nil, &APIError{Endpoint: "/api/ai_analyze", StatusCode: 503, Message: "AI service not configured"}
	}
	r := *f.AI
	return &r, &NetworkMetrics{Total: f.Delay}, nil
}

func (f *FakeScanner) LabelCalls() int { return int(f.labelCalls.Load()) }
func (f *FakeScanner) AICalls() int    { return int(f.aiCalls.Load()) }
