// Package scan ties a capture to the backend analysis: capture, optional
// stop, analyze, log, publish.
package scan

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/log"
	"nutriscan/publish"
)

type Result struct {
	Frame    *camera.CapturedFrame
	Analysis *backend.Analysis
	Total    time.Duration

	MemoryAllocMB float64
	MemoryPeakMB  float64
}

func (r *Result) captureMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocMB = float64(m.Alloc) / 1024 / 1024
	r.MemoryPeakMB = float64(m.TotalAlloc) / 1024 / 1024
}

// MetricLines formats the timings of the scan for display.
func (r *Result) MetricLines() []string {
	if r == nil || r.Frame == nil {
		return nil
	}
	lines := []string{
		fmt.Sprintf("frame:      %dx%d | %.1f KB", r.Frame.Width, r.Frame.Height, float64(len(r.Frame.Data))/1024),
		fmt.Sprintf("encode:     %dms", r.Frame.EncodeTime.Milliseconds()),
	}
	if r.Analysis == nil {
		return lines
	}
	lines = append(lines, fmt.Sprintf("source:     %s", r.Analysis.Source))
	if r.Analysis.FellBack != "" {
		lines = append(lines, fmt.Sprintf("fallback:   %s", r.Analysis.FellBack))
	}
	if m := r.Analysis.Metrics; m != nil {
		reused := ""
		if m.ConnReused {
			reused = " (reused)"
		}
		lines = append(lines,
			fmt.Sprintf("conn_wait:  %dms%s", m.ConnWait.Milliseconds(), reused),
			fmt.Sprintf("dns:        %dms", m.DNS.Milliseconds()),
			fmt.Sprintf("tls:        %dms", m.TLS.Milliseconds()),
			fmt.Sprintf("ttfb:       %dms", m.TTFB.Milliseconds()),
			fmt.Sprintf("download:   %dms", m.Download.Milliseconds()),
		)
	}
	lines = append(lines, fmt.Sprintf("total:      %dms", r.Total.Milliseconds()))
	return lines
}

// Pipeline is safe for concurrent use; the controller serializes device
// access.
type Pipeline struct {
	ctrl      *camera.Controller
	analyzer  *backend.Analyzer
	publisher publish.Publisher

	scans atomic.Int64
}

// New builds a pipeline. A nil analyzer captures without analysis and a
// nil publisher skips publishing.
func New(ctrl *camera.Controller, analyzer *backend.Analyzer, pub publish.Publisher) *Pipeline {
	return &Pipeline{ctrl: ctrl, analyzer: analyzer, publisher: pub}
}

func (p *Pipeline) Controller() *camera.Controller { return p.ctrl }

// Scans is the number of completed analyses.
func (p *Pipeline) Scans() int { return int(p.scans.Load()) }

// Run captures a frame from s. With stopAfter the session is stopped once
// the frame is in hand, before the backend is asked. A failed analysis
// still returns the captured frame.
func (p *Pipeline) Run(ctx context.Context, s *camera.Session, mode backend.Mode, stopAfter bool) (*Result, error) {
	start := time.Now()
	frame, err := p.ctrl.CaptureFrame(ctx, s)
	if err != nil {
		return nil, err
	}
	if stopAfter {
		p.ctrl.StopCapture(s)
	}

	res := &Result{Frame: frame}
	if p.analyzer == nil {
		res.Total = time.Since(start)
		return res, nil
	}

	a, err := p.analyzer.Analyze(ctx, frame.Data, mode)
	res.Total = time.Since(start)
	if err != nil {
		log.Errorf("scan %s: %v", frame.SessionID, err)
		return res, err
	}
	res.Analysis = a
	res.captureMemStats()
	p.scans.Add(1)

	p.record(res, string(mode))
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, publish.NewScanEvent(frame, a)); err != nil {
			log.Warnf("publish scan %s: %v", frame.SessionID, err)
		}
	}
	return res, nil
}

func (p *Pipeline) record(res *Result, mode string) {
	m := log.Metrics{
		Width:         res.Frame.Width,
		Height:        res.Frame.Height,
		ImageKB:       float64(len(res.Frame.Data)) / 1024,
		EncodeTimeMs:  float64(res.Frame.EncodeTime.Microseconds()) / 1000,
		TotalTimeMs:   float64(res.Total.Microseconds()) / 1000,
		MemoryAllocMB: res.MemoryAllocMB,
		MemoryPeakMB:  res.MemoryPeakMB,
	}
	var reused bool
	var tlsProto string
	if nm := res.Analysis.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS.Microseconds()) / 1000
		m.TLSTimeMs = float64(nm.TLS.Microseconds()) / 1000
		m.TTFBMs = float64(nm.TTFB.Microseconds()) / 1000
		reused, tlsProto = nm.ConnReused, nm.TLSProtocol
	}
	log.ScanMetrics(m, mode, string(res.Analysis.Source), reused, tlsProto)
	log.ScanResult(string(res.Analysis.Source), res.Analysis.Summary())
}
