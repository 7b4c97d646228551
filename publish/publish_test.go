package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"nutriscan/backend"
	"nutriscan/camera"
)

func TestScanEventJSON(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	frame := &camera.CapturedFrame{SessionID: "abc", Width: 640, Height: 480, CapturedAt: at}
	a := &backend.Analysis{Source: backend.ModeOCR, Label: backend.NewFake().Label}

	data, err := json.Marshal(NewScanEvent(frame, a))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["session_id"] != "abc" || got["source"] != "ocr" || got["width"] != float64(640) {
		t.Errorf("event = %s", data)
	}
	if got["captured_at"] != "2026-03-01T11:00:00Z" {
		t.Errorf("captured_at = %v, want UTC", got["captured_at"])
	}
	if _, ok := got["ai"]; ok {
		t.Error("ai should be omitted for ocr results")
	}
	result, ok := got["result"].(map[string]any)
	if !ok || result["name"] != "Scanned Food Product (Snacks)" {
		t.Errorf("result = %v", got["result"])
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	var p Publisher = r
	if err := p.Publish(context.Background(), ScanEvent{SessionID: "a"}); err != nil {
		t.Fatal(err)
	}
	if evs := r.Events(); len(evs) != 1 || evs[0].SessionID != "a" {
		t.Errorf("events = %+v", evs)
	}
}

type fakeConn struct{ closed bool }

func (c *fakeConn) IsClosed() bool { return c.closed }
func (c *fakeConn) Close() error   { c.closed = true; return nil }

type fakeChannel struct {
	closed bool
	sent   []amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.closed {
		return amqp.ErrClosed
	}
	if key != RoutingKey {
		return errors.New("wrong routing key " + key)
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }
func (c *fakeChannel) Close() error   { c.closed = true; return nil }

// newFakeAMQP returns a publisher whose every dial yields a fresh
// connection and channel, recorded in dials.
func newFakeAMQP(t *testing.T) (*AMQP, *[]*fakeChannel) {
	t.Helper()
	var dials []*fakeChannel
	p := &AMQP{url: "amqp://test", exchange: DefaultExchange}
	p.dial = func(url, exchange string) (amqpConn, amqpChannel, error) {
		ch := &fakeChannel{}
		dials = append(dials, ch)
		return &fakeConn{}, ch, nil
	}
	if err := p.connect(); err != nil {
		t.Fatal(err)
	}
	return p, &dials
}

func TestAMQPRedialsAfterBreak(t *testing.T) {
	tests := []struct {
		name    string
		breakIt func(p *AMQP)
	}{
		{"channel exception on live connection", func(p *AMQP) { p.ch.(*fakeChannel).closed = true }},
		{"connection dropped", func(p *AMQP) { p.conn.(*fakeConn).closed = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, dials := newFakeAMQP(t)
			ctx := context.Background()

			if err := p.Publish(ctx, ScanEvent{SessionID: "a"}); err != nil {
				t.Fatal(err)
			}
			tt.breakIt(p)
			if err := p.Publish(ctx, ScanEvent{SessionID: "b"}); err != nil {
				t.Fatalf("publish after break: %v", err)
			}
			if len(*dials) != 2 {
				t.Fatalf("dials = %d, want 2", len(*dials))
			}
			first, second := (*dials)[0], (*dials)[1]
			if !first.closed {
				t.Error("broken channel not closed")
			}
			if len(second.sent) != 1 || second.sent[0].MessageId != "b" {
				t.Errorf("second channel sent %+v", second.sent)
			}
		})
	}
}

func TestAMQPRedialFailure(t *testing.T) {
	p, _ := newFakeAMQP(t)
	p.ch.(*fakeChannel).closed = true
	p.dial = func(url, exchange string) (amqpConn, amqpChannel, error) {
		return nil, nil, errors.New("broker down")
	}
	if err := p.Publish(context.Background(), ScanEvent{SessionID: "a"}); err == nil {
		t.Fatal("expected dial error")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close after failed redial: %v", err)
	}
}
