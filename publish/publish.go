// Package publish announces completed scans on a message broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"nutriscan/backend"
	"nutriscan/camera"
	"nutriscan/log"
)

const (
	DefaultExchange = "nutriscan"
	RoutingKey      = "scan.completed"
)

type ScanEvent struct {
	SessionID  string               `json:"session_id"`
	CapturedAt time.Time            `json:"captured_at"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Source     backend.Mode         `json:"source"`
	Result     *backend.LabelResult `json:"result"`
	AI         *backend.AIResult    `json:"ai,omitempty"`
}

func NewScanEvent(frame *camera.CapturedFrame, a *backend.Analysis) ScanEvent {
	ev := ScanEvent{
		SessionID:  frame.SessionID,
		CapturedAt: frame.CapturedAt.UTC(),
		Width:      frame.Width,
		Height:     frame.Height,
	}
	if a != nil {
		ev.Source = a.Source
		ev.Result = a.Label
		ev.AI = a.AI
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev ScanEvent) error
	Close() error
}

// AMQP publishes to a durable topic exchange. A dropped connection or
// channel is re-dialed once on the next publish.
type AMQP struct {
	url      string
	exchange string
	dial     func(url, exchange string) (amqpConn, amqpChannel, error)

	mu   sync.Mutex
	conn amqpConn
	ch   amqpChannel
}

// amqpConn and amqpChannel are the parts of *amqp.Connection and
// *amqp.Channel the publisher uses.
type amqpConn interface {
	IsClosed() bool
	Close() error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

func Dial(url string) (*AMQP, error) {
	p := &AMQP{url: url, exchange: DefaultExchange, dial: dialBroker}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialBroker(url, exchange string) (amqpConn, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("amqp exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

func (p *AMQP) connect() error {
	conn, ch, err := p.dial(p.url, p.exchange)
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	log.Info("amqp_connected: exchange=" + p.exchange)
	return nil
}

// healthy is false once either the connection or the channel has closed.
// A channel-level exception closes only the channel.
func (p *AMQP) healthy() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

func (p *AMQP) reset() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQP) Publish(ctx context.Context, ev ScanEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.healthy() {
		p.reset()
		if err := p.connect(); err != nil {
			return err
		}
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		RoutingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    ev.SessionID,
		},
	)
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	Err error

	mu     sync.Mutex
	events []ScanEvent
}

func (r *Recorder) Publish(_ context.Context, ev ScanEvent) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []ScanEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanEvent(nil), r.events...)
}
