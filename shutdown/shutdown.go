// Package shutdown turns the platform's termination signals into context
// cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// NotifyContext returns a context that is cancelled on the first
// termination signal.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, Signals()...)
}

// Notify relays termination signals to ch.
func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, Signals()...)
}
