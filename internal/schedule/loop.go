// ABOUTME: Serial event loop that runs every lifecycle callback on one goroutine
// ABOUTME: Timers, gateway events and reconnect results are all funneled through Submit

package schedule

import (
	"context"
	"log/slog"
)

// queueSize bounds how many callbacks may wait for the loop before
// Submit blocks the producer.
const queueSize = 64

// Executor runs callbacks for a single owner. Implementations guarantee
// that no two callbacks submitted to the same Executor run concurrently.
type Executor interface {
	Submit(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Submit calls f(fn).
func (f ExecutorFunc) Submit(fn func()) { f(fn) }

// Inline returns an Executor that runs callbacks immediately on the
// caller's goroutine. Tests use it to drive components synchronously.
func Inline() Executor {
	return ExecutorFunc(func(fn func()) { fn() })
}

// Loop executes submitted callbacks one at a time, in submission order.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// NewLoop creates a loop. Call Run to start processing.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "loop"),
	}
}

// Submit enqueues fn. Safe to call from any goroutine. After the loop
// has stopped, callbacks are dropped.
func (l *Loop) Submit(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
		l.logger.Debug("loop stopped, dropping callback")
	}
}

// Run processes callbacks until ctx is canceled. Callbacks still queued
// at cancellation are discarded.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Call submits fn and waits for it to finish. Returns false if ctx ends
// or the loop stops before fn runs. Must not be called from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) bool {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}

	select {
	case l.queue <- wrapped:
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}

	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}
}
