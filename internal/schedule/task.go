// ABOUTME: Cancellable periodic task handle with idempotent Start/Stop
// ABOUTME: At most one timer per task is ever armed; stale firings are discarded

package schedule

import (
	"context"
	"time"

	"github.com/2389/coven-presence/internal/clock"
)

// Task runs fn every interval on an Executor. Start, Stop, and the
// firings themselves must all happen on the same Executor, which is what
// lets Task keep its state without locks.
//
// Each Start bumps a generation counter. A firing that was already
// queued on the executor when Stop (or a restart) happened carries the
// old generation and is dropped, so cancellation only ever prevents
// future runs and never interrupts one in progress.
type Task struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	exec     Executor
	fn       func(ctx context.Context)

	ctx        context.Context
	generation uint64
	timer      *clock.Timer
	active     bool
	runs       uint64
}

// NewTask creates a stopped task.
func NewTask(name string, interval time.Duration, clk clock.Clock, exec Executor, fn func(ctx context.Context)) *Task {
	return &Task{
		name:     name,
		interval: interval,
		clock:    clk,
		exec:     exec,
		fn:       fn,
	}
}

// Start arms the task. If it is already running, the existing timer is
// canceled first, so calling Start twice leaves exactly one timer. The
// first run happens one interval after Start.
func (t *Task) Start(ctx context.Context) {
	t.Stop()
	t.ctx = ctx
	t.active = true
	t.arm(t.generation)
}

// Stop cancels the timer. Safe to call when already stopped.
func (t *Task) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
	t.generation++
}

// Active reports whether the task has an armed timer.
func (t *Task) Active() bool {
	return t.active
}

// Name returns the task name used in logs.
func (t *Task) Name() string {
	return t.name
}

// Interval returns the time between runs.
func (t *Task) Interval() time.Duration {
	return t.interval
}

// Runs returns how many times fn has been invoked by the timer.
func (t *Task) Runs() uint64 {
	return t.runs
}

func (t *Task) arm(gen uint64) {
	t.timer = t.clock.AfterFunc(t.interval, func() {
		t.exec.Submit(func() { t.fire(gen) })
	})
}

func (t *Task) fire(gen uint64) {
	if !t.active || gen != t.generation {
		return
	}
	// Re-arm before running so the cadence does not stretch by the
	// duration of fn.
	t.arm(gen)
	t.runs++
	t.fn(t.ctx)
}
