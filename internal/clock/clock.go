// ABOUTME: Injectable time source used by the scheduler and the reconnect supervisor
// ABOUTME: Production uses Real(); tests use Fake() and advance time explicitly

// Package clock abstracts the parts of the time package that periodic tasks
// depend on, so timer-driven behavior can be tested without sleeping.
//
// Components hold a Clock field instead of calling time.Now or
// time.AfterFunc directly:
//
//	task := schedule.NewTask("rotation", 10*time.Second, clock.Real(), loop, fn)
//
// In tests:
//
//	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	task := schedule.NewTask("rotation", 10*time.Second, clk, schedule.Inline(), fn)
//	clk.Advance(10 * time.Second) // fires fn deterministically
package clock

import "time"

// Clock is the subset of the time package used by this module.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. If d <= 0, f runs
	// immediately (in a new goroutine for Real, synchronously for Fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle to a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it already fired or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}
