// ABOUTME: Tests for the fake clock used by timer-driven components
// ABOUTME: Covers ordering, stop semantics, and callbacks that re-arm themselves

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_Now(t *testing.T) {
	clk := Fake(epoch)
	assert.Equal(t, epoch, clk.Now())

	clk.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(5*time.Second), clk.Now())
}

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	clk := Fake(epoch)
	fired := 0
	clk.AfterFunc(3*time.Second, func() { fired++ })

	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, fired)

	clk.Advance(time.Second)
	assert.Equal(t, 1, fired)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, fired, "one-shot timer must not fire twice")
}

func TestFake_StopPreventsFiring(t *testing.T) {
	clk := Fake(epoch)
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")

	clk.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clk.PendingCount())
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	clk := Fake(epoch)
	var order []string
	clk.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clk.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	clk.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	clk.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFake_RearmingCallback(t *testing.T) {
	clk := Fake(epoch)
	var at []time.Time

	var arm func()
	arm = func() {
		clk.AfterFunc(10*time.Second, func() {
			at = append(at, clk.Now())
			arm()
		})
	}
	arm()

	clk.Advance(35 * time.Second)

	require.Len(t, at, 3)
	assert.Equal(t, epoch.Add(10*time.Second), at[0])
	assert.Equal(t, epoch.Add(20*time.Second), at[1])
	assert.Equal(t, epoch.Add(30*time.Second), at[2])
	assert.Equal(t, epoch.Add(35*time.Second), clk.Now())
	assert.Equal(t, 1, clk.PendingCount())
}

func TestFake_WaitForTimers(t *testing.T) {
	clk := Fake(epoch)
	done := make(chan struct{})

	go func() {
		clk.AfterFunc(time.Second, func() { close(done) })
	}()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
