// ABOUTME: LifecycleCoordinator: applies gateway events on the loop and runs the resulting effects
// ABOUTME: Owns the connection state; rotation, heartbeat, health and reconnect hang off it

package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/coven-presence/internal/clock"
	"github.com/2389/coven-presence/internal/schedule"
)

// Periodic is a task with idempotent Start and Stop.
type Periodic interface {
	Start(ctx context.Context)
	Stop()
	Active() bool
}

// Starter is started once, on the first Ready.
type Starter interface {
	Start(ctx context.Context)
}

// Recovery is the part of the reconnect supervisor the coordinator drives.
type Recovery interface {
	Reset()
	Stop()
}

// Journal records applied events. Errors are logged, never fatal.
type Journal interface {
	AppendConnectionEvent(ctx context.Context, event, from, to string) error
}

// Config wires a Coordinator. Any component may be nil.
type Config struct {
	Rotation Periodic
	Liveness Periodic
	Health   Starter
	Recovery Recovery
	Journal  Journal
	Clock    clock.Clock
	Exec     schedule.Executor
	Logger   *slog.Logger
}

// Coordinator maps lifecycle events onto the periodic tasks. Apply and
// Shutdown must run on the executor; Dispatch and the accessors are safe
// from any goroutine.
type Coordinator struct {
	rotation Periodic
	liveness Periodic
	health   Starter
	recovery Recovery
	journal  Journal
	clock    clock.Clock
	exec     schedule.Executor
	logger   *slog.Logger

	snap Snapshot

	pubState atomic.Int32
	changed  atomic.Int64
}

// NewCoordinator returns a coordinator in the Connecting state.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = schedule.Inline()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Coordinator{
		rotation: cfg.Rotation,
		liveness: cfg.Liveness,
		health:   cfg.Health,
		recovery: cfg.Recovery,
		journal:  cfg.Journal,
		clock:    cfg.Clock,
		exec:     cfg.Exec,
		logger:   cfg.Logger.With("component", "lifecycle"),
		snap:     Initial(),
	}
	c.publish()
	return c
}

// Dispatch queues ev for the executor.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) {
	c.exec.Submit(func() { c.Apply(ctx, ev) })
}

// Apply runs ev through Transition and executes the effects in order.
func (c *Coordinator) Apply(ctx context.Context, ev Event) {
	prev := c.snap
	if prev.State == StateStopped {
		c.logger.Debug("ignoring event after shutdown", "event", ev)
		return
	}
	next, effects := Transition(prev, ev)

	c.snap = next
	c.publish()
	c.logEvent(ev, prev.State, next.State)
	c.record(ctx, ev, prev.State, next.State)

	for _, eff := range effects {
		c.run(ctx, eff)
	}
}

func (c *Coordinator) run(ctx context.Context, eff Effect) {
	switch eff {
	case EffectStartRotation:
		if c.rotation != nil {
			c.rotation.Start(ctx)
		}
	case EffectStopRotation:
		if c.rotation != nil {
			c.rotation.Stop()
		}
	case EffectStartLiveness:
		if c.liveness != nil {
			c.liveness.Start(ctx)
		}
	case EffectStartHealth:
		if c.health != nil {
			c.health.Start(ctx)
		}
	case EffectResetReconnect:
		if c.recovery != nil {
			c.recovery.Reset()
		}
	}
}

func (c *Coordinator) logEvent(ev Event, from, to ConnectionState) {
	switch ev {
	case EventReady:
		c.logger.Info("gateway ready", "from", from, "to", to)
	case EventResumed:
		c.logger.Info("session resumed", "from", from, "to", to)
	case EventDisconnected:
		c.logger.Warn("gateway disconnected", "from", from, "to", to)
	case EventReconnecting:
		c.logger.Info("gateway reconnecting", "from", from, "to", to)
	}
}

func (c *Coordinator) record(ctx context.Context, ev Event, from, to ConnectionState) {
	if c.journal == nil {
		return
	}
	if err := c.journal.AppendConnectionEvent(ctx, ev.String(), from.String(), to.String()); err != nil {
		c.logger.Warn("failed to journal connection event", "event", ev, "error", err)
	}
}

// Shutdown stops rotation, the heartbeat and any pending reconnect.
// Events applied afterwards are ignored.
func (c *Coordinator) Shutdown() {
	if c.rotation != nil {
		c.rotation.Stop()
	}
	if c.liveness != nil {
		c.liveness.Stop()
	}
	if c.recovery != nil {
		c.recovery.Stop()
	}
	if c.snap.State != StateStopped {
		c.logger.Info("lifecycle stopped", "from", c.snap.State)
	}
	c.snap.State = StateStopped
	c.publish()
}

// Snapshot returns the coordinator's snapshot. Executor only.
func (c *Coordinator) Snapshot() Snapshot {
	return c.snap
}

// State returns the last published connection state.
func (c *Coordinator) State() ConnectionState {
	return ConnectionState(c.pubState.Load())
}

// Since returns when the connection state last changed.
func (c *Coordinator) Since() time.Time {
	return time.Unix(0, c.changed.Load())
}

// Ready reports whether the connection state is Connected.
func (c *Coordinator) Ready() bool {
	return c.State() == StateConnected
}

func (c *Coordinator) publish() {
	if ConnectionState(c.pubState.Load()) != c.snap.State || c.changed.Load() == 0 {
		c.changed.Store(c.clock.Now().UnixNano())
	}
	c.pubState.Store(int32(c.snap.State))
}
