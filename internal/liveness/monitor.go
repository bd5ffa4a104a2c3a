// ABOUTME: LivenessMonitor: periodic heartbeat that logs an alive signal
// ABOUTME: and hands recovery to the reconnect supervisor when the gateway is not ready

package liveness

//go:generate go run go.uber.org/mock/mockgen -source=monitor.go -destination=../mocks/mock_liveness.go -package=mocks

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/2389/coven-presence/internal/clock"
	"github.com/2389/coven-presence/internal/schedule"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 30 * time.Second

// ReadinessProbe reports on the gateway session.
type ReadinessProbe interface {
	IsReady() bool
	Ping() time.Duration
}

// Recoverer is asked to restore the session after a failed check.
type Recoverer interface {
	Attempt(ctx context.Context)
}

// Config configures a Monitor.
type Config struct {
	Probe     ReadinessProbe
	Recoverer Recoverer
	Interval  time.Duration
	Clock     clock.Clock
	Exec      schedule.Executor
	Logger    *slog.Logger
}

// Monitor checks the gateway session on a fixed interval. It has no
// retry loop of its own: each failed check produces exactly one
// Recoverer.Attempt call.
type Monitor struct {
	probe     ReadinessProbe
	recoverer Recoverer
	clock     clock.Clock
	logger    *slog.Logger
	proc      *process.Process
	task      *schedule.Task
	failures  uint64
}

// NewMonitor returns a stopped monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = schedule.Inline()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Monitor{
		probe:     cfg.Probe,
		recoverer: cfg.Recoverer,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "heartbeat"),
	}

	// Process stats are decoration on the heartbeat line; the monitor
	// works without them.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	} else {
		m.logger.Debug("process stats unavailable", "error", err)
	}

	m.task = schedule.NewTask("heartbeat", cfg.Interval, cfg.Clock, cfg.Exec, m.Check)
	return m
}

// Check logs the alive signal and triggers recovery if the gateway is
// not ready.
func (m *Monitor) Check(ctx context.Context) {
	attrs := []any{
		"at", m.clock.Now().Format(time.TimeOnly),
		"ping", m.probe.Ping(),
	}
	if rss, ok := m.rss(); ok {
		attrs = append(attrs, "rss_bytes", rss)
	}
	m.logger.Info("bot is alive", attrs...)

	if m.probe.IsReady() {
		return
	}

	m.failures++
	m.logger.Warn("client disconnected, attempting to reconnect", "failed_checks", m.failures)
	m.recoverer.Attempt(ctx)
}

// Start arms the heartbeat. Calling it again replaces the timer.
func (m *Monitor) Start(ctx context.Context) {
	m.task.Start(ctx)
	m.logger.Info("heartbeat started", "interval", m.task.Interval())
}

// Stop cancels the heartbeat. Safe when already stopped.
func (m *Monitor) Stop() {
	m.task.Stop()
}

// Active reports whether the heartbeat timer is armed.
func (m *Monitor) Active() bool {
	return m.task.Active()
}

// FailedChecks returns how many checks found the gateway not ready.
func (m *Monitor) FailedChecks() uint64 {
	return m.failures
}

func (m *Monitor) rss() (uint64, bool) {
	if m.proc == nil {
		return 0, false
	}
	mem, err := m.proc.MemoryInfo()
	if err != nil {
		return 0, false
	}
	return mem.RSS, true
}
