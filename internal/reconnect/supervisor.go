// ABOUTME: ReconnectSupervisor: bounded-retry state machine for re-establishing the gateway session
// ABOUTME: Fixed delay between attempts; exhausting the budget is fatal for the process

package reconnect

//go:generate go run go.uber.org/mock/mockgen -source=supervisor.go -destination=../mocks/mock_reconnect.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/coven-presence/internal/clock"
	"github.com/2389/coven-presence/internal/schedule"
)

const (
	// DefaultMaxAttempts is the reconnect budget.
	DefaultMaxAttempts = 5

	// DefaultDelay separates consecutive attempts. There is no backoff.
	DefaultDelay = 5 * time.Second

	// DefaultLoginTimeout bounds one login call.
	DefaultLoginTimeout = 30 * time.Second
)

// ErrExhausted is reported once the attempt budget is spent.
var ErrExhausted = errors.New("max reconnect attempts reached")

// State is the supervisor's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Connector (re-)establishes the gateway session.
type Connector interface {
	Login(ctx context.Context) error
}

// Config configures a Supervisor.
type Config struct {
	Connector    Connector
	MaxAttempts  int
	Delay        time.Duration
	LoginTimeout time.Duration

	// OnConnected runs on the executor after a successful attempt.
	OnConnected func(ctx context.Context)
	// OnExhausted runs on the executor when the budget is spent. The
	// owner is expected to terminate the process with a non-zero status.
	OnExhausted func(err error)

	Clock  clock.Clock
	Exec   schedule.Executor
	Runner schedule.Runner
	Logger *slog.Logger
}

// Supervisor owns the ReconnectCounter. All methods except Attempts and
// State must be called from its executor.
type Supervisor struct {
	connector    Connector
	max          int
	delay        time.Duration
	loginTimeout time.Duration
	onConnected  func(ctx context.Context)
	onExhausted  func(err error)
	clock        clock.Clock
	exec         schedule.Executor
	runner       schedule.Runner
	logger       *slog.Logger

	state    State
	attempts int
	retry    *clock.Timer

	// cycle is bumped by every try, Reset and Stop. A login result or a
	// retry firing that carries an older value is dropped.
	cycle uint64

	pubAttempts atomic.Int64
	pubState    atomic.Int32
}

// New returns an idle supervisor.
func New(cfg Config) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = schedule.Inline()
	}
	if cfg.Runner == nil {
		cfg.Runner = schedule.Background(cfg.Exec)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnConnected == nil {
		cfg.OnConnected = func(context.Context) {}
	}
	if cfg.OnExhausted == nil {
		cfg.OnExhausted = func(error) {}
	}

	return &Supervisor{
		connector:    cfg.Connector,
		max:          cfg.MaxAttempts,
		delay:        cfg.Delay,
		loginTimeout: cfg.LoginTimeout,
		onConnected:  cfg.OnConnected,
		onExhausted:  cfg.OnExhausted,
		clock:        cfg.Clock,
		exec:         cfg.Exec,
		runner:       cfg.Runner,
		logger:       cfg.Logger.With("component", "reconnect"),
	}
}

// Attempt starts a reconnect cycle. While a cycle is in flight, or after
// the budget is spent, it does nothing.
func (s *Supervisor) Attempt(ctx context.Context) {
	switch s.state {
	case StateAttempting:
		s.logger.Debug("reconnect already in progress", "attempt", s.attempts)
		return
	case StateExhausted:
		return
	}
	s.try(ctx)
}

func (s *Supervisor) try(ctx context.Context) {
	s.retry = nil
	s.cycle++
	cycle := s.cycle

	if s.attempts >= s.max {
		s.setState(StateExhausted)
		s.logger.Error("max reconnect attempts reached, exiting", "attempts", s.attempts, "max", s.max)
		s.onExhausted(fmt.Errorf("%w (%d/%d)", ErrExhausted, s.attempts, s.max))
		return
	}

	s.attempts++
	s.pubAttempts.Store(int64(s.attempts))
	s.setState(StateAttempting)
	s.logger.Info("reconnecting", "attempt", s.attempts, "max", s.max)

	s.runner.Run(func() error {
		loginCtx, cancel := context.WithTimeout(ctx, s.loginTimeout)
		defer cancel()
		return s.connector.Login(loginCtx)
	}, func(err error) {
		s.finish(ctx, cycle, err)
	})
}

func (s *Supervisor) finish(ctx context.Context, cycle uint64, err error) {
	if cycle != s.cycle || s.state != StateAttempting {
		// Reset or stopped while the login was in flight.
		return
	}

	if err == nil {
		s.logger.Info("reconnected", "attempts", s.attempts)
		s.attempts = 0
		s.pubAttempts.Store(0)
		s.setState(StateIdle)
		s.onConnected(ctx)
		return
	}

	s.logger.Error("reconnect failed", "attempt", s.attempts, "max", s.max, "retry_in", s.delay, "error", err)
	if ctx.Err() != nil {
		s.setState(StateIdle)
		return
	}
	s.retry = s.clock.AfterFunc(s.delay, func() {
		s.exec.Submit(func() {
			if cycle == s.cycle && s.state == StateAttempting {
				s.try(ctx)
			}
		})
	})
}

// Reset clears the counter after a session was established by other
// means, such as the gateway's own resume.
func (s *Supervisor) Reset() {
	if s.state == StateExhausted {
		return
	}
	s.cycle++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.attempts = 0
	s.pubAttempts.Store(0)
	s.setState(StateIdle)
}

// Stop cancels a pending retry. An in-flight login is allowed to finish
// but its result is ignored.
func (s *Supervisor) Stop() {
	s.cycle++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.state == StateAttempting {
		s.setState(StateIdle)
	}
}

// Attempts returns the current counter. Safe from any goroutine.
func (s *Supervisor) Attempts() int {
	return int(s.pubAttempts.Load())
}

// State returns the state machine position. Safe from any goroutine.
func (s *Supervisor) State() State {
	return State(s.pubState.Load())
}

// Max returns the attempt budget.
func (s *Supervisor) Max() int {
	return s.max
}

func (s *Supervisor) setState(st State) {
	s.state = st
	s.pubState.Store(int32(st))
}
