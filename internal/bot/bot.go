// ABOUTME: Bot orchestrator that wires rotation, liveness, reconnect, lifecycle and health
// ABOUTME: Owns the event loop and the run/shutdown sequence for the presence process

package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-presence/internal/clock"
	"github.com/2389/coven-presence/internal/config"
	"github.com/2389/coven-presence/internal/health"
	"github.com/2389/coven-presence/internal/lifecycle"
	"github.com/2389/coven-presence/internal/liveness"
	"github.com/2389/coven-presence/internal/matrix"
	"github.com/2389/coven-presence/internal/presence"
	"github.com/2389/coven-presence/internal/reconnect"
	"github.com/2389/coven-presence/internal/schedule"
	"github.com/2389/coven-presence/internal/store"
)

// pruneInterval is how often expired history rows are deleted.
const pruneInterval = time.Hour

// Gateway is the chat platform session the bot drives.
type Gateway interface {
	Login(ctx context.Context) error
	IsReady() bool
	Ping() time.Duration
	SetPresence(ctx context.Context, entry presence.Entry) error
	OnEvent(fn func(lifecycle.Event))
	Destroy(ctx context.Context) error
	UserID() string
}

var (
	_ Gateway                 = (*matrix.Client)(nil)
	_ lifecycle.Periodic      = (*presence.Rotator)(nil)
	_ lifecycle.Periodic      = (*liveness.Monitor)(nil)
	_ lifecycle.Starter       = (*health.Server)(nil)
	_ lifecycle.Recovery      = (*reconnect.Supervisor)(nil)
	_ lifecycle.Journal       = (*store.SQLiteStore)(nil)
	_ presence.History        = (*store.SQLiteStore)(nil)
	_ health.EventLister      = (*store.SQLiteStore)(nil)
	_ liveness.Recoverer      = (*reconnect.Supervisor)(nil)
	_ reconnect.Connector     = Gateway(nil)
	_ liveness.ReadinessProbe = Gateway(nil)
	_ health.StatusSource     = (*Bot)(nil)
)

// Option customizes a Bot, mainly for tests.
type Option func(*options)

type options struct {
	gateway Gateway
	clock   clock.Clock
}

// WithGateway replaces the Matrix client.
func WithGateway(g Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithClock replaces the wall clock used for every timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Bot orchestrates the coven-presence components.
type Bot struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	loop        *schedule.Loop
	gateway     Gateway
	store       *store.SQLiteStore // nil when persistence is disabled
	rotator     *presence.Rotator
	monitor     *liveness.Monitor
	supervisor  *reconnect.Supervisor
	coordinator *lifecycle.Coordinator
	health      *health.Server
	prune       *schedule.Task // nil without a store or retention

	messages []string
	modes    []presence.Mode

	startedAt time.Time
	fatal     chan error
}

// New builds every component from cfg. cfg must already be validated.
// Nothing touches the network until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Bot, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		loop:     schedule.NewLoop(logger),
		messages: cfg.Presence.Messages,
		modes:    cfg.PresenceModes(),
		fatal:    make(chan error, 1),
	}
	b.startedAt = b.clock.Now()

	gw := o.gateway
	if gw == nil {
		client, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		gw = client
	}
	b.gateway = gw

	initial, err := b.openStore()
	if err != nil {
		return nil, err
	}

	var history presence.History
	var journal lifecycle.Journal
	var events health.EventLister
	if b.store != nil {
		history, journal, events = b.store, b.store, b.store
	}

	b.rotator, err = presence.NewRotator(presence.Config{
		Messages: b.messages,
		Modes:    b.modes,
		Interval: cfg.Presence.Interval,
		Initial:  initial,
		Setter:   gw,
		History:  history,
		Clock:    b.clock,
		Exec:     b.loop,
		Logger:   logger,
	})
	if err != nil {
		b.closeStore()
		return nil, fmt.Errorf("creating presence rotator: %w", err)
	}

	b.supervisor = reconnect.New(reconnect.Config{
		Connector:    gw,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		Delay:        cfg.Reconnect.Delay,
		LoginTimeout: cfg.Reconnect.LoginTimeout,
		OnConnected:  b.onReconnected,
		OnExhausted:  b.onExhausted,
		Clock:        b.clock,
		Exec:         b.loop,
		Logger:       logger,
	})

	b.monitor = liveness.NewMonitor(liveness.Config{
		Probe:     gw,
		Recoverer: b.supervisor,
		Interval:  cfg.Liveness.Interval,
		Clock:     b.clock,
		Exec:      b.loop,
		Logger:    logger,
	})

	b.health, err = health.New(health.Config{
		Addr:     cfg.Addr(),
		PagePath: cfg.Server.Page,
		Tailscale: health.TailscaleOptions{
			Enabled:   cfg.Tailscale.Enabled,
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
		},
		Source: b,
		Events: events,
		Logger: logger,
	})
	if err != nil {
		b.closeStore()
		return nil, fmt.Errorf("creating health server: %w", err)
	}

	b.coordinator = lifecycle.NewCoordinator(lifecycle.Config{
		Rotation: b.rotator,
		Liveness: b.monitor,
		Health:   b.health,
		Recovery: b.supervisor,
		Journal:  journal,
		Clock:    b.clock,
		Exec:     b.loop,
		Logger:   logger,
	})

	if b.store != nil && cfg.Database.Retention > 0 {
		b.prune = schedule.NewTask("history-prune", pruneInterval, b.clock, b.loop, b.pruneHistory)
	}

	return b, nil
}

// openStore opens the database when one is configured and returns the
// saved rotation cursor, or the zero cursor.
func (b *Bot) openStore() (presence.State, error) {
	if b.cfg.Database.Path == "" {
		b.logger.Debug("persistence disabled")
		return presence.State{}, nil
	}

	s, err := store.NewSQLiteStore(b.cfg.Database.Path, b.logger)
	if err != nil {
		return presence.State{}, err
	}
	b.store = s

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := s.LoadRotation(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return presence.State{}, nil
	case err != nil:
		b.logger.Warn("failed to load rotation state, starting from the top", "error", err)
		return presence.State{}, nil
	}
	b.logger.Info("restored rotation state", "message_index", state.MessageIndex, "mode_index", state.ModeIndex)
	return state, nil
}

func (b *Bot) closeStore() {
	if b.store != nil {
		_ = b.store.Close()
	}
}

// onReconnected runs on the loop after a supervisor login succeeds.
func (b *Bot) onReconnected(ctx context.Context) {
	b.coordinator.Apply(ctx, lifecycle.EventReady)
}

// onExhausted runs on the loop once the reconnect budget is spent.
func (b *Bot) onExhausted(err error) {
	select {
	case b.fatal <- err:
	default:
	}
}

func (b *Bot) pruneHistory(ctx context.Context) {
	cutoff := b.clock.Now().Add(-b.cfg.Database.Retention)
	if _, err := b.store.Prune(ctx, cutoff); err != nil {
		b.logger.Warn("failed to prune history", "error", err)
	}
}

// Run logs in, then blocks until ctx is canceled or a fatal error
// happens. It always shuts everything down before returning. A nil
// return means a clean, signal-driven exit.
func (b *Bot) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go b.loop.Run(loopCtx)

	b.gateway.OnEvent(func(ev lifecycle.Event) {
		b.coordinator.Dispatch(ctx, ev)
	})

	if b.prune != nil {
		b.loop.Submit(func() { b.prune.Start(ctx) })
	}

	b.logger.Info("logging in", "user_id", b.gateway.UserID())
	loginCtx, cancel := context.WithTimeout(ctx, cmp.Or(b.cfg.Reconnect.LoginTimeout, reconnect.DefaultLoginTimeout))
	err := b.gateway.Login(loginCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		b.logger.Info("received shutdown signal during login")
		return b.gracefulShutdown()
	}
	if err != nil {
		b.logger.Error("failed to start bot", "error", err)
		shutdownErr := b.gracefulShutdown()
		return errors.Join(fmt.Errorf("initial login: %w", err), shutdownErr)
	}

	runErr := b.waitForShutdownSignal(ctx)
	shutdownErr := b.gracefulShutdown()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func (b *Bot) waitForShutdownSignal(ctx context.Context) error {
	select {
	case <-ctx.Done():
		b.logger.Info("received shutdown signal")
		return nil
	case err := <-b.fatal:
		return err
	case err := <-b.health.Errors():
		b.logger.Error("health server failed", "error", err)
		return fmt.Errorf("health server: %w", err)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (b *Bot) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the periodic tasks on the loop, ends the gateway
// session, stops the health server and closes the store.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.logger.Info("bot is shutting down")

	stopped := b.loop.Call(ctx, func() {
		b.coordinator.Shutdown()
		if b.prune != nil {
			b.prune.Stop()
		}
	})
	if !stopped {
		b.logger.Warn("event loop did not stop the components in time")
	}

	var errs []error
	errs = appendCloseError(errs, "gateway destroy", b.gateway.Destroy(ctx))
	errs = appendCloseError(errs, "health shutdown", b.health.Shutdown(ctx))
	if b.store != nil {
		errs = appendCloseError(errs, "store close", b.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Health exposes the health server, mainly for tests.
func (b *Bot) Health() *health.Server {
	return b.health
}

// State returns the published connection state.
func (b *Bot) State() lifecycle.ConnectionState {
	return b.coordinator.State()
}

// Status builds the /health/status snapshot from published values only,
// so it is safe to call from HTTP handlers.
func (b *Bot) Status() health.Status {
	pos := b.rotator.Position()
	state := b.coordinator.State()
	now := b.clock.Now()

	st := health.Status{
		State:             state.String(),
		Ready:             state == lifecycle.StateConnected,
		Since:             b.coordinator.Since(),
		UserID:            b.gateway.UserID(),
		MessageIndex:      pos.MessageIndex,
		ModeIndex:         pos.ModeIndex,
		NextMessage:       b.messages[pos.MessageIndex],
		NextMode:          string(b.modes[pos.ModeIndex]),
		RotationActive:    state == lifecycle.StateConnected,
		ReconnectState:    b.supervisor.State().String(),
		ReconnectAttempts: b.supervisor.Attempts(),
		MaxAttempts:       b.supervisor.Max(),
		StartedAt:         b.startedAt,
	}
	st.Uptime = now.Sub(b.startedAt).Round(time.Second).String()
	return st
}
