// ABOUTME: PresenceRotator: cycles configured status entries on a fixed interval
// ABOUTME: Failed updates fall back to a reset status and leave the cursor where it was

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/2389/coven-presence/internal/clock"
	"github.com/2389/coven-presence/internal/schedule"
)

// DefaultInterval is how often the rotator advances.
const DefaultInterval = 10 * time.Second

// updateTimeout bounds a single presence write.
const updateTimeout = 10 * time.Second

// Setter pushes a presence entry to the chat platform.
type Setter interface {
	SetPresence(ctx context.Context, entry Entry) error
}

// History records rotation progress. Errors are logged, never fatal.
type History interface {
	SaveRotation(ctx context.Context, state State) error
	AppendPresence(ctx context.Context, entry Entry, outcome Outcome) error
}

// Config configures a Rotator.
type Config struct {
	Messages []string
	Modes    []Mode
	Interval time.Duration

	// Initial restores a saved cursor. It is normalized against the lists.
	Initial State

	Setter  Setter
	History History // optional
	Clock   clock.Clock
	Exec    schedule.Executor
	Logger  *slog.Logger
}

// Rotator owns the RotationState. All methods except Position must be
// called from the executor it was built with.
type Rotator struct {
	messages []string
	modes    []Mode
	setter   Setter
	history  History
	logger   *slog.Logger

	state     State
	published atomic.Pointer[State]
	task      *schedule.Task
}

// NewRotator validates cfg and returns a stopped rotator.
func NewRotator(cfg Config) (*Rotator, error) {
	if len(cfg.Messages) == 0 || len(cfg.Modes) == 0 {
		return nil, ErrEmptyRotation
	}
	if lo.Contains(cfg.Messages, "") {
		return nil, fmt.Errorf("rotation message %d is empty", lo.IndexOf(cfg.Messages, ""))
	}
	if unknown := lo.Without(cfg.Modes, ValidModes...); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown presence modes: %v", lo.Uniq(unknown))
	}
	if cfg.Setter == nil {
		return nil, fmt.Errorf("presence setter is required")
	}
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

	r := &Rotator{
		messages: append([]string(nil), cfg.Messages...),
		modes:    append([]Mode(nil), cfg.Modes...),
		setter:   cfg.Setter,
		history:  cfg.History,
		logger:   cfg.Logger.With("component", "presence"),
		state:    cfg.Initial.Normalize(len(cfg.Messages), len(cfg.Modes)),
	}
	r.publish()
	r.task = schedule.NewTask("presence-rotation", cfg.Interval, cfg.Clock, cfg.Exec, r.Tick)

	r.logger.Debug("presence rotation configured",
		"messages", len(r.messages),
		"modes", r.modes,
		"interval", cfg.Interval,
		"message_index", r.state.MessageIndex,
		"mode_index", r.state.ModeIndex,
	)
	return r, nil
}

// Current returns the entry the next tick will apply.
func (r *Rotator) Current() Entry {
	return Entry{
		Message: r.messages[r.state.MessageIndex],
		Mode:    r.modes[r.state.ModeIndex],
	}
}

// State returns the rotation cursor.
func (r *Rotator) State() State {
	return r.state
}

// Position returns the last published cursor. Safe from any goroutine.
func (r *Rotator) Position() State {
	return *r.published.Load()
}

// Tick applies the current entry. On success the cursor advances; on
// failure a reset status is attempted and the cursor stays put so the
// same entry is retried next tick.
func (r *Rotator) Tick(ctx context.Context) {
	entry := r.Current()

	err := r.set(ctx, entry)
	if err == nil {
		r.state = r.state.next(len(r.messages), len(r.modes))
		r.publish()
		r.logger.Info("updated status", "message", entry.Message, "mode", entry.Mode)
		r.record(ctx, entry, OutcomeApplied)
		r.save(ctx)
		return
	}

	r.logger.Error("failed to update status", "message", entry.Message, "mode", entry.Mode, "error", err)
	r.record(ctx, entry, OutcomeFailed)

	if resetErr := r.set(ctx, ResetEntry); resetErr != nil {
		r.logger.Error("failed to reset status", "error", resetErr, "update_error", err)
		r.record(ctx, ResetEntry, OutcomeResetFailed)
		return
	}
	r.logger.Warn("status reset after failed update", "message", ResetEntry.Message)
	r.record(ctx, ResetEntry, OutcomeReset)
}

// Start cancels any running timer, ticks once immediately, then ticks
// every interval.
func (r *Rotator) Start(ctx context.Context) {
	r.task.Stop()
	r.Tick(ctx)
	r.task.Start(ctx)
	r.logger.Info("status rotation started", "interval", r.task.Interval())
}

// Stop cancels the rotation timer. Safe when already stopped.
func (r *Rotator) Stop() {
	if r.task.Active() {
		r.logger.Info("status rotation stopped")
	}
	r.task.Stop()
}

// Active reports whether the rotation timer is armed.
func (r *Rotator) Active() bool {
	return r.task.Active()
}

func (r *Rotator) set(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	return r.setter.SetPresence(ctx, entry)
}

func (r *Rotator) publish() {
	s := r.state
	r.published.Store(&s)
}

func (r *Rotator) record(ctx context.Context, entry Entry, outcome Outcome) {
	if r.history == nil {
		return
	}
	if err := r.history.AppendPresence(ctx, entry, outcome); err != nil {
		r.logger.Warn("failed to record presence history", "outcome", outcome, "error", err)
	}
}

func (r *Rotator) save(ctx context.Context) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveRotation(ctx, r.state); err != nil {
		r.logger.Warn("failed to save rotation state", "error", err)
	}
}
