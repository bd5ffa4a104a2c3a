// ABOUTME: mautrix syncer that turns sync successes and failures into lifecycle events
// ABOUTME: One syncer per sync loop; the first success of a loop is Ready, recovery is Resumed

package matrix

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"

	"github.com/2389/coven-presence/internal/lifecycle"
)

// syncer wraps the default syncer and tracks session health for one
// SyncWithContext loop.
type syncer struct {
	*mautrix.DefaultSyncer

	logger     *slog.Logger
	emit       func(lifecycle.Event)
	retryDelay time.Duration

	mu      sync.Mutex
	started bool // at least one successful sync in this loop
	ready   bool
	failing bool
	first   chan error
}

func newSyncer(emit func(lifecycle.Event), retryDelay time.Duration, logger *slog.Logger) *syncer {
	return &syncer{
		DefaultSyncer: mautrix.NewDefaultSyncer(),
		logger:        logger,
		emit:          emit,
		retryDelay:    retryDelay,
		first:         make(chan error, 1),
	}
}

// ProcessResponse is called by mautrix after every successful sync.
func (s *syncer) ProcessResponse(ctx context.Context, resp *mautrix.RespSync, since string) error {
	if err := s.DefaultSyncer.ProcessResponse(ctx, resp, since); err != nil {
		return err
	}

	s.mu.Lock()
	started, failing := s.started, s.failing
	s.started, s.ready, s.failing = true, true, false
	s.mu.Unlock()

	switch {
	case !started:
		rooms := 0
		if resp != nil {
			rooms = len(resp.Rooms.Join)
		}
		s.logger.Info("initial sync complete", "joined_rooms", rooms)
		s.signalFirst(nil)
		s.emit(lifecycle.EventReady)
	case failing:
		s.emit(lifecycle.EventResumed)
	}
	return nil
}

// OnFailedSync is called by mautrix when a sync request fails. Returning
// an error ends the sync loop.
func (s *syncer) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	if errors.Is(err, context.Canceled) {
		return 0, err
	}

	fatal := errors.Is(err, mautrix.MUnknownToken)

	s.mu.Lock()
	wasReady, failing := s.ready, s.failing
	s.ready, s.failing = false, true
	s.mu.Unlock()

	if wasReady {
		s.emit(lifecycle.EventDisconnected)
	}

	if fatal {
		s.logger.Error("access token rejected, stopping sync", "error", err)
		s.signalFirst(err)
		return 0, err
	}

	if !failing {
		s.logger.Warn("sync failed, retrying", "error", err, "retry_in", s.retryDelay)
		s.emit(lifecycle.EventReconnecting)
	} else {
		s.logger.Debug("sync still failing", "error", err)
	}
	return s.retryDelay, nil
}

// errSyncStopped is reported to a waiting Login when the loop ends
// before its first successful sync without an error of its own.
var errSyncStopped = errors.New("sync loop stopped")

// stopped marks the loop as gone without emitting anything.
func (s *syncer) stopped(err error) {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if err == nil {
		err = errSyncStopped
	}
	s.signalFirst(err)
}

func (s *syncer) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *syncer) signalFirst(err error) {
	select {
	case s.first <- err:
	default:
	}
}
