// ABOUTME: Matrix gateway client built on mautrix: login, readiness, presence writes and teardown
// ABOUTME: Implements the presence setter, readiness probe and reconnect connector

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-presence/internal/lifecycle"
	"github.com/2389/coven-presence/internal/presence"
)

// DefaultSyncRetryDelay is how long a failed sync waits before retrying.
const DefaultSyncRetryDelay = 10 * time.Second

// ErrDestroyed is returned by Login after Destroy.
var ErrDestroyed = errors.New("matrix client destroyed")

// Config configures a Client.
type Config struct {
	Homeserver     string
	UserID         string
	AccessToken    string
	SyncRetryDelay time.Duration
	Logger         *slog.Logger
}

// Client keeps one sync loop running against the homeserver.
type Client struct {
	cli        *mautrix.Client
	logger     *slog.Logger
	retryDelay time.Duration

	onEvent atomic.Pointer[func(lifecycle.Event)]
	current atomic.Pointer[syncer]
	ping    atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

// presenceRequest is the body of PUT /presence/{userId}/status.
type presenceRequest struct {
	Presence  event.Presence `json:"presence"`
	StatusMsg string         `json:"status_msg,omitempty"`
}

// New creates a client. No network traffic happens until Login.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncRetryDelay <= 0 {
		cfg.SyncRetryDelay = DefaultSyncRetryDelay
	}

	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	// Syncing must not override the rotated presence.
	cli.SyncPresence = event.PresenceOffline
	// Retries belong to the sync loop and the reconnect supervisor.
	cli.DefaultHTTPRetries = 0

	return &Client{
		cli:        cli,
		logger:     cfg.Logger.With("component", "matrix"),
		retryDelay: cfg.SyncRetryDelay,
	}, nil
}

// OnEvent sets the lifecycle event handler. Call before Login. The
// handler runs on the sync goroutine and must not block.
func (c *Client) OnEvent(fn func(lifecycle.Event)) {
	c.onEvent.Store(&fn)
}

func (c *Client) emit(ev lifecycle.Event) {
	if fn := c.onEvent.Load(); fn != nil {
		(*fn)(ev)
	}
}

// Login validates the access token, restarts the sync loop and waits for
// the first successful sync. The Ready event fires from the sync loop
// before Login returns.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}

	start := time.Now()
	who, err := c.cli.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("validating access token: %w", err)
	}
	c.ping.Store(int64(time.Since(start)))
	if who.UserID != c.cli.UserID {
		return fmt.Errorf("access token belongs to %s, not %s", who.UserID, c.cli.UserID)
	}

	c.stopSync()

	s := newSyncer(c.emit, c.retryDelay, c.logger)
	first := s.first

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	syncCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.cli.Syncer = s
	c.current.Store(s)
	c.mu.Unlock()

	go func() {
		defer close(done)
		err := c.cli.SyncWithContext(syncCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("sync loop stopped", "error", err)
		}
		s.stopped(err)
	}()

	select {
	case err := <-first:
		if err != nil {
			c.stopSync()
			return fmt.Errorf("initial sync: %w", err)
		}
	case <-ctx.Done():
		c.stopSync()
		return fmt.Errorf("waiting for initial sync: %w", ctx.Err())
	}

	c.logger.Info("logged in",
		"user_id", who.UserID,
		"device_id", who.DeviceID,
		"homeserver", c.cli.HomeserverURL.String(),
		"ping", c.Ping(),
	)
	return nil
}

// IsReady reports whether the most recent sync succeeded.
func (c *Client) IsReady() bool {
	s := c.current.Load()
	return s != nil && s.isReady()
}

// Ping returns the round trip of the last token validation.
func (c *Client) Ping() time.Duration {
	return time.Duration(c.ping.Load())
}

// UserID returns the account the client acts as.
func (c *Client) UserID() string {
	return c.cli.UserID.String()
}

// SetPresence publishes entry as the account's presence and status message.
func (c *Client) SetPresence(ctx context.Context, entry presence.Entry) error {
	req := presenceRequest{
		Presence:  PresenceFor(entry.Mode),
		StatusMsg: entry.Message,
	}
	url := c.cli.BuildClientURL("v3", "presence", c.cli.UserID, "status")
	if _, err := c.cli.MakeRequest(ctx, http.MethodPut, url, req, nil); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}

// Destroy stops the sync loop. Login fails afterwards.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()

	done := c.stopSyncAsync()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		c.logger.Info("matrix session closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync loop: %w", ctx.Err())
	}
}

// stopSync cancels the running loop and waits for it to exit.
func (c *Client) stopSync() {
	if done := c.stopSyncAsync(); done != nil {
		<-done
	}
}

func (c *Client) stopSyncAsync() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cli.StopSync()
	done := c.done
	c.cancel, c.done = nil, nil
	return done
}

// PresenceFor maps a presence mode onto the Matrix presence states.
// Matrix has no do-not-disturb, so dnd shows as unavailable like idle.
func PresenceFor(mode presence.Mode) event.Presence {
	switch mode {
	case presence.ModeOnline:
		return event.PresenceOnline
	case presence.ModeIdle, presence.ModeDoNotDisturb:
		return event.PresenceUnavailable
	case presence.ModeInvisible:
		return event.PresenceOffline
	default:
		return event.PresenceOnline
	}
}
