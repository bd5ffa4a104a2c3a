// ABOUTME: Tests for the Matrix client against an in-process fake homeserver
// ABOUTME: Covers login, presence writes, and lifecycle events derived from sync health

package matrix

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-presence/internal/lifecycle"
	"github.com/2389/coven-presence/internal/presence"
)

const testUserID = "@presence:example.org"

// Sync failure modes for the fake homeserver.
const (
	syncOK int32 = iota
	syncUnavailable
	syncUnknownToken
)

type fakeHomeserver struct {
	*httptest.Server

	syncMode atomic.Int32
	whoami   atomic.Value // string user id returned by whoami

	mu        sync.Mutex
	presences []presenceRequest
	syncs     int
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{}
	hs.whoami.Store(testUserID)
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.handle))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *fakeHomeserver) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/account/whoami"):
		json.NewEncoder(w).Encode(map[string]string{
			"user_id":   hs.whoami.Load().(string),
			"device_id": "PRESENCEBOT",
		})

	case strings.HasSuffix(path, "/filter") && r.Method == http.MethodPost:
		json.NewEncoder(w).Encode(map[string]string{"filter_id": "1"})

	case strings.HasSuffix(path, "/sync"):
		hs.mu.Lock()
		hs.syncs++
		n := hs.syncs
		hs.mu.Unlock()

		switch hs.syncMode.Load() {
		case syncUnavailable:
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"errcode": "M_UNKNOWN", "error": "upstream down"})
		case syncUnknownToken:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "token revoked"})
		default:
			// Stand in for the long poll so the loop does not spin.
			if n > 1 {
				select {
				case <-time.After(20 * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"next_batch": "s" + time.Now().Format("150405.000000")})
		}

	case strings.Contains(path, "/presence/") && r.Method == http.MethodPut:
		var req presenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hs.mu.Lock()
		hs.presences = append(hs.presences, req)
		hs.mu.Unlock()
		w.Write([]byte(`{}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"errcode": "M_UNRECOGNIZED", "error": path})
	}
}

type eventRecorder struct {
	ch chan lifecycle.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan lifecycle.Event, 64)}
}

func (r *eventRecorder) record(ev lifecycle.Event) { r.ch <- ev }

func (r *eventRecorder) next(t *testing.T) lifecycle.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lifecycle event")
		return 0
	}
}

func newTestClient(t *testing.T, hs *fakeHomeserver, rec *eventRecorder) *Client {
	t.Helper()
	c, err := New(Config{
		Homeserver:     hs.URL,
		UserID:         testUserID,
		AccessToken:    "syt_test",
		SyncRetryDelay: 10 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	c.OnEvent(rec.record)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Destroy(ctx)
	})
	return c
}

func TestLogin_EmitsReadyAndBecomesReady(t *testing.T) {
	hs := newFakeHomeserver(t)
	rec := newEventRecorder()
	c := newTestClient(t, hs, rec)

	assert.False(t, c.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Login(ctx))

	assert.Equal(t, lifecycle.EventReady, rec.next(t))
	assert.True(t, c.IsReady())
	assert.Greater(t, c.Ping(), time.Duration(0))
	assert.Equal(t, testUserID, c.UserID())
}

func TestLogin_RejectsTokenForAnotherUser(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.whoami.Store("@someone:example.org")
	c := newTestClient(t, hs, newEventRecorder())

	err := c.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "@someone:example.org")
	assert.False(t, c.IsReady())
}

func TestLogin_FailsOnRevokedToken(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.syncMode.Store(syncUnknownToken)
	c := newTestClient(t, hs, newEventRecorder())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Login(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial sync")
	assert.False(t, c.IsReady())
}

func TestSync_DisconnectReconnectResume(t *testing.T) {
	hs := newFakeHomeserver(t)
	rec := newEventRecorder()
	c := newTestClient(t, hs, rec)

	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, lifecycle.EventReady, rec.next(t))

	hs.syncMode.Store(syncUnavailable)
	assert.Equal(t, lifecycle.EventDisconnected, rec.next(t))
	assert.Equal(t, lifecycle.EventReconnecting, rec.next(t))
	assert.Eventually(t, func() bool { return !c.IsReady() }, time.Second, 5*time.Millisecond)

	hs.syncMode.Store(syncOK)
	assert.Equal(t, lifecycle.EventResumed, rec.next(t))
	assert.True(t, c.IsReady())
}

func TestSync_RevokedTokenStopsLoop(t *testing.T) {
	hs := newFakeHomeserver(t)
	rec := newEventRecorder()
	c := newTestClient(t, hs, rec)

	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, lifecycle.EventReady, rec.next(t))

	hs.syncMode.Store(syncUnknownToken)
	assert.Equal(t, lifecycle.EventDisconnected, rec.next(t))
	assert.Eventually(t, func() bool { return !c.IsReady() }, time.Second, 5*time.Millisecond)

	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event after fatal sync error: %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSetPresence(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs, newEventRecorder())

	ctx := context.Background()
	require.NoError(t, c.SetPresence(ctx, presence.Entry{Message: "🎧 Listening to ArctixMC", Mode: presence.ModeDoNotDisturb}))
	require.NoError(t, c.SetPresence(ctx, presence.ResetEntry))

	hs.mu.Lock()
	defer hs.mu.Unlock()
	require.Len(t, hs.presences, 2)
	assert.Equal(t, presenceRequest{Presence: event.PresenceUnavailable, StatusMsg: "🎧 Listening to ArctixMC"}, hs.presences[0])
	assert.Equal(t, presenceRequest{Presence: event.PresenceOnline, StatusMsg: "Status Reset"}, hs.presences[1])
}

func TestSetPresence_ServerError(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs, newEventRecorder())
	hs.Close()

	err := c.SetPresence(context.Background(), presence.ResetEntry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setting presence")
}

func TestDestroy_StopsSyncAndBlocksLogin(t *testing.T) {
	hs := newFakeHomeserver(t)
	rec := newEventRecorder()
	c := newTestClient(t, hs, rec)

	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, lifecycle.EventReady, rec.next(t))

	require.NoError(t, c.Destroy(context.Background()))
	assert.False(t, c.IsReady())
	assert.ErrorIs(t, c.Login(context.Background()), ErrDestroyed)

	// Safe to call twice.
	assert.NoError(t, c.Destroy(context.Background()))
}

func TestPresenceFor(t *testing.T) {
	assert.Equal(t, event.PresenceOnline, PresenceFor(presence.ModeOnline))
	assert.Equal(t, event.PresenceUnavailable, PresenceFor(presence.ModeIdle))
	assert.Equal(t, event.PresenceUnavailable, PresenceFor(presence.ModeDoNotDisturb))
	assert.Equal(t, event.PresenceOffline, PresenceFor(presence.ModeInvisible))
}
