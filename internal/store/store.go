// ABOUTME: Record types and sentinel errors for the presence store
// ABOUTME: Rotation cursor, presence history and the connection-event journal

// Package store persists what the bot needs to survive a restart, plus a
// short history for the health endpoint and the status command.
//
// Three tables live in one SQLite file:
//
//   - rotation_state: a single row holding the rotation cursor
//   - presence_history: every presence write and its outcome
//   - connection_events: every lifecycle event the coordinator applied
//
// The store is optional. When no database path is configured the bot runs
// without persistence and rotation starts from the first entry.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 50

// ConnectionEvent is one applied lifecycle event.
type ConnectionEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceRecord is one presence write.
type PresenceRecord struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Mode      string    `json:"mode"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
