// ABOUTME: SQLite-backed presence store using modernc.org/sqlite
// ABOUTME: Creates its schema on open and keeps rotation progress across restarts

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-presence/internal/presence"
)

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements presence.History and lifecycle.Journal.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens or creates the database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; the bot's writes are tiny and serialized on the loop anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rotation_state (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			message_index INTEGER NOT NULL,
			mode_index    INTEGER NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS presence_history (
			id         TEXT PRIMARY KEY,
			message    TEXT NOT NULL,
			mode       TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (outcome IN ('applied', 'failed', 'reset', 'reset_failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_presence_history_created ON presence_history(created_at DESC);

		CREATE TABLE IF NOT EXISTS connection_events (
			id         TEXT PRIMARY KEY,
			event      TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_connection_events_created ON connection_events(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveRotation upserts the rotation cursor.
func (s *SQLiteStore) SaveRotation(ctx context.Context, state presence.State) error {
	query := `
		INSERT INTO rotation_state (id, message_index, mode_index, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_index = excluded.message_index,
			mode_index = excluded.mode_index,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, state.MessageIndex, state.ModeIndex, s.timestamp())
	if err != nil {
		return fmt.Errorf("saving rotation state: %w", err)
	}
	return nil
}

// LoadRotation returns the saved cursor, or ErrNotFound on a fresh database.
func (s *SQLiteStore) LoadRotation(ctx context.Context) (presence.State, error) {
	var state presence.State
	err := s.db.QueryRowContext(ctx,
		`SELECT message_index, mode_index FROM rotation_state WHERE id = 1`,
	).Scan(&state.MessageIndex, &state.ModeIndex)
	if err == sql.ErrNoRows {
		return presence.State{}, ErrNotFound
	}
	if err != nil {
		return presence.State{}, fmt.Errorf("querying rotation state: %w", err)
	}
	return state, nil
}

// AppendPresence records a presence write.
func (s *SQLiteStore) AppendPresence(ctx context.Context, entry presence.Entry, outcome presence.Outcome) error {
	query := `
		INSERT INTO presence_history (id, message, mode, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), entry.Message, string(entry.Mode), string(outcome), s.timestamp())
	if err != nil {
		return fmt.Errorf("inserting presence history: %w", err)
	}
	return nil
}

// ListPresenceHistory returns the most recent presence writes, newest first.
func (s *SQLiteStore) ListPresenceHistory(ctx context.Context, limit int) ([]PresenceRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message, mode, outcome, created_at
		FROM presence_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying presence history: %w", err)
	}
	defer rows.Close()

	var records []PresenceRecord
	for rows.Next() {
		var r PresenceRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Message, &r.Mode, &r.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning presence history: %w", err)
		}
		if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence history: %w", err)
	}
	return records, nil
}

// AppendConnectionEvent journals one lifecycle transition.
func (s *SQLiteStore) AppendConnectionEvent(ctx context.Context, event, from, to string) error {
	query := `
		INSERT INTO connection_events (id, event, from_state, to_state, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), event, from, to, s.timestamp())
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	s.logger.Debug("journaled connection event", "event", event, "from", from, "to", to)
	return nil
}

// ListConnectionEvents returns the most recent lifecycle events, newest first.
func (s *SQLiteStore) ListConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, from_state, to_state, created_at
		FROM connection_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Event, &e.From, &e.To, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

// Prune deletes history and journal rows older than cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(timeFormat)

	var total int64
	for _, table := range []string{"presence_history", "connection_events"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", ts)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Info("pruned history", "rows", total, "before", ts)
	}
	return total, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
