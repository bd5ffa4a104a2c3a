// ABOUTME: Tests for the SQLite presence store
// ABOUTME: Covers rotation upserts, history ordering, the event journal and pruning

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/coven-presence/internal/presence"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "presence.db")

	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestRotationState_LoadFreshDatabase(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadRotation(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotationState_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRotation(ctx, presence.State{MessageIndex: 1, ModeIndex: 2}); err != nil {
		t.Fatalf("SaveRotation failed: %v", err)
	}
	if err := store.SaveRotation(ctx, presence.State{MessageIndex: 0, ModeIndex: 1}); err != nil {
		t.Fatalf("SaveRotation failed: %v", err)
	}

	got, err := store.LoadRotation(ctx)
	if err != nil {
		t.Fatalf("LoadRotation failed: %v", err)
	}
	want := presence.State{MessageIndex: 0, ModeIndex: 1}
	if got != want {
		t.Errorf("LoadRotation = %+v, want %+v", got, want)
	}
}

func TestRotationState_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "presence.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.SaveRotation(ctx, presence.State{MessageIndex: 3, ModeIndex: 1}); err != nil {
		t.Fatalf("SaveRotation failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, err := second.LoadRotation(ctx)
	if err != nil {
		t.Fatalf("LoadRotation failed: %v", err)
	}
	if got.MessageIndex != 3 || got.ModeIndex != 1 {
		t.Errorf("LoadRotation = %+v after reopen", got)
	}
}

func TestPresenceHistory_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writes := []struct {
		entry   presence.Entry
		outcome presence.Outcome
	}{
		{presence.Entry{Message: "A", Mode: presence.ModeDoNotDisturb}, presence.OutcomeApplied},
		{presence.Entry{Message: "B", Mode: presence.ModeIdle}, presence.OutcomeFailed},
		{presence.ResetEntry, presence.OutcomeReset},
	}
	for _, w := range writes {
		if err := store.AppendPresence(ctx, w.entry, w.outcome); err != nil {
			t.Fatalf("AppendPresence failed: %v", err)
		}
	}

	records, err := store.ListPresenceHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListPresenceHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Message != "Status Reset" || records[0].Outcome != "reset" {
		t.Errorf("newest record = %+v", records[0])
	}
	if records[2].Message != "A" || records[2].Mode != "dnd" {
		t.Errorf("oldest record = %+v", records[2])
	}
	if records[0].ID == "" || records[0].ID == records[1].ID {
		t.Error("records should carry distinct IDs")
	}
}

func TestPresenceHistory_RejectsUnknownOutcome(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendPresence(context.Background(), presence.Entry{Message: "x", Mode: presence.ModeOnline}, "exploded")
	if err == nil {
		t.Fatal("expected constraint error for unknown outcome")
	}
}

func TestConnectionEvents_JournalAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sequence := [][3]string{
		{"ready", "connecting", "connected"},
		{"disconnected", "connected", "disconnected"},
		{"reconnecting", "disconnected", "reconnecting"},
		{"resumed", "reconnecting", "connected"},
	}
	for _, ev := range sequence {
		if err := store.AppendConnectionEvent(ctx, ev[0], ev[1], ev[2]); err != nil {
			t.Fatalf("AppendConnectionEvent failed: %v", err)
		}
	}

	events, err := store.ListConnectionEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListConnectionEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "resumed" || events[0].From != "reconnecting" || events[0].To != "connected" {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[1].Event != "reconnecting" {
		t.Errorf("second event = %+v", events[1])
	}
	if !events[0].CreatedAt.After(events[1].CreatedAt) {
		t.Error("events should be ordered newest first")
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.AppendConnectionEvent(ctx, "ready", "connecting", "connected"); err != nil {
			t.Fatalf("AppendConnectionEvent failed: %v", err)
		}
	}
	if err := store.AppendPresence(ctx, presence.Entry{Message: "A", Mode: presence.ModeIdle}, presence.OutcomeApplied); err != nil {
		t.Fatalf("AppendPresence failed: %v", err)
	}

	// Rows were stamped base+1ms .. base+4ms.
	cutoff := time.Date(2026, 3, 1, 9, 0, 0, int(2500*time.Microsecond), time.UTC)
	n, err := store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}

	events, err := store.ListConnectionEvents(ctx, 0)
	if err != nil {
		t.Fatalf("ListConnectionEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event left, got %d", len(events))
	}
	history, err := store.ListPresenceHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListPresenceHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected presence row to survive, got %d", len(history))
	}
}
