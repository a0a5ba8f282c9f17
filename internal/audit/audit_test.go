package audit

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "alice", "send_email", DecisionProposed, `{"to":"bob@example.com"}`); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, "alice", "send_email", DecisionConfirmed, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, "bob", "schedule_event", DecisionDenied, "wrong date"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries for alice, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Decision != DecisionConfirmed || entries[1].Decision != DecisionProposed {
		t.Errorf("unexpected order: %s then %s", entries[0].Decision, entries[1].Decision)
	}
	if entries[1].Detail != `{"to":"bob@example.com"}` {
		t.Errorf("detail = %q", entries[1].Detail)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}

	bobEntries, err := s.List(ctx, "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobEntries) != 1 || bobEntries[0].Detail != "wrong date" {
		t.Errorf("bob entries = %+v", bobEntries)
	}
}

func TestListEmpty(t *testing.T) {
	s := testStore(t)
	entries, err := s.List(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}
