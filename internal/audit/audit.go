// Package audit records how dangerous tool invocations were resolved.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Decisions recorded for a tool invocation.
const (
	DecisionProposed  = "proposed"  // held for user confirmation
	DecisionConfirmed = "confirmed" // user approved, tool executed
	DecisionDenied    = "denied"    // user rejected with reasoning
	DecisionAutoSafe  = "auto_safe" // safe tool, ran without confirmation
)

// Entry is one recorded decision.
type Entry struct {
	ID        string
	UserID    string
	Tool      string
	Decision  string
	Detail    string
	CreatedAt time.Time
}

// Store persists audit entries in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (and migrates) the audit database at the given path.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_decisions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			decision TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tool_decisions_user ON tool_decisions(user_id, created_at);
	`)
	return err
}

// Record stores one decision. detail carries the tool arguments for
// proposals and the user's reasoning for denials.
func (s *Store) Record(ctx context.Context, userID, tool, decision, detail string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_decisions (id, user_id, tool, decision, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), userID, tool, decision, detail,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	s.logger.Debug("tool decision recorded", "user", userID, "tool", tool, "decision", decision)
	return nil
}

// List returns the newest entries for a user, most recent first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tool, decision, detail, created_at
		FROM tool_decisions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Tool, &e.Decision, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Detail = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
