// Package storage persists the small amount of daemon state that must
// survive restarts: the per-tier agent session IDs and an audit trail of
// detected change events. Everything else (rule state, cooldowns) is
// intentionally in-memory and rebuilt from fresh observations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stewardops/steward/internal/types"
)

// Store is a SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the store at path. The schema is applied on every
// open; CREATE IF NOT EXISTS keeps this idempotent.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSession returns the stored session for a tier, or (nil, nil) when no
// session has been saved yet.
func (s *Store) GetSession(ctx context.Context, tier types.Tier) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT tier, session_id, last_used_at FROM sessions WHERE tier = ?", string(tier))

	var sess types.Session
	var tierStr string
	if err := row.Scan(&tierStr, &sess.SessionID, &sess.LastUsedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session for tier %s: %w", tier, err)
	}
	sess.Tier = types.Tier(tierStr)
	return &sess, nil
}

// PutSession upserts the session for a tier. Each tier holds at most one
// session; storing a new ID replaces the old one.
func (s *Store) PutSession(ctx context.Context, sess types.Session) error {
	if sess.Tier == "" {
		return fmt.Errorf("tier is required")
	}
	if sess.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if sess.LastUsedAt.IsZero() {
		sess.LastUsedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (tier, session_id, last_used_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tier) DO UPDATE SET
			session_id = excluded.session_id,
			last_used_at = excluded.last_used_at
	`, string(sess.Tier), sess.SessionID, sess.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to store session for tier %s: %w", sess.Tier, err)
	}
	return nil
}

// ClearSession drops the stored session for a tier. Clearing a tier that has
// no session is a no-op.
func (s *Store) ClearSession(ctx context.Context, tier types.Tier) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE tier = ?", string(tier)); err != nil {
		return fmt.Errorf("failed to clear session for tier %s: %w", tier, err)
	}
	return nil
}

// RecordEvent appends a detected change event to the audit trail.
func (s *Store) RecordEvent(ctx context.Context, event types.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, metric, kind, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Metric,
		string(event.Kind),
		fmt.Sprintf("%v", event.OldValue),
		fmt.Sprintf("%v", event.NewValue),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record event (metric=%s): %w", event.Metric, err)
	}
	return nil
}

// StoredEvent is an audit-trail row. Values are stored as their string
// renderings; the audit trail is for humans and prompts, not replay.
type StoredEvent struct {
	ID        string
	Metric    string
	Kind      string
	OldValue  string
	NewValue  string
	CreatedAt time.Time
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metric, kind, old_value, new_value, created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Metric, &e.Kind, &e.OldValue, &e.NewValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneEvents deletes audit rows older than the cutoff and returns the
// number removed.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return n, nil
}
