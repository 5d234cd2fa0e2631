// Package sqlite provides a durable session.Store on SQLite using the pure Go
// modernc.org/sqlite driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/session"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS research_sessions (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	query           TEXT NOT NULL,
	phase           TEXT NOT NULL,
	fact_count      INTEGER NOT NULL,
	state           TEXT NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_research_sessions_updated ON research_sessions(updated_at);`

// Store is a session.Store backed by a SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

var _ session.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces the state.
func (s *Store) Save(ctx context.Context, state core.ResearchState) error {
	if state.MessageID == "" {
		return fmt.Errorf("save: empty message id")
	}
	data, err := core.MarshalState(state)
	if err != nil {
		return fmt.Errorf("save %s: %w", state.MessageID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_sessions (message_id, conversation_id, query, phase, fact_count, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			query = excluded.query,
			phase = excluded.phase,
			fact_count = excluded.fact_count,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.MessageID, state.ConversationID, state.OriginalQuery, string(state.Phase),
		len(state.GatheredFacts), string(data), state.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", state.MessageID, err)
	}
	return nil
}

// Load returns the stored state or session.ErrNotFound.
func (s *Store) Load(ctx context.Context, messageID string) (core.ResearchState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM research_sessions WHERE message_id = ?`, messageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ResearchState{}, fmt.Errorf("%w: %s", session.ErrNotFound, messageID)
	}
	if err != nil {
		return core.ResearchState{}, fmt.Errorf("load %s: %w", messageID, err)
	}
	st, err := core.UnmarshalState([]byte(data))
	if err != nil {
		return core.ResearchState{}, fmt.Errorf("load %s: %w", messageID, err)
	}
	return st, nil
}

// List returns summaries, most recently updated first.
func (s *Store) List(ctx context.Context) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, query, phase, fact_count, updated_at
		FROM research_sessions ORDER BY updated_at DESC, message_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var (
			sum     session.Summary
			phase   string
			updated int64
		)
		if err := rows.Scan(&sum.MessageID, &sum.ConversationID, &sum.Query, &phase, &sum.Facts, &updated); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sum.Phase = core.Phase(phase)
		sum.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Delete removes a stored state or returns session.ErrNotFound.
func (s *Store) Delete(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM research_sessions WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, messageID)
	}
	return nil
}
