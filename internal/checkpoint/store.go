// Package checkpoint implements the Checkpoint Store contract (C2): a
// per-session durable snapshot of runtime state with atomic replace
// semantics, mirroring the teacher's database/client.go pgx-pool pattern.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// Store is the C2 contract.
type Store interface {
	Get(ctx context.Context, sessionID string) (*models.SessionState, error)
	Put(ctx context.Context, state *models.SessionState) error
	ListSessions(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned by Get when no checkpoint exists for a session.
var ErrNotFound = fmt.Errorf("checkpoint: session not found")

// PostgresStore persists session state as a JSONB column, upserted
// atomically per session_id — the Postgres equivalent of the teacher's
// ent-backed durable writes in pkg/database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool. Callers are
// responsible for running the `checkpoints` table migration beforehand.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the checkpoints table. Nothing in this repository
// applies it; the table must exist before a PostgresStore is used.
const Schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Get loads and deserializes session state.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM checkpoints WHERE session_id = $1`, sessionID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: get %s: %w", sessionID, err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", sessionID, err)
	}
	return &state, nil
}

// Put performs an atomic upsert. Postgres's MVCC commit is this store's
// fsync-equivalent: the write is durable once Put returns without error.
func (s *PostgresStore) Put(ctx context.Context, state *models.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", state.SessionID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, state.SessionID, raw)
	if err != nil {
		return fmt.Errorf("checkpoint: put %s: %w", state.SessionID, err)
	}
	return nil
}

// ListSessions returns every known session id.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT session_id FROM checkpoints ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoint: scan session id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MemoryStore is an in-memory Store for tests, matching the spec's
// allowance in §4.2: "Implementations may use an in-memory map (for tests)
// or a durable key/value store; both must satisfy the same contract."
// Round-trips state through JSON so tests exercise the exact serialization
// the Postgres store uses.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string][]byte
}

// NewMemoryStore returns an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]byte)}
}

// Get loads and deserializes session state.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*models.SessionState, error) {
	s.mu.RLock()
	raw, ok := s.rows[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", sessionID, err)
	}
	return &state, nil
}

// Put replaces session state atomically (single map write under lock).
func (s *MemoryStore) Put(_ context.Context, state *models.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", state.SessionID, err)
	}
	s.mu.Lock()
	s.rows[state.SessionID] = raw
	s.mu.Unlock()
	return nil
}

// ListSessions returns every known session id, sorted.
func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rows))
	for id := range s.rows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
