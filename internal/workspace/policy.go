package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// Notifier is the small consumer-side interface the context engine depends
// on (internal/context/dependencies.go's WorkspaceNotifier), implemented by
// Manager so exhaustion-change events trigger a validation pass.
type Notifier interface {
	OnExhaustionChange(ctx context.Context, state *models.SessionState, from, to models.ExhaustionMode) error
}

// Manager wires the Store to the trigger policy from spec §4.8: snapshot on
// every skeptic-triggered transition, validate on every exhaustion change,
// with an optional auto-restore when validation finds drift. Dispatch is
// fire-and-forget from the caller's perspective — the runtime loop never
// blocks its main iteration on these calls (spec §5), so callers should
// invoke Manager's methods from a separate goroutine.
type Manager struct {
	Store       *Store
	WorkspaceOf func(state *models.SessionState) string
	AutoRestore bool
	Now         func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// SnapshotOnSkepticRejection takes a snapshot tagged reason=skeptic_rejection
// and records it on the session's workspace descriptor ring.
func (m *Manager) SnapshotOnSkepticRejection(state *models.SessionState) (models.SnapshotRecord, error) {
	dir := m.WorkspaceOf(state)
	rec, err := m.Store.Snapshot(dir, "skeptic_rejection", m.now())
	if err != nil {
		return models.SnapshotRecord{}, fmt.Errorf("workspace: snapshot on skeptic rejection: %w", err)
	}
	state.Workspace.PushSnapshot(rec)
	return rec, nil
}

// OnExhaustionChange implements Notifier: it validates the workspace
// against the most recent snapshot whenever the exhaustion mode changes,
// and optionally restores if drift is found.
func (m *Manager) OnExhaustionChange(ctx context.Context, state *models.SessionState, from, to models.ExhaustionMode) error {
	if len(state.Workspace.Snapshots) == 0 {
		return nil // nothing to validate against yet
	}
	reference := state.Workspace.Snapshots[len(state.Workspace.Snapshots)-1]
	dir := m.WorkspaceOf(state)

	ok, driftPaths, err := m.Store.Validate(dir, reference)
	if err != nil {
		return fmt.Errorf("workspace: validate on exhaustion change %s->%s: %w", from, to, err)
	}
	if ok {
		return nil
	}
	if !m.AutoRestore {
		return fmt.Errorf("%w: paths=%v", ErrDrift, driftPaths)
	}
	return m.Store.Restore(dir, reference)
}

var _ Notifier = (*Manager)(nil)
