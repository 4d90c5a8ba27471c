package context

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/config"
	"github.com/logan-robbins/quadracode-sub000/internal/llmport"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// asyncQueueCapacity bounds the background dispatch queue; a burst beyond
// this drops the job with a warning rather than blocking the caller.
const asyncQueueCapacity = 256

// Small role-scoped interfaces, matching the teacher's pattern in
// pkg/agent/context.go of defining consumer-side interfaces to avoid
// import cycles between the engine and its concrete dependencies (C3
// registry client, C8 workspace integrity, C12 observability emitter).

// Summarizer reduces a set of texts to one summary — the curator's
// "compress"/"summarize" actions and pre_process's history compression
// are both pluggable between a heuristic and an LLM-backed implementation
// (spec §4.6), selected by config.CuratorMode.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// HotpathQuerier is the C3 registry surface the hotpath residency probe
// needs: the current hotpath agent set and their health.
type HotpathQuerier interface {
	ListHotpath(ctx context.Context) ([]models.AgentRecord, error)
}

// QualityScorer computes the six-dimension quality scalar (spec §4.6).
type QualityScorer interface {
	Score(state *models.SessionState) float64
}

// WorkspaceNotifier is the C8 surface the pre_process stage's exhaustion
// update calls, in the background, when the exhaustion mode changes (snapshot/validate trigger policy, §4.8).
type WorkspaceNotifier interface {
	OnExhaustionChange(ctx context.Context, state *models.SessionState, from, to models.ExhaustionMode) error
}

// Emitter is the C12 observability surface; every stage emits one event.
type Emitter interface {
	Emit(ctx context.Context, stream, event string, sessionID string, payload map[string]any)
}

// Dependencies bundles everything the C6 pipeline needs beyond config and
// session state.
type Dependencies struct {
	Config        *config.Config
	Registry      HotpathQuerier
	Summarizer    Summarizer
	QualityScorer QualityScorer
	Governor      GovernancePolicy
	LLM           llmport.Port
	Workspace     WorkspaceNotifier
	Observability Emitter
	Now           func() time.Time

	asyncOnce sync.Once
	asyncCh   chan func()
}

// dispatchAsync runs fn on a background goroutine, off the caller's
// reasoning path, matching the fire-and-forget contract workspace.Manager's
// methods document (internal/workspace/policy.go). The drain goroutine is
// started lazily on first use and lives for the Dependencies' lifetime.
func (d *Dependencies) dispatchAsync(fn func()) {
	d.asyncOnce.Do(func() {
		d.asyncCh = make(chan func(), asyncQueueCapacity)
		go func() {
			for job := range d.asyncCh {
				job()
			}
		}()
	})
	select {
	case d.asyncCh <- fn:
	default:
		slog.Warn("context: async dispatch queue full, dropping job")
	}
}

// dispatchWorkspaceNotification snapshots the fields OnExhaustionChange
// reads before handing off to the background queue — state is a live,
// continuously mutated pointer during the remainder of the turn, so the
// dispatched call must see an isolated copy rather than race against it
// (spec §5 suspension-point contract).
func (d *Dependencies) dispatchWorkspaceNotification(state *models.SessionState, from, to models.ExhaustionMode) {
	if d.Workspace == nil {
		return
	}
	snapshot := &models.SessionState{
		SessionID: state.SessionID,
		Workspace: models.WorkspaceDescriptor{
			Workspace: state.Workspace.Workspace,
			Snapshots: append([]models.SnapshotRecord(nil), state.Workspace.Snapshots...),
		},
	}
	d.dispatchAsync(func() {
		if err := d.Workspace.OnExhaustionChange(context.Background(), snapshot, from, to); err != nil {
			slog.Warn("context: workspace notify on exhaustion change failed", "session_id", snapshot.SessionID, "error", err)
		}
	})
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dependencies) emit(ctx context.Context, stream, event string, state *models.SessionState, payload map[string]any) {
	if d.Observability == nil {
		return
	}
	d.Observability.Emit(ctx, stream, event, state.SessionID, payload)
}
