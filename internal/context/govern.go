package context

import (
	"context"
	"sort"

	"github.com/logan-robbins/quadracode-sub000/internal/config"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// PromptOutline is govern_context's compact output: a system banner, the
// focus segment, and the final ordered segment ids for injection (spec §4.6).
type PromptOutline struct {
	SystemBanner    string
	FocusSegmentID  string
	OrderedSegments []string
}

// GovernancePolicy plans final segment ordering — pluggable (heuristic or
// LLM), per spec §4.6.
type GovernancePolicy interface {
	Govern(state *models.SessionState, cfg *config.Config) PromptOutline
}

// HeuristicGovernor orders by descending priority, then by most recently
// used, the default GovernancePolicy.
type HeuristicGovernor struct{}

// Govern guarantees: ordered_segments ⊆ current_segments;
// |ordered_segments| ≤ max_governed_segments; segments with
// priority ≥ critical_priority are always included (spec §4.6).
func (HeuristicGovernor) Govern(state *models.SessionState, cfg *config.Config) PromptOutline {
	segs := state.Segments.All()
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Priority != segs[j].Priority {
			return segs[i].Priority > segs[j].Priority
		}
		return segs[i].LastUsedAt.After(segs[j].LastUsedAt)
	})

	critical := make([]models.ContextSegment, 0)
	rest := make([]models.ContextSegment, 0, len(segs))
	for _, s := range segs {
		if s.Priority >= cfg.CriticalPriority {
			critical = append(critical, s)
		} else {
			rest = append(rest, s)
		}
	}

	maxSegments := cfg.GovernorMaxSegments
	ordered := make([]string, 0, maxSegments)
	for _, s := range critical {
		ordered = append(ordered, s.ID)
	}
	for _, s := range rest {
		if len(ordered) >= maxSegments {
			break
		}
		ordered = append(ordered, s.ID)
	}
	// Critical segments are always included even if that alone exceeds
	// max_governed_segments — the invariant on criticals takes precedence.

	focus := ""
	if len(ordered) > 0 {
		focus = ordered[0]
	}

	return PromptOutline{
		SystemBanner:    "quadracode runtime — session " + state.SessionID,
		FocusSegmentID:  focus,
		OrderedSegments: ordered,
	}
}

var _ GovernancePolicy = HeuristicGovernor{}

// GovernContext runs the governance stage and emits its telemetry event.
func (d *Dependencies) GovernContext(ctx context.Context, state *models.SessionState) PromptOutline {
	gov := d.Governor
	if gov == nil {
		gov = HeuristicGovernor{}
	}
	outline := gov.Govern(state, d.Config)
	d.emit(ctx, "context:metrics", "govern_context", state, map[string]any{
		"ordered_segments": outline.OrderedSegments,
		"focus_segment_id": outline.FocusSegmentID,
	})
	return outline
}
