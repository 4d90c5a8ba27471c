package context

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/logan-robbins/quadracode-sub000/internal/config"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// discardFloor and summarizeCeiling bound the "summarize" action's
// eligibility window (spec §4.6): too small to bother summarizing (just
// discard) and too large to roll up with neighbors (compress/externalize
// individually instead).
const (
	discardFloor     = 50
	summarizeCeiling = 200
)

// CurateDecision records what the curator chose for one segment, for the
// per-stage telemetry event (spec §4.6: "all four stages emit one
// structured telemetry event each").
type CurateDecision struct {
	SegmentID string
	Action    models.CuratorAction
}

// Curate applies the curator's decision ordering (spec §4.6):
//  1. segments with compression_eligible=false are always retained.
//  2. among the rest, process in ascending priority, then ascending last_used_at.
//  3. stop as soon as projected tokens <= budget.
//
// When the segments start over budget, summarizeBatches first rolls up every
// run of adjacent summarize-eligible candidates, whatever the budget; the
// stop in step 3 applies only to the per-segment pass that follows.
//
// It mutates state.Segments in place and returns the decisions taken, for
// telemetry.
func Curate(ctx context.Context, state *models.SessionState, cfg *config.Config, summarizer Summarizer, budget int) ([]CurateDecision, error) {
	var decisions []CurateDecision

	if state.Segments.TotalTokens() <= budget {
		return decisions, nil
	}

	candidates := make([]models.ContextSegment, 0, state.Segments.Len())
	for _, seg := range state.Segments.All() {
		if !seg.CompressionEligible {
			continue
		}
		candidates = append(candidates, seg)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].LastUsedAt.Before(candidates[j].LastUsedAt)
	})

	remaining, batchDecisions, err := summarizeBatches(ctx, state, candidates, summarizer)
	if err != nil {
		return decisions, fmt.Errorf("context: curate summarize batch: %w", err)
	}
	decisions = append(decisions, batchDecisions...)

	for _, seg := range remaining {
		if state.Segments.TotalTokens() <= budget {
			break
		}

		action, err := decideAction(ctx, state, seg, summarizer)
		if err != nil {
			return decisions, fmt.Errorf("context: curate segment %s: %w", seg.ID, err)
		}
		decisions = append(decisions, CurateDecision{SegmentID: seg.ID, Action: action})
	}

	return decisions, nil
}

// decideAction applies one curator action to seg within state.Segments,
// chosen by the segment alone: 50 tokens or fewer is discarded, no
// RestorableReference is compressed through the summarizer, and anything
// else is externalized. Projected token savings are not compared.
func decideAction(ctx context.Context, state *models.SessionState, seg models.ContextSegment, summarizer Summarizer) (models.CuratorAction, error) {
	switch {
	case seg.TokenCount <= 50:
		// Too small to usefully compress or externalize; drop it.
		state.Segments.Remove(seg.ID)
		return models.ActionDiscard, nil
	case seg.RestorableReference == "":
		summary, err := summarizer.Summarize(ctx, []string{seg.Content})
		if err != nil {
			return "", err
		}
		seg.RestorableReference = "mem://" + seg.ID
		seg.Content = summary
		seg.TokenCount = EstimateTokens(summary)
		if err := state.Segments.Put(seg); err != nil {
			return "", err
		}
		return models.ActionCompress, nil
	default:
		ref := seg.RestorableReference
		seg.Content = "[externalized: " + ref + "]"
		seg.TokenCount = EstimateTokens(seg.Content)
		if err := state.Segments.Put(seg); err != nil {
			return "", err
		}
		return models.ActionExternalize, nil
	}
}

// summarizeBatches rolls up runs of two or more adjacent summarize-eligible
// candidates (spec §4.6's "summarize" action, distinct from per-segment
// "compress") into one new segment each, and returns the candidates left
// for the ordinary per-segment decideAction pass plus the decisions taken.
func summarizeBatches(ctx context.Context, state *models.SessionState, candidates []models.ContextSegment, summarizer Summarizer) ([]models.ContextSegment, []CurateDecision, error) {
	var remaining []models.ContextSegment
	var decisions []CurateDecision

	for i := 0; i < len(candidates); {
		if !summarizeEligible(candidates[i]) {
			remaining = append(remaining, candidates[i])
			i++
			continue
		}
		j := i + 1
		for j < len(candidates) && summarizeEligible(candidates[j]) {
			j++
		}
		batch := candidates[i:j]
		if len(batch) < 2 {
			remaining = append(remaining, batch...)
			i = j
			continue
		}
		if err := rollUpSegments(ctx, state, batch, summarizer); err != nil {
			return nil, nil, err
		}
		for _, seg := range batch {
			decisions = append(decisions, CurateDecision{SegmentID: seg.ID, Action: models.ActionSummarize})
		}
		i = j
	}
	return remaining, decisions, nil
}

// summarizeEligible reports whether seg is small enough to roll up with
// neighbors (above discardFloor, at or below summarizeCeiling) and has not
// already been externalized.
func summarizeEligible(seg models.ContextSegment) bool {
	return seg.RestorableReference == "" && seg.TokenCount > discardFloor && seg.TokenCount <= summarizeCeiling
}

// rollUpSegments replaces batch with a single rolled-up summary segment,
// taking the lowest priority among the batch (the most aggressively
// eligible for further curation).
func rollUpSegments(ctx context.Context, state *models.SessionState, batch []models.ContextSegment, summarizer Summarizer) error {
	texts := make([]string, 0, len(batch))
	ids := make([]string, 0, len(batch))
	minPriority := batch[0].Priority
	for _, seg := range batch {
		texts = append(texts, seg.Content)
		ids = append(ids, seg.ID)
		if seg.Priority < minPriority {
			minPriority = seg.Priority
		}
		state.Segments.Remove(seg.ID)
	}

	summary, err := summarizer.Summarize(ctx, texts)
	if err != nil {
		return err
	}

	rolledID := "rollup:" + strings.Join(ids, "+")
	rolled := models.ContextSegment{
		ID:                  rolledID,
		Kind:                models.SegmentDocs,
		Content:             summary,
		TokenCount:          EstimateTokens(summary),
		Priority:            minPriority,
		CompressionEligible: true,
		RestorableReference: "mem://" + rolledID,
	}
	return state.Segments.Put(rolled)
}
