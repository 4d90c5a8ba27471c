package context

import (
	"context"
	"fmt"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/exhaustion"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// PreProcessResult carries the side information produced by PreProcess,
// beyond the state mutation itself, for the runtime loop's telemetry event.
type PreProcessResult struct {
	HistoryCompressed bool
	CurateDecisions   []CurateDecision
	SegmentsLoaded    int
	QualityScore      float64
	ExhaustionChanged bool
}

// PreProcess runs pre_process's sub-stages in spec order: token accounting
// and history compression, progressive loading, the hotpath residency
// probe, quality scoring, and the exhaustion update. It never rewrites
// state.Conversation or state.Ledger wholesale — only appends/replaces the
// conversation-summary segment and trims the verbatim tail (spec §4.6).
func (d *Dependencies) PreProcess(ctx context.Context, state *models.SessionState, sources []SegmentSource) (PreProcessResult, error) {
	var result PreProcessResult

	messagesTokens := MessagesTokens(state.Conversation)
	messagesBudget := int(float64(d.Config.ContextWindowMax) * d.Config.MessagesBudgetRatio)

	if len(state.Conversation) > d.Config.MinCompressCount || messagesTokens > messagesBudget {
		if err := d.compressHistory(ctx, state); err != nil {
			return result, fmt.Errorf("context: pre_process history compression: %w", err)
		}
		result.HistoryCompressed = true
	}

	segmentBudget := d.Config.ContextWindowMax - messagesBudget
	if state.Segments.TotalTokens() > segmentBudget {
		decisions, err := Curate(ctx, state, d.Config, d.summarizerOrDefault(), segmentBudget)
		if err != nil {
			return result, fmt.Errorf("context: pre_process curate: %w", err)
		}
		result.CurateDecisions = decisions
	}

	if len(sources) > 0 {
		loaded, err := LoadProgressive(ctx, state, sources, d.Config.GovernorMaxSegments, d.now)
		if err != nil {
			return result, fmt.Errorf("context: pre_process progressive load: %w", err)
		}
		result.SegmentsLoaded = loaded
	}

	if d.Registry != nil {
		if err := d.probeHotpath(ctx, state); err != nil {
			return result, fmt.Errorf("context: pre_process hotpath probe: %w", err)
		}
	}

	scorer := d.QualityScorer
	if scorer == nil {
		scorer = HeuristicQualityScorer{}
	}
	result.QualityScore = scorer.Score(state)

	changed, err := d.updateExhaustion(ctx, state)
	if err != nil {
		return result, fmt.Errorf("context: pre_process exhaustion update: %w", err)
	}
	result.ExhaustionChanged = changed

	d.emit(ctx, "context:metrics", "pre_process", state, map[string]any{
		"history_compressed": result.HistoryCompressed,
		"segments_loaded":    result.SegmentsLoaded,
		"quality_score":      result.QualityScore,
		"exhaustion_changed": result.ExhaustionChanged,
	})

	return result, nil
}

func (d *Dependencies) summarizerOrDefault() Summarizer {
	if d.Summarizer != nil {
		return d.Summarizer
	}
	return HeuristicSummarizer{}
}

// compressHistory keeps the last retention_count messages verbatim and
// map-reduce-summarizes the remainder into a single conversation-summary
// segment (priority 10, compression_eligible=false), per spec §4.6.
func (d *Dependencies) compressHistory(ctx context.Context, state *models.SessionState) error {
	retain := d.Config.RetentionCount
	if retain < 0 {
		retain = 0
	}
	if len(state.Conversation) <= retain {
		return nil
	}

	toSummarize := state.Conversation[:len(state.Conversation)-retain]
	verbatim := state.Conversation[len(state.Conversation)-retain:]

	texts := make([]string, 0, len(toSummarize))
	if existing, ok := state.Segments.ConversationSummary(); ok {
		texts = append(texts, existing.Content)
	}
	for _, m := range toSummarize {
		texts = append(texts, string(m.Role)+": "+m.Content)
	}

	summary, err := d.summarizerOrDefault().Summarize(ctx, texts)
	if err != nil {
		return err
	}

	seg := models.ContextSegment{
		ID:                  "conversation-summary",
		Kind:                models.SegmentConversationSummary,
		Content:             summary,
		TokenCount:          EstimateTokens(summary),
		Priority:            10,
		CompressionEligible: false,
		CreatedAt:           d.now(),
		LastUsedAt:          d.now(),
	}
	if err := state.Segments.Put(seg); err != nil {
		return err
	}

	newConv := make([]models.ConversationMessage, len(verbatim))
	copy(newConv, verbatim)
	state.Conversation = newConv
	return nil
}

// probeHotpath queries C3 for hotpath agents and emits a telemetry event
// for any that are not healthy — it never mutates session state (spec §4.6).
func (d *Dependencies) probeHotpath(ctx context.Context, state *models.SessionState) error {
	agents, err := d.Registry.ListHotpath(ctx)
	if err != nil {
		return err
	}
	timeout := time.Duration(d.Config.AgentHealthTimeoutS) * time.Second
	for _, a := range agents {
		if !a.IsHealthy(d.now(), timeout) {
			d.emit(ctx, "context:metrics", "hotpath_violation", state, map[string]any{
				"agent_id": a.AgentID,
				"status":   a.Status,
			})
		}
	}
	return nil
}

// updateExhaustion sets exhaustion_mode/probability from the predictor and
// logs a recovery action if the mode changed (spec §4.6, §4.5).
func (d *Dependencies) updateExhaustion(ctx context.Context, state *models.SessionState) (bool, error) {
	triggered, p := exhaustion.ShouldTriggerPredictedExhaustion(state.Ledger, d.now())
	from := state.Exhaustion.Mode
	to := from

	if triggered {
		to = models.ExhaustionPredicted
	}

	state.Exhaustion.Probability = p
	if to == from {
		return false, nil
	}

	state.Exhaustion.Mode = to
	state.Exhaustion.RecoveryLog = append(state.Exhaustion.RecoveryLog, models.RecoveryEvent{
		Timestamp: d.now(),
		FromMode:  from,
		ToMode:    to,
		Action:    "predicted_exhaustion_raised",
	})

	d.dispatchWorkspaceNotification(state, from, to)
	return true, nil
}
