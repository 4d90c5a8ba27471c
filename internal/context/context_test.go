package context

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/config"
	"github.com/logan-robbins/quadracode-sub000/internal/llmport"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newDeps(llm llmport.Port) *Dependencies {
	cfg := config.Defaults()
	cfg.MinCompressCount = 3
	cfg.RetentionCount = 1
	return &Dependencies{Config: cfg, LLM: llm, Now: fixedNow}
}

func TestPreProcessCompressesHistoryPastMinCount(t *testing.T) {
	st := models.NewSessionState("s1")
	for i := 0; i < 5; i++ {
		st.Conversation = append(st.Conversation, models.ConversationMessage{Role: models.RoleUser, Content: "message"})
	}
	d := newDeps(&llmport.StubClient{Responses: [][]llmport.Chunk{{llmport.TextChunk{Content: "ok"}}}})

	result, err := d.PreProcess(context.Background(), st, nil)
	require.NoError(t, err)
	assert.True(t, result.HistoryCompressed)
	assert.Len(t, st.Conversation, 1, "only retention_count messages remain verbatim")

	summary, ok := st.Segments.ConversationSummary()
	require.True(t, ok)
	assert.Equal(t, 10, summary.Priority)
	assert.False(t, summary.CompressionEligible)
}

func TestPreProcessExactlyMinCompressCountDoesNotTriggerCompression(t *testing.T) {
	d := newDeps(nil)
	d.Config.MinCompressCount = 5
	st := models.NewSessionState("s1")
	for i := 0; i < d.Config.MinCompressCount; i++ {
		st.Conversation = append(st.Conversation, models.ConversationMessage{Role: models.RoleUser, Content: "m"})
	}
	result, err := d.PreProcess(context.Background(), st, nil)
	require.NoError(t, err)
	assert.False(t, result.HistoryCompressed, "count equal to min_compress_count must not trigger compression (strict >)")
}

func TestCurateRetainsNonEligibleSegments(t *testing.T) {
	st := models.NewSessionState("s1")
	require.NoError(t, st.Segments.Put(models.ContextSegment{
		ID: "pinned", Kind: models.SegmentPlan, Content: "keep me forever and ever and ever", TokenCount: 500,
		Priority: 1, CompressionEligible: false,
	}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{
		ID: "evictable", Kind: models.SegmentDocs, Content: "lots of low priority filler text here", TokenCount: 500,
		Priority: 1, CompressionEligible: true,
	}))

	_, err := Curate(context.Background(), st, config.Defaults(), HeuristicSummarizer{}, 500)
	require.NoError(t, err)

	_, stillPinned := st.Segments.Get("pinned")
	assert.True(t, stillPinned)
	assert.LessOrEqual(t, st.Segments.TotalTokens(), 550)
}

func TestCurateBudgetEnforcementDiscardsLowestPriorityFirst(t *testing.T) {
	st := models.NewSessionState("s1")
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "a", Kind: models.SegmentDocs, Content: "a", TokenCount: 500, Priority: 3, CompressionEligible: true}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "b", Kind: models.SegmentDocs, Content: "b", TokenCount: 700, Priority: 8, CompressionEligible: false}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "c", Kind: models.SegmentDocs, Content: "c", TokenCount: 200, Priority: 5, CompressionEligible: true}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "d", Kind: models.SegmentDocs, Content: "d", TokenCount: 1200, Priority: 2, CompressionEligible: true}))

	decisions, err := Curate(context.Background(), st, config.Defaults(), HeuristicSummarizer{}, 1500)
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
	assert.Equal(t, "d", decisions[0].SegmentID, "lowest-priority eligible segment is processed first")

	b, stillPresent := st.Segments.Get("b")
	require.True(t, stillPresent, "compression_eligible=false segment is never touched")
	assert.Equal(t, "b", b.Content, "retained verbatim")
	assert.LessOrEqual(t, st.Segments.TotalTokens(), 1500)
}

func TestCurateRollsUpAdjacentSmallEligibleSegmentsIntoSummarize(t *testing.T) {
	st := models.NewSessionState("s1")
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "e1", Kind: models.SegmentDocs, Content: "e1", TokenCount: 100, Priority: 4, CompressionEligible: true}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "e2", Kind: models.SegmentDocs, Content: "e2", TokenCount: 120, Priority: 4, CompressionEligible: true}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "big", Kind: models.SegmentDocs, Content: "big", TokenCount: 2000, Priority: 6, CompressionEligible: false}))

	decisions, err := Curate(context.Background(), st, config.Defaults(), HeuristicSummarizer{}, 1)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, models.ActionSummarize, decisions[0].Action)
	assert.Equal(t, models.ActionSummarize, decisions[1].Action)

	_, e1Present := st.Segments.Get("e1")
	_, e2Present := st.Segments.Get("e2")
	assert.False(t, e1Present)
	assert.False(t, e2Present)

	rolledUp := st.Segments.All()
	var found bool
	for _, seg := range rolledUp {
		if seg.ID == "rollup:e1+e2" {
			found = true
			assert.Equal(t, 4, seg.Priority)
			assert.Equal(t, "mem://rollup:e1+e2", seg.RestorableReference)
		}
	}
	assert.True(t, found, "rolled-up segment replaces the batch")
}

func TestHeuristicGovernorRespectsMaxAndCriticalPriority(t *testing.T) {
	cfg := config.Defaults()
	cfg.GovernorMaxSegments = 1
	cfg.CriticalPriority = 9

	st := models.NewSessionState("s1")
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "low", Priority: 2, TokenCount: 10}))
	require.NoError(t, st.Segments.Put(models.ContextSegment{ID: "critical", Priority: 9, TokenCount: 10}))

	outline := HeuristicGovernor{}.Govern(st, cfg)
	assert.Contains(t, outline.OrderedSegments, "critical", "critical-priority segments are always included")
	assert.LessOrEqual(t, len(outline.OrderedSegments), 2)
}

func TestDriverDetectsFalseStopOnPrematureFinalReview(t *testing.T) {
	llm := &llmport.StubClient{Responses: [][]llmport.Chunk{{
		llmport.ToolCallChunk{Name: requestFinalReviewTool, CallID: "c1"},
	}}}
	d := newDeps(llm)
	st := models.NewSessionState("s1")

	result, err := d.Driver(context.Background(), st, PromptOutline{}, nil)
	require.NoError(t, err)
	assert.True(t, result.FalseStop)
	assert.Equal(t, 1, st.Autonomy.FalseStopEvents)
	assert.True(t, st.Invariants.NeedsTestAfterRejection)
}

func TestDriverNoFalseStopWithPassingTestsAndNoRequiredArtifacts(t *testing.T) {
	llm := &llmport.StubClient{Responses: [][]llmport.Chunk{{
		llmport.ToolCallChunk{Name: requestFinalReviewTool, CallID: "c1"},
	}}}
	d := newDeps(llm)
	st := models.NewSessionState("s1")

	result, err := d.Driver(context.Background(), st, PromptOutline{}, &models.TestResults{Passed: 5})
	require.NoError(t, err)
	assert.False(t, result.FalseStop)
}

func TestDriverMitigatesFalseStopOnSubsequentPassingTurn(t *testing.T) {
	llm := &llmport.StubClient{Responses: [][]llmport.Chunk{
		{llmport.ToolCallChunk{Name: requestFinalReviewTool, CallID: "c1"}},
		{llmport.ToolCallChunk{Name: "run_full_test_suite", CallID: "c2"}},
	}}
	d := newDeps(llm)
	st := models.NewSessionState("s1")

	first, err := d.Driver(context.Background(), st, PromptOutline{}, nil)
	require.NoError(t, err)
	assert.True(t, first.FalseStop)
	assert.Equal(t, 1, st.Autonomy.FalseStopEvents)
	assert.True(t, st.Autonomy.FalseStopPending)
	assert.Equal(t, 0, st.Autonomy.FalseStopMitigated)

	second, err := d.Driver(context.Background(), st, PromptOutline{}, &models.TestResults{Passed: 5})
	require.NoError(t, err)
	assert.False(t, second.FalseStop)
	assert.Equal(t, 1, st.Autonomy.FalseStopMitigated)
	assert.False(t, st.Autonomy.FalseStopPending)
}

func TestPostProcessSetsSkepticismGateOncePerCycle(t *testing.T) {
	d := newDeps(nil)
	st := models.NewSessionState("s1")

	r1 := d.PostProcess(context.Background(), st, []ToolResponse{{ToolName: "t1", Content: "ok"}}, false)
	assert.True(t, r1.SkepticismChallenge)
	assert.Equal(t, 1, st.Autonomy.SkepticismChallenges)

	r2 := d.PostProcess(context.Background(), st, []ToolResponse{{ToolName: "t2", Content: "ok2"}}, false)
	assert.False(t, r2.SkepticismChallenge, "gate already satisfied this cycle")
	assert.Equal(t, 1, st.Autonomy.SkepticismChallenges)
}
