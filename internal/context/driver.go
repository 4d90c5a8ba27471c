package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/logan-robbins/quadracode-sub000/internal/llmport"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// basePrompt is the fixed system preamble prepended to every driver call.
const basePrompt = "You are the quadracode orchestration runtime. Follow the active PRP state strictly."

// DriverResult is the outcome of one driver invocation.
type DriverResult struct {
	AssistantMessage models.ConversationMessage
	ToolCalls        []llmport.ToolCallChunk
	FalseStop        bool
}

// requestFinalReviewTool is the tool name that, without passing tests or
// satisfying the active skeptic trigger's required artifacts, constitutes
// a false stop (spec §4.6).
const requestFinalReviewTool = "request_final_review"

// Driver assembles the final prompt, invokes the LLM, and detects false
// stops per spec §4.6: a request_final_review tool call without passing
// tests or without the artifacts the active skeptic trigger declared.
func (d *Dependencies) Driver(ctx context.Context, state *models.SessionState, outline PromptOutline, lastTestResults *models.TestResults) (DriverResult, error) {
	systemPrompt := d.assembleSystemPrompt(state, outline)

	messages := make([]llmport.ConversationMessage, 0, len(state.Conversation)+1)
	messages = append(messages, llmport.ConversationMessage{Role: string(models.RoleSystem), Content: systemPrompt})
	for _, m := range state.Conversation {
		messages = append(messages, llmport.ConversationMessage{
			Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, ToolName: m.ToolName,
		})
	}

	ch, err := d.LLM.Generate(ctx, llmport.GenerateInput{SessionID: state.SessionID, Messages: messages})
	if err != nil {
		return DriverResult{}, fmt.Errorf("context: driver generate: %w", err)
	}

	var result DriverResult
	var textBuf strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case llmport.TextChunk:
			textBuf.WriteString(c.Content)
		case llmport.ToolCallChunk:
			result.ToolCalls = append(result.ToolCalls, c)
		case llmport.ErrorChunk:
			return DriverResult{}, fmt.Errorf("context: driver stream error: %s", c.Message)
		}
	}

	result.AssistantMessage = models.ConversationMessage{
		Role:    models.RoleAssistant,
		Content: textBuf.String(),
	}

	for _, tc := range result.ToolCalls {
		if tc.Name != requestFinalReviewTool {
			continue
		}
		if d.isFalseStop(state, lastTestResults) {
			result.FalseStop = true
			state.Autonomy.FalseStopEvents++
			state.Autonomy.FalseStopPending = true
			state.Invariants.NeedsTestAfterRejection = true
		}
	}

	// Mitigation (spec §4.6/§9 S1): a pending false stop is resolved once a
	// later turn produces passing tests with every required artifact
	// cleared, independent of whether this turn repeats request_final_review.
	if state.Autonomy.FalseStopPending && !result.FalseStop &&
		lastTestResults != nil && lastTestResults.Failed == 0 && len(state.RequiredArtifacts) == 0 {
		state.Autonomy.FalseStopMitigated++
		state.Autonomy.FalseStopPending = false
	}

	d.emit(ctx, "context:metrics", "driver", state, map[string]any{
		"tool_calls": len(result.ToolCalls),
		"false_stop": result.FalseStop,
	})
	return result, nil
}

// isFalseStop reports whether a request_final_review call is premature:
// no passing test results yet, or the active skeptic trigger's required
// artifacts have not all been cleared from state.
func (d *Dependencies) isFalseStop(state *models.SessionState, lastTestResults *models.TestResults) bool {
	if lastTestResults == nil || lastTestResults.Failed > 0 {
		return true
	}
	return len(state.RequiredArtifacts) > 0
}

// assembleSystemPrompt builds base_prompt + the outline's banner + a memory
// block (when a conversation summary exists) + the ordered segments + a PRP
// state line. It adds no plan and no memory-guidance block.
func (d *Dependencies) assembleSystemPrompt(state *models.SessionState, outline PromptOutline) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(outline.SystemBanner)

	if summary, ok := state.Segments.ConversationSummary(); ok {
		b.WriteString("\n\n## Memory\n")
		b.WriteString(summary.Content)
	}

	b.WriteString("\n\n## Context\n")
	for _, id := range outline.OrderedSegments {
		if seg, ok := state.Segments.Get(id); ok {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n", seg.ID, seg.Kind, seg.Content)
		}
	}

	fmt.Fprintf(&b, "\n\n## PRP state: %s (cycle %d)\n", state.PRP.Current, state.PRP.CycleCount)
	return b.String()
}
