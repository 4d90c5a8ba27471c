package context

import (
	"context"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// ToolResponse is one tool's raw result, fed into post_process.
type ToolResponse struct {
	ToolCallID  string
	ToolName    string
	Content     string
	TestResults *models.TestResults
}

// PostProcessResult summarizes what post_process changed.
type PostProcessResult struct {
	ToolMessages        []models.ConversationMessage
	SkepticismChallenge  bool
	WorkspaceNotified    bool
}

// PostProcess normalizes tool outputs into tool messages, raises a
// mandatory skepticism challenge on every tool response (unless this
// cycle's gate is already satisfied), captures test results, and reports
// WorkspaceNotified when the exhaustion mode changed this turn; the C8
// notification itself is dispatched earlier, by pre_process's exhaustion
// update.
func (d *Dependencies) PostProcess(ctx context.Context, state *models.SessionState, responses []ToolResponse, exhaustionChangedThisTurn bool) PostProcessResult {
	var result PostProcessResult

	for _, r := range responses {
		msg := models.ConversationMessage{
			Role:       models.RoleTool,
			Content:    truncateForStorage(r.Content),
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		state.Conversation = append(state.Conversation, msg)
		result.ToolMessages = append(result.ToolMessages, msg)

		if r.TestResults != nil {
			if entry := latestProposedLedgerEntry(state); entry != nil {
				entry.TestResults = r.TestResults
			}
		}
	}

	if len(responses) > 0 && !state.Invariants.SkepticismGateSatisfied {
		state.Invariants.SkepticismGateSatisfied = true
		state.Autonomy.SkepticismChallenges++
		result.SkepticismChallenge = true
	}

	if exhaustionChangedThisTurn && d.Workspace != nil {
		result.WorkspaceNotified = true
	}

	state.Invariants.ContextUpdatedInCycle = true

	d.emit(ctx, "context:metrics", "post_process", state, map[string]any{
		"tool_messages":       len(result.ToolMessages),
		"skepticism_challenge": result.SkepticismChallenge,
	})
	return result
}

func latestProposedLedgerEntry(state *models.SessionState) *models.LedgerEntry {
	for i := len(state.Ledger) - 1; i >= 0; i-- {
		if state.Ledger[i].Status == models.LedgerProposed {
			return &state.Ledger[i]
		}
	}
	return nil
}

const maxStoredToolChars = 32_000

// truncateForStorage bounds tool output length the way the teacher's
// pkg/mcp.TruncateForStorage does, cutting at the last newline.
func truncateForStorage(content string) string {
	if len(content) <= maxStoredToolChars {
		return content
	}
	cut := maxStoredToolChars
	for cut > 0 && content[cut-1] != '\n' {
		cut--
	}
	if cut == 0 {
		cut = maxStoredToolChars
	}
	return content[:cut] + "\n[TRUNCATED: tool output exceeded storage limit]"
}
