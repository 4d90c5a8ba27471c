package skeptic

import (
	"fmt"
	"strings"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
	"github.com/logan-robbins/quadracode-sub000/internal/prp"
)

// ApplyResult reports what Apply changed, for the runtime loop's telemetry.
type ApplyResult struct {
	Critique models.CritiqueEntry
	PRP      prp.Result
}

// Apply performs the full valid-parse side effects from spec §4.7: set
// exhaustion_mode, attach required_artifacts, synthesize a structured
// hypothesis_critique tool message, replace the inbound user message with
// a system + tool-message pair, and invoke PROPOSE->HYPOTHESIZE with
// skeptic_triggered=true.
func Apply(state *models.SessionState, trig Trigger, strict bool, now time.Time) (ApplyResult, error) {
	state.Exhaustion.Mode = trig.ExhaustionMode
	state.RequiredArtifacts = trig.RequiredArtifacts

	critique := models.CritiqueEntry{
		Category:     inferCategory(trig.Rationale),
		Severity:     inferSeverity(trig.Rationale),
		Rationale:    trig.Rationale,
		DerivedTests: trig.RequiredArtifacts,
	}
	state.Backlog = append(state.Backlog, critique)

	systemMsg := models.ConversationMessage{
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("Skeptic rejected cycle %d: %s", trig.CycleIteration, trig.Rationale),
		CreatedAt: now,
	}
	toolMsg := models.ConversationMessage{
		Role:      models.RoleTool,
		Content:   toolMessageBody(trig),
		ToolName:  "hypothesis_critique",
		CreatedAt: now,
	}
	replaceLastUserMessage(state, systemMsg, toolMsg)

	result, err := prp.Transition(state, prp.TransitionRequest{
		To: models.StateHypothesize, SkepticTriggered: true, ExhaustionMode: trig.ExhaustionMode,
	}, strict, now)
	if err != nil {
		return ApplyResult{Critique: critique}, err
	}
	return ApplyResult{Critique: critique, PRP: result}, nil
}

// replaceLastUserMessage drops the most recent user message (the
// conversational rejection) and appends the system + tool pair in its
// place, per spec §4.7.
func replaceLastUserMessage(state *models.SessionState, systemMsg, toolMsg models.ConversationMessage) {
	for i := len(state.Conversation) - 1; i >= 0; i-- {
		if state.Conversation[i].Role == models.RoleUser {
			state.Conversation = append(state.Conversation[:i], state.Conversation[i+1:]...)
			break
		}
	}
	state.Conversation = append(state.Conversation, systemMsg, toolMsg)
}

func toolMessageBody(trig Trigger) string {
	return fmt.Sprintf("required_artifacts=%v exhaustion_mode=%s", trig.RequiredArtifacts, trig.ExhaustionMode)
}

func inferSeverity(rationale string) models.CritiqueSeverity {
	lower := strings.ToLower(rationale)
	switch {
	case strings.Contains(lower, "broken") || strings.Contains(lower, "fail") || strings.Contains(lower, "crash"):
		return models.SeverityHigh
	case strings.Contains(lower, "minor") || strings.Contains(lower, "nit") || strings.Contains(lower, "style"):
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

func inferCategory(rationale string) string {
	lower := strings.ToLower(rationale)
	switch {
	case strings.Contains(lower, "test"):
		return "testing"
	case strings.Contains(lower, "coverage"):
		return "coverage"
	case strings.Contains(lower, "perf"):
		return "performance"
	case strings.Contains(lower, "security") || strings.Contains(lower, "secret"):
		return "security"
	default:
		return "general"
	}
}
