package skeptic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func TestParseValidJSON(t *testing.T) {
	trig, err := Parse(`{"cycle_iteration":3,"exhaustion_mode":"test_failure","required_artifacts":["unit_tests","coverage_report"],"rationale":"tests 2/5 failing"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, trig.CycleIteration)
	assert.Equal(t, models.ExhaustionTestFailure, trig.ExhaustionMode)
	assert.Equal(t, []string{"unit_tests", "coverage_report"}, trig.RequiredArtifacts)
}

func TestParseFencedCodeBlock(t *testing.T) {
	msg := "Here's my rejection:\n```json\n{\"cycle_iteration\":1,\"exhaustion_mode\":\"test_failure\",\"required_artifacts\":[]}\n```"
	trig, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, trig.CycleIteration)
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse(`not json at all`)
	assert.ErrorIs(t, err, ErrMalformedTrigger)
}

func TestParseMissingRequiredField(t *testing.T) {
	_, err := Parse(`{"cycle_iteration":1}`)
	assert.ErrorIs(t, err, ErrMalformedTrigger)
}

func TestParseUnknownExhaustionMode(t *testing.T) {
	_, err := Parse(`{"cycle_iteration":1,"exhaustion_mode":"bogus","required_artifacts":[]}`)
	assert.ErrorIs(t, err, ErrMalformedTrigger)
}

func TestApplySetsModeArtifactsAndTransitionsPRP(t *testing.T) {
	st := models.NewSessionState("s1")
	st.PRP.Current = models.StatePropose
	st.Conversation = append(st.Conversation, models.ConversationMessage{Role: models.RoleUser, Content: "this is wrong"})

	trig, err := Parse(`{"cycle_iteration":3,"exhaustion_mode":"test_failure","required_artifacts":["unit_tests","coverage_report"],"rationale":"tests 2/5 failing"}`)
	require.NoError(t, err)

	result, err := Apply(st, trig, true, time.Now())
	require.NoError(t, err)
	assert.True(t, result.PRP.Applied)

	assert.Equal(t, models.ExhaustionTestFailure, st.Exhaustion.Mode)
	assert.Equal(t, []string{"unit_tests", "coverage_report"}, st.RequiredArtifacts)
	assert.Equal(t, models.StateHypothesize, st.PRP.Current)
	assert.Equal(t, 1, st.PRP.CycleCount)
	assert.True(t, st.Invariants.NeedsTestAfterRejection)

	require.Len(t, st.Backlog, 1)
	assert.Equal(t, "testing", st.Backlog[0].Category)
	assert.Equal(t, models.SeverityHigh, st.Backlog[0].Severity)

	// The conversational user rejection is gone, replaced by system+tool pair.
	for _, m := range st.Conversation {
		assert.NotEqual(t, "this is wrong", m.Content)
	}
	last := st.Conversation[len(st.Conversation)-1]
	assert.Equal(t, models.RoleTool, last.Role)
	assert.Equal(t, "hypothesis_critique", last.ToolName)
}
