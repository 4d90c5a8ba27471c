package timetravel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	r.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestLogStageThenReplayFiltersByCycle(t *testing.T) {
	r := newTestRecorder(t)
	st := models.NewSessionState("s1")

	st.PRP.CycleCount = 1
	require.NoError(t, r.LogStage(st, "pre_process", map[string]any{"tokens": 100.0}))
	require.NoError(t, r.LogTool(st, "run_tests", map[string]any{"tokens": 20.0}))

	st.PRP.CycleCount = 2
	require.NoError(t, r.LogStage(st, "pre_process", map[string]any{"tokens": 50.0}))

	cycle1, err := r.Replay("s1", 1)
	require.NoError(t, err)
	assert.Len(t, cycle1, 2)

	cycle2, err := r.Replay("s1", 2)
	require.NoError(t, err)
	assert.Len(t, cycle2, 1)
}

func TestReplayUnknownSessionReturnsEmpty(t *testing.T) {
	r := newTestRecorder(t)
	events, err := r.Replay("nope", 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDiffReportsTokenAndToolCallDeltas(t *testing.T) {
	r := newTestRecorder(t)
	st := models.NewSessionState("s1")

	st.PRP.CycleCount = 1
	st.Exhaustion.Mode = models.ExhaustionNone
	require.NoError(t, r.LogStage(st, "pre_process", map[string]any{"tokens": 100.0}))
	require.NoError(t, r.LogTool(st, "run_tests", map[string]any{"tokens": 10.0}))

	st.PRP.CycleCount = 2
	st.Exhaustion.Mode = models.ExhaustionTestFailure
	require.NoError(t, r.LogStage(st, "pre_process", map[string]any{"tokens": 40.0}))
	require.NoError(t, r.LogTool(st, "run_tests", map[string]any{"tokens": 10.0}))
	require.NoError(t, r.LogTool(st, "grep", map[string]any{"tokens": 5.0}))

	diff, err := r.Diff("s1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, -55, diff.TokenDelta)
	assert.Equal(t, 1, diff.ToolCallsDelta)
	assert.Contains(t, diff.StatusChanges[0], "exhaustion_mode")
}

func TestLogSnapshotAndLogTransitionRecordEventNames(t *testing.T) {
	r := newTestRecorder(t)
	st := models.NewSessionState("s1")

	require.NoError(t, r.LogSnapshot(st, "skeptic_rejection", nil))
	require.NoError(t, r.LogTransition(st, "HYPOTHESIZE->EXECUTE", nil))

	events, err := r.Replay("s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "snapshot:skeptic_rejection", events[0].Event)
	assert.Equal(t, "transition:HYPOTHESIZE->EXECUTE", events[1].Event)
}
