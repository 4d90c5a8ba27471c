package runtimeloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/checkpoint"
	"github.com/logan-robbins/quadracode-sub000/internal/config"
	cengine "github.com/logan-robbins/quadracode-sub000/internal/context"
	"github.com/logan-robbins/quadracode-sub000/internal/envelope"
	"github.com/logan-robbins/quadracode-sub000/internal/llmport"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
	"github.com/logan-robbins/quadracode-sub000/internal/timetravel"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestLoop(t *testing.T, mailbox *envelope.MemoryMailbox) *Loop {
	t.Helper()
	cfg := config.Defaults()
	cfg.MailboxBatchSize = 16
	cfg.MailboxReadTimeout = 0
	cfg.StrictInvariants = false

	recorder, err := timetravel.NewRecorder(t.TempDir())
	require.NoError(t, err)

	llm := &llmport.StubClient{Responses: [][]llmport.Chunk{{llmport.TextChunk{Content: "acknowledged"}}}}
	deps := &cengine.Dependencies{Config: cfg, LLM: llm, Now: fixedNow}

	return &Loop{
		Mailbox:    mailbox,
		Checkpoint: checkpoint.NewMemoryStore(),
		Context:    deps,
		Recorder:   recorder,
		Profile:    config.NewProfile(config.RoleWorker, "worker-1", "you are a worker"),
		Config:     cfg,
		Now:        fixedNow,
	}
}

func publishUserEnvelope(t *testing.T, mailbox *envelope.MemoryMailbox, recipient, sessionID, message string) {
	t.Helper()
	payload, err := models.EncodePayload(models.EnvelopePayload{SessionID: sessionID, ThreadID: "t1"})
	require.NoError(t, err)
	_, err = mailbox.Publish(context.Background(), recipient, models.Envelope{
		Timestamp: fixedNow(), Sender: "human", Recipient: recipient, Message: message, Payload: payload,
	})
	require.NoError(t, err)
}

func TestRunIterationProcessesEnvelopeAndChecksPoints(t *testing.T) {
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)
	publishUserEnvelope(t, mailbox, "worker-1", "s1", "please help")

	n, err := loop.RunIteration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, mailbox.Depth("worker-1"), "entry must be acked")

	state, err := loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, state.Conversation)
	assert.Len(t, state.DedupeAcked, 1)
	assert.Equal(t, 1, mailbox.Depth("human"), "assistant reply published to the default reply recipient")
}

func TestRunIterationSkipsReprocessingAnAlreadyDedupedStreamID(t *testing.T) {
	// MemoryMailbox assigns deterministic sequential ids starting at "1-0"
	// for the first publish to any recipient, so a freshly seeded state
	// with that id already in its dedupe set exercises the crash-between
	// -put-and-ack recovery path (spec §4.10 step 6, scenario S6) without
	// needing to observe the id at runtime.
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)

	seeded := models.NewSessionState("s1")
	seeded.DedupeAcked["1-0"] = true
	require.NoError(t, loop.Checkpoint.Put(context.Background(), seeded))

	publishUserEnvelope(t, mailbox, "worker-1", "s1", "first")

	n, err := loop.RunIteration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, mailbox.Depth("worker-1"), "deduped entry is still acked")

	state, err := loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, state.Conversation, "deduped entry must not reprocess the turn")
}

func TestRunIterationDeadLettersPoisonEnvelope(t *testing.T) {
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)
	_, err := mailbox.Publish(context.Background(), "worker-1", models.Envelope{
		Timestamp: fixedNow(), Sender: "human", Recipient: "worker-1", Message: "bad", Payload: "not json",
	})
	require.NoError(t, err)

	n, err := loop.RunIteration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, mailbox.Depth("worker-1"))
	assert.Equal(t, 1, mailbox.Depth(deadLetterRecipient))
}

func TestRunIterationAppliesSkepticRewrite(t *testing.T) {
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)

	st := models.NewSessionState("s1")
	st.PRP.Current = models.StatePropose
	require.NoError(t, loop.Checkpoint.Put(context.Background(), st))

	trigJSON := `{"cycle_iteration":1,"exhaustion_mode":"test_failure","required_artifacts":["unit_tests"],"rationale":"tests failing"}`
	payload, err := models.EncodePayload(models.EnvelopePayload{SessionID: "s1"})
	require.NoError(t, err)
	_, err = mailbox.Publish(context.Background(), "worker-1", models.Envelope{
		Timestamp: fixedNow(), Sender: "skeptic", Recipient: "worker-1", Message: trigJSON, Payload: payload,
	})
	require.NoError(t, err)

	_, err = loop.RunIteration(context.Background())
	require.NoError(t, err)

	state, err := loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ExhaustionTestFailure, state.Exhaustion.Mode)
}

// fakeSnapshotter is a WorkspaceSnapshotter test double that signals done
// once invoked, so tests can wait deterministically for the background
// dispatch instead of sleeping.
type fakeSnapshotter struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeSnapshotter) SnapshotOnSkepticRejection(state *models.SessionState) (models.SnapshotRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	rec := models.SnapshotRecord{ID: "snap-1", Reason: "skeptic_rejection"}
	state.Workspace.PushSnapshot(rec)
	close(f.done)
	return rec, nil
}

func TestRunIterationSnapshotsWorkspaceOnSkepticRejection(t *testing.T) {
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)
	snapshotter := &fakeSnapshotter{done: make(chan struct{})}
	loop.Workspace = snapshotter

	st := models.NewSessionState("s1")
	st.PRP.Current = models.StatePropose
	require.NoError(t, loop.Checkpoint.Put(context.Background(), st))

	trigJSON := `{"cycle_iteration":1,"exhaustion_mode":"test_failure","required_artifacts":["unit_tests"],"rationale":"tests failing"}`
	payload, err := models.EncodePayload(models.EnvelopePayload{SessionID: "s1"})
	require.NoError(t, err)
	_, err = mailbox.Publish(context.Background(), "worker-1", models.Envelope{
		Timestamp: fixedNow(), Sender: "skeptic", Recipient: "worker-1", Message: trigJSON, Payload: payload,
	})
	require.NoError(t, err)

	_, err = loop.RunIteration(context.Background())
	require.NoError(t, err)

	select {
	case <-snapshotter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background workspace snapshot")
	}

	state, err := loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, state.Workspace.Snapshots, 1, "skeptic-triggered transitions snapshot the workspace (spec §4.8, S2)")
	assert.Equal(t, "skeptic_rejection", state.Workspace.Snapshots[0].Reason)
}

func TestRunIterationThreadsTestResultsAcrossTurnsForFalseStopMitigation(t *testing.T) {
	mailbox := envelope.NewMemoryMailbox()
	loop := newTestLoop(t, mailbox)
	loop.Context.LLM = &llmport.StubClient{Responses: [][]llmport.Chunk{
		{llmport.ToolCallChunk{Name: "request_final_review", CallID: "c1"}},
		{llmport.ToolCallChunk{Name: "run_full_test_suite", CallID: "c2"}},
		{llmport.TextChunk{Content: "done"}},
	}}

	publishUserEnvelope(t, mailbox, "worker-1", "s1", "turn one")
	_, err := loop.RunIteration(context.Background())
	require.NoError(t, err)
	state, err := loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, state.Autonomy.FalseStopEvents)
	require.True(t, state.Autonomy.FalseStopPending)

	publishUserEnvelope(t, mailbox, "worker-1", "s1", "turn two")
	_, err = loop.RunIteration(context.Background())
	require.NoError(t, err)
	state, err = loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state.LastTestResults, "run_full_test_suite's stubbed result is threaded onto session state")
	assert.Equal(t, 0, state.LastTestResults.Failed)
	assert.True(t, state.Autonomy.FalseStopPending, "mitigation observes passing results starting the following turn")

	publishUserEnvelope(t, mailbox, "worker-1", "s1", "turn three")
	_, err = loop.RunIteration(context.Background())
	require.NoError(t, err)
	state, err = loop.Checkpoint.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Autonomy.FalseStopMitigated, "the real runtime loop, not just a direct Driver call, mitigates the false stop")
	assert.False(t, state.Autonomy.FalseStopPending)
}
