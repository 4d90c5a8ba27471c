// Package runtimeloop implements the Runtime Loop (C10): the per-process
// iteration that reads a mailbox batch, runs the C6 context-engine stages
// and C4 PRP transitions per envelope, records via C9, and checkpoints via
// C2 — grounded on the teacher's pkg/queue/worker.go claim-execute-commit
// cycle, generalized from "claim a pending DB row" to "read+ack a mailbox
// entry" and from ent/Postgres session rows to SessionState checkpoints.
package runtimeloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/checkpoint"
	"github.com/logan-robbins/quadracode-sub000/internal/config"
	cengine "github.com/logan-robbins/quadracode-sub000/internal/context"
	"github.com/logan-robbins/quadracode-sub000/internal/envelope"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
	"github.com/logan-robbins/quadracode-sub000/internal/prp"
	"github.com/logan-robbins/quadracode-sub000/internal/skeptic"
	"github.com/logan-robbins/quadracode-sub000/internal/timetravel"
)

// deadLetterRecipient is the fixed mailbox name for poison/malformed
// envelopes, per the supplemented dead-letter-mailbox feature.
const deadLetterRecipient = "dead-letter"

// Emitter is the C12 observability surface the loop emits session-level
// turn events to.
type Emitter interface {
	Emit(ctx context.Context, stream, event, sessionID string, payload map[string]any)
}

// WorkspaceSnapshotter is the C8 surface applySkepticRewrite calls to
// snapshot the workspace on every skeptic-triggered PRP transition
// (spec §4.8, scenario S2).
type WorkspaceSnapshotter interface {
	SnapshotOnSkepticRejection(state *models.SessionState) (models.SnapshotRecord, error)
}

// asyncQueueCapacity bounds the loop's background dispatch queue for
// time-travel logging and workspace snapshotting; a burst beyond this drops
// the job with a warning rather than blocking the main iteration.
const asyncQueueCapacity = 256

// Loop is one agent process's runtime loop: one Profile, one mailbox
// recipient, cooperative dispatch across sessions with a per-session lock.
type Loop struct {
	Mailbox       envelope.Mailbox
	Checkpoint    checkpoint.Store
	Context       *cengine.Dependencies
	Recorder      *timetravel.Recorder
	Workspace     WorkspaceSnapshotter
	Observability Emitter
	Profile       config.Profile
	Config        *config.Config
	Now           func() time.Time

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex

	asyncOnce sync.Once
	asyncCh   chan func()
}

// dispatchAsync runs fn on a background goroutine, off the main loop
// iteration, matching the fire-and-forget contract timetravel.Recorder and
// workspace.Manager document on their own methods (spec §5 suspension-point
// contract). The drain goroutine starts lazily and lives for the Loop's
// lifetime.
func (l *Loop) dispatchAsync(fn func()) {
	l.asyncOnce.Do(func() {
		l.asyncCh = make(chan func(), asyncQueueCapacity)
		go func() {
			for job := range l.asyncCh {
				job()
			}
		}()
	})
	select {
	case l.asyncCh <- fn:
	default:
		slog.Warn("runtimeloop: async dispatch queue full, dropping job")
	}
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *Loop) lockFor(sessionID string) *sync.Mutex {
	l.sessionLocksMu.Lock()
	defer l.sessionLocksMu.Unlock()
	if l.sessionLocks == nil {
		l.sessionLocks = make(map[string]*sync.Mutex)
	}
	m, ok := l.sessionLocks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.sessionLocks[sessionID] = m
	}
	return m
}

// RunIteration implements one pass of spec §4.10 steps 1-7: read a bounded
// batch, process each envelope in turn, cooperatively yielding to ctx
// between envelopes. Returns the number of entries processed.
func (l *Loop) RunIteration(ctx context.Context) (int, error) {
	batch := int64(l.Config.MailboxBatchSize)
	entries, err := l.Mailbox.Read(ctx, l.Profile.Recipient, batch, l.Config.MailboxReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("runtimeloop: read mailbox: %w", err)
	}

	for i, entry := range entries {
		if err := l.processEntry(ctx, entry); err != nil {
			slog.Error("runtimeloop: entry processing failed", "stream_id", entry.StreamID, "error", err)
		}
		if i < len(entries)-1 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			default:
			}
		}
	}
	return len(entries), nil
}

// processEntry implements spec §4.10 steps 2-6 for a single envelope.
func (l *Loop) processEntry(ctx context.Context, entry envelope.Entry) error {
	payload, isPoison := envelope.DecodePayloadOrPoison(entry.Envelope.Payload)
	if isPoison {
		return l.deadLetter(ctx, entry, "malformed envelope payload")
	}

	lock := l.lockFor(payload.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := l.loadState(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("runtimeloop: load state: %w", err)
	}

	if state.DedupeAcked[entry.StreamID] {
		// Crash between a prior put and ack: already applied, only re-ack.
		return l.Mailbox.Ack(ctx, l.Profile.Recipient, entry.StreamID)
	}

	outbound, procErr := l.runTurn(ctx, state, entry.Envelope, payload)
	if procErr != nil {
		return fmt.Errorf("runtimeloop: run turn: %w", procErr)
	}

	for _, out := range outbound {
		if _, err := l.Mailbox.Publish(ctx, out.Recipient, out); err != nil {
			return fmt.Errorf("runtimeloop: publish outbound: %w", err)
		}
	}

	state.DedupeAcked[entry.StreamID] = true
	state.UpdatedAt = l.now()
	if err := l.Checkpoint.Put(ctx, state); err != nil {
		return fmt.Errorf("runtimeloop: checkpoint put: %w", err)
	}
	if err := l.Mailbox.Ack(ctx, l.Profile.Recipient, entry.StreamID); err != nil {
		return fmt.Errorf("runtimeloop: ack: %w", err)
	}

	l.emit(ctx, "autonomous:events", "turn_complete", state, map[string]any{
		"prp_state":       state.PRP.Current,
		"exhaustion_mode": state.Exhaustion.Mode,
	})
	return nil
}

func (l *Loop) loadState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	state, err := l.Checkpoint.Get(ctx, sessionID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, checkpoint.ErrNotFound) {
		return models.NewSessionState(sessionID), nil
	}
	return nil, err
}

// runTurn runs the C7 rewrite (if applicable), the C6 stages, and C4
// transition bookkeeping, recording each via C9, and returns the outbound
// envelopes to publish in production order (spec §4.10 step 5).
func (l *Loop) runTurn(ctx context.Context, state *models.SessionState, in models.Envelope, payload models.EnvelopePayload) ([]models.Envelope, error) {
	state.Conversation = append(state.Conversation, models.ConversationMessage{
		Role: models.RoleUser, Content: in.Message, CreatedAt: l.now(),
	})

	if in.Sender == "skeptic" {
		if err := l.applySkepticRewrite(ctx, state, in.Message); err != nil {
			l.logStage(state, "skeptic_rewrite_failed", map[string]any{"error": err.Error()})
			return nil, err
		}
	}

	preResult, err := l.Context.PreProcess(ctx, state, nil)
	if err != nil {
		return nil, err
	}
	l.logStage(state, "pre_process", map[string]any{"history_compressed": preResult.HistoryCompressed, "quality_score": preResult.QualityScore})

	outline := l.Context.GovernContext(ctx, state)
	l.logStage(state, "govern_context", map[string]any{"segments": len(outline.OrderedSegments)})

	driverResult, err := l.Context.Driver(ctx, state, outline, state.LastTestResults)
	if err != nil {
		return nil, err
	}
	l.logStage(state, "driver", map[string]any{"tool_calls": len(driverResult.ToolCalls), "false_stop": driverResult.FalseStop})
	state.Conversation = append(state.Conversation, driverResult.AssistantMessage)

	responses := stubToolResponses(driverResult)
	for _, r := range responses {
		if r.TestResults != nil {
			// Threaded into the next turn's Driver call so the false-stop
			// mitigation (spec §4.6, S1) can fire through the real loop.
			state.LastTestResults = r.TestResults
		}
		l.logTool(state, r.ToolName, map[string]any{"content_len": len(r.Content)})
	}
	postResult := l.Context.PostProcess(ctx, state, responses, preResult.ExhaustionChanged)
	l.logStage(state, "post_process", map[string]any{"tool_messages": len(postResult.ToolMessages)})

	l.advancePRP(state, preResult.ExhaustionChanged)

	outbound := models.Envelope{
		Timestamp: l.now(),
		Sender:    l.Profile.Recipient,
		Recipient: l.Profile.Route(replyRecipient(payload)),
		Message:   driverResult.AssistantMessage.Content,
	}
	if encoded, err := models.EncodePayload(models.EnvelopePayload{SessionID: payload.SessionID, ThreadID: payload.ThreadID, ReplyTo: payload.ReplyTo}); err == nil {
		outbound.Payload = encoded
	}
	return []models.Envelope{outbound}, nil
}

func replyRecipient(payload models.EnvelopePayload) string {
	if payload.ReplyTo != "" {
		return payload.ReplyTo
	}
	return "human"
}

// runFullTestSuiteTool is the tool name the driver calls to re-run tests;
// its stub response is the only one that carries TestResults, since it is
// the signal isFalseStop/the mitigation branch key off (spec §4.6, S1).
const runFullTestSuiteTool = "run_full_test_suite"

// stubToolResponses synthesizes a ToolResponse per driver tool call. Actual
// tool execution (MCP, shell, etc.) is out of scope for this orchestration
// core (see SPEC_FULL.md §2 non-goals); the runtime loop still exercises
// post_process's per-response bookkeeping so the skepticism gate and
// context-updated invariant advance correctly each cycle, and synthesizes a
// passing TestResults for run_full_test_suite so the false-stop mitigation
// has real data to thread forward.
func stubToolResponses(result cengine.DriverResult) []cengine.ToolResponse {
	out := make([]cengine.ToolResponse, 0, len(result.ToolCalls))
	for _, tc := range result.ToolCalls {
		resp := cengine.ToolResponse{ToolCallID: tc.CallID, ToolName: tc.Name, Content: "ok"}
		if tc.Name == runFullTestSuiteTool {
			resp.Content = "tests passed"
			resp.TestResults = &models.TestResults{Passed: 1}
		}
		out = append(out, resp)
	}
	return out
}

// applySkepticRewrite parses the skeptic's rejection message and applies
// its side effects (C7), recording the PRP transition via C9.
func (l *Loop) applySkepticRewrite(ctx context.Context, state *models.SessionState, message string) error {
	trig, err := skeptic.Parse(message)
	if err != nil {
		return l.deadLetterSkepticTrigger(ctx, state, err)
	}
	result, err := skeptic.Apply(state, trig, l.Config.StrictInvariants, l.now())
	if err != nil {
		return err
	}
	l.logTransition(state, "skeptic_triggered", map[string]any{"applied": result.PRP.Applied})
	l.snapshotOnSkepticRejection(state.SessionID)
	return nil
}

// deadLetterSkepticTrigger records a malformed skeptic trigger to the
// time-travel log and returns nil, so the envelope goes through an ordinary
// turn and is acked. It does not re-queue the envelope, publish anything to
// the dead-letter mailbox, or force a PRP transition.
func (l *Loop) deadLetterSkepticTrigger(ctx context.Context, state *models.SessionState, cause error) error {
	l.logStage(state, "malformed_skeptic_trigger", map[string]any{"error": cause.Error()})
	return nil
}

// advancePRP drives the PRP forward one step along the happy-path edge for
// the current state when its guard is satisfied; it records every attempt
// (applied or rejected) via C9.
func (l *Loop) advancePRP(state *models.SessionState, exhaustionChanged bool) {
	next, ok := happyPathNext[state.PRP.Current]
	if !ok {
		return
	}
	result, err := prp.Transition(state, prp.TransitionRequest{To: next, ExhaustionMode: state.Exhaustion.Mode}, l.Config.StrictInvariants, l.now())
	if err != nil {
		l.logTransition(state, fmt.Sprintf("%s->%s_error", state.PRP.Current, next), map[string]any{"error": err.Error()})
		return
	}
	l.logTransition(state, fmt.Sprintf("%s->%s", state.PRP.Current, next), map[string]any{"applied": result.Applied, "rejected": result.Rejected})
}

var happyPathNext = map[models.PRPState]models.PRPState{
	models.StateHypothesize: models.StateExecute,
	models.StateExecute:     models.StateTest,
	models.StateTest:        models.StateConclude,
	models.StateConclude:    models.StatePropose,
}

func (l *Loop) deadLetter(ctx context.Context, entry envelope.Entry, reason string) error {
	slog.Warn("runtimeloop: dead-lettering envelope", "stream_id", entry.StreamID, "reason", reason)
	if _, err := l.Mailbox.Publish(ctx, deadLetterRecipient, entry.Envelope); err != nil {
		return fmt.Errorf("runtimeloop: publish dead-letter: %w", err)
	}
	return l.Mailbox.Ack(ctx, l.Profile.Recipient, entry.StreamID)
}

// recorderSnapshot copies only the fields timetravel.Recorder's baseEvent
// reads, so a background-dispatched log call never races the main
// goroutine's continued mutation of the live state during the rest of the
// turn (spec §5).
func recorderSnapshot(state *models.SessionState) *models.SessionState {
	return &models.SessionState{
		SessionID:  state.SessionID,
		PRP:        state.PRP,
		Exhaustion: models.ExhaustionState{Mode: state.Exhaustion.Mode},
	}
}

func (l *Loop) logStage(state *models.SessionState, stage string, payload any) {
	if l.Recorder == nil {
		return
	}
	snap := recorderSnapshot(state)
	l.dispatchAsync(func() {
		if err := l.Recorder.LogStage(snap, stage, payload); err != nil {
			slog.Warn("runtimeloop: time-travel log_stage failed", "session_id", snap.SessionID, "error", err)
		}
	})
}

func (l *Loop) logTool(state *models.SessionState, toolName string, payload any) {
	if l.Recorder == nil {
		return
	}
	snap := recorderSnapshot(state)
	l.dispatchAsync(func() {
		if err := l.Recorder.LogTool(snap, toolName, payload); err != nil {
			slog.Warn("runtimeloop: time-travel log_tool failed", "session_id", snap.SessionID, "error", err)
		}
	})
}

func (l *Loop) logTransition(state *models.SessionState, event string, payload any) {
	if l.Recorder == nil {
		return
	}
	snap := recorderSnapshot(state)
	l.dispatchAsync(func() {
		if err := l.Recorder.LogTransition(snap, event, payload); err != nil {
			slog.Warn("runtimeloop: time-travel log_transition failed", "session_id", snap.SessionID, "error", err)
		}
	})
}

// snapshotOnSkepticRejection fires the workspace snapshot required on every
// skeptic-triggered PRP transition (spec §4.8, S2), off the main loop. It
// re-acquires the session lock and reloads the checkpoint fresh inside the
// background job rather than mutating the live in-flight state, since by
// the time this runs the triggering turn may already have released its
// lock and persisted its own checkpoint.
func (l *Loop) snapshotOnSkepticRejection(sessionID string) {
	if l.Workspace == nil {
		return
	}
	l.dispatchAsync(func() {
		lock := l.lockFor(sessionID)
		lock.Lock()
		defer lock.Unlock()

		state, err := l.loadState(context.Background(), sessionID)
		if err != nil {
			slog.Warn("runtimeloop: reload state for skeptic snapshot failed", "session_id", sessionID, "error", err)
			return
		}
		if _, err := l.Workspace.SnapshotOnSkepticRejection(state); err != nil {
			slog.Warn("runtimeloop: workspace snapshot on skeptic rejection failed", "session_id", sessionID, "error", err)
			return
		}
		state.UpdatedAt = l.now()
		if err := l.Checkpoint.Put(context.Background(), state); err != nil {
			slog.Warn("runtimeloop: checkpoint put after skeptic snapshot failed", "session_id", sessionID, "error", err)
		}
	})
}

func (l *Loop) emit(ctx context.Context, stream, event string, state *models.SessionState, payload map[string]any) {
	if l.Observability == nil {
		return
	}
	l.Observability.Emit(ctx, stream, event, state.SessionID, payload)
}
