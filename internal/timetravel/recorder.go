// Package timetravel implements the Time-Travel Recorder (C9): an
// append-only per-session JSONL event log with replay/diff, grounded on
// the example pack's append-only logbook pattern (kingrea-The-Lattice's
// internal/logbook) adapted from plain text lines to structured JSON
// events, one per line, opened/appended/closed per write exactly like the
// teacher pack's logbook does for its text log.
package timetravel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// Event is one append-only time-travel log line, per spec §4.9.
type Event struct {
	Timestamp      time.Time             `json:"ts"`
	SessionID      string                `json:"session_id"`
	CycleID        int                   `json:"cycle_id"`
	PRPState       models.PRPState       `json:"prp_state"`
	ExhaustionMode models.ExhaustionMode `json:"exhaustion_mode"`
	Event          string                `json:"event"`
	Payload        any                   `json:"payload,omitempty"`
}

// Recorder writes one JSONL file per session under Dir/<session_id>.jsonl.
// Every write opens, appends, and closes the file under a per-session
// mutex, matching the teacher pack's logbook append discipline.
type Recorder struct {
	Dir string
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecorder returns a Recorder rooted at dir, creating it if necessary.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("timetravel: create dir: %w", err)
	}
	return &Recorder{Dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

func (r *Recorder) pathFor(sessionID string) string {
	return filepath.Join(r.Dir, sessionID+".jsonl")
}

// append is the single write path; all log_* API methods funnel through it.
// Writes never block the caller's reasoning path — callers invoke this from
// a fire-and-forget goroutine per spec §4.9/§5. A failed write is logged by
// the caller and never treated as fatal to the runtime loop.
func (r *Recorder) append(ev Event) error {
	lock := r.sessionLock(ev.SessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(r.pathFor(ev.SessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("timetravel: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("timetravel: marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("timetravel: write: %w", err)
	}
	return nil
}

func baseEvent(state *models.SessionState, event string, now time.Time) Event {
	return Event{
		Timestamp:      now,
		SessionID:      state.SessionID,
		CycleID:        state.PRP.CycleCount,
		PRPState:       state.PRP.Current,
		ExhaustionMode: state.Exhaustion.Mode,
		Event:          event,
	}
}

// LogStage records a context-engine stage transition (pre_process,
// govern_context, driver, post_process). payload is informational
// only — the recorder never mutates session state.
func (r *Recorder) LogStage(state *models.SessionState, stage string, payload any) error {
	ev := baseEvent(state, "stage:"+stage, r.now())
	ev.Payload = payload
	return r.append(ev)
}

// LogTool records a tool invocation.
func (r *Recorder) LogTool(state *models.SessionState, toolName string, payload any) error {
	ev := baseEvent(state, "tool:"+toolName, r.now())
	ev.Payload = payload
	return r.append(ev)
}

// LogTransition records a PRP state-machine transition.
func (r *Recorder) LogTransition(state *models.SessionState, event string, payload any) error {
	ev := baseEvent(state, "transition:"+event, r.now())
	ev.Payload = payload
	return r.append(ev)
}

// LogSnapshot records a workspace snapshot event.
func (r *Recorder) LogSnapshot(state *models.SessionState, reason string, payload any) error {
	ev := baseEvent(state, "snapshot:"+reason, r.now())
	ev.Payload = payload
	return r.append(ev)
}

// Replay returns all events for a session filtered to a single cycle_id.
func (r *Recorder) Replay(sessionID string, cycleID int) ([]Event, error) {
	events, err := r.readAll(sessionID)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range events {
		if ev.CycleID == cycleID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *Recorder) readAll(sessionID string) ([]Event, error) {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(r.pathFor(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timetravel: open for read: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("timetravel: decode line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("timetravel: scan: %w", err)
	}
	return events, nil
}

// Diff summarizes what changed between two cycles of the same session.
type Diff struct {
	TokenDelta     int      `json:"token_delta"`
	ToolCallsDelta int      `json:"tool_calls_delta"`
	StageDelta     int      `json:"stage_delta"`
	StatusChanges  []string `json:"status_changes"`
}

// Diff compares cycleA and cycleB's recorded events.
func (r *Recorder) Diff(sessionID string, cycleA, cycleB int) (Diff, error) {
	eventsA, err := r.Replay(sessionID, cycleA)
	if err != nil {
		return Diff{}, err
	}
	eventsB, err := r.Replay(sessionID, cycleB)
	if err != nil {
		return Diff{}, err
	}

	tokensA, toolsA, stagesA := summarize(eventsA)
	tokensB, toolsB, stagesB := summarize(eventsB)

	var statusChanges []string
	if len(eventsA) > 0 && len(eventsB) > 0 {
		lastA, lastB := eventsA[len(eventsA)-1], eventsB[len(eventsB)-1]
		if lastA.ExhaustionMode != lastB.ExhaustionMode {
			statusChanges = append(statusChanges,
				fmt.Sprintf("exhaustion_mode: %s -> %s", lastA.ExhaustionMode, lastB.ExhaustionMode))
		}
		if lastA.PRPState != lastB.PRPState {
			statusChanges = append(statusChanges,
				fmt.Sprintf("prp_state: %s -> %s", lastA.PRPState, lastB.PRPState))
		}
	}

	return Diff{
		TokenDelta:     tokensB - tokensA,
		ToolCallsDelta: toolsB - toolsA,
		StageDelta:     stagesB - stagesA,
		StatusChanges:  statusChanges,
	}, nil
}

func summarize(events []Event) (tokens, toolCalls, stages int) {
	for _, ev := range events {
		switch {
		case len(ev.Event) >= 5 && ev.Event[:5] == "tool:":
			toolCalls++
		case len(ev.Event) >= 6 && ev.Event[:6] == "stage:":
			stages++
		}
		if m, ok := ev.Payload.(map[string]any); ok {
			if t, ok := m["tokens"].(float64); ok {
				tokens += int(t)
			}
		}
	}
	return tokens, toolCalls, stages
}
