package models

import "time"

// SessionState is keyed by SessionID and is durable in the Checkpoint Store.
// It composes typed sub-records rather than a dynamic-typed dict — see
// DESIGN.md for the rationale (spec.md §9 design note on TypedDict state
// families).
type SessionState struct {
	SessionID string `json:"session_id"`

	Conversation []ConversationMessage `json:"conversation"`
	Segments     SegmentSet            `json:"segments"`

	PRP         PrpState        `json:"prp"`
	Ledger      []LedgerEntry   `json:"ledger"`
	Backlog     []CritiqueEntry `json:"critique_backlog"`
	Exhaustion  ExhaustionState `json:"exhaustion"`
	Invariants  InvariantState  `json:"invariants"`
	Autonomy    AutonomyCounters `json:"autonomy"`

	Workspace WorkspaceDescriptor `json:"workspace"`

	TokenUsage map[int]TokenUsage `json:"token_usage"` // keyed by cycle_id

	// RequiredArtifacts is attached by the skeptic trigger (C7) and consulted
	// by the false-stop check in the context engine driver stage (C6).
	RequiredArtifacts []string `json:"required_artifacts,omitempty"`

	// DedupeAcked is the per-session set of stream ids already acked, so a
	// redelivered envelope after a crash between checkpoint-put and ack is
	// recognized and skipped rather than re-run (spec §4.10 step 6, S6).
	DedupeAcked map[string]bool `json:"dedupe_acked"`

	// LastTestResults carries the most recent test-suite outcome across
	// turns, consulted by the driver's false-stop check on the following
	// turn (spec §4.6, scenario S1).
	LastTestResults *TestResults `json:"last_test_results,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState returns a zero-value session ready for its first cycle.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:   sessionID,
		Segments:    NewSegmentSet(),
		PRP:         PrpState{Current: StateHypothesize},
		Exhaustion:  ExhaustionState{Mode: ExhaustionNone},
		TokenUsage:  make(map[int]TokenUsage),
		DedupeAcked: make(map[string]bool),
	}
}

// ConversationMessage is one turn in the conversation.
type ConversationMessage struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ContextSegment is a unit of engineered context.
type ContextSegment struct {
	ID                    string      `json:"id"`
	Kind                  SegmentKind `json:"kind"`
	Content               string      `json:"content"`
	TokenCount            int         `json:"token_count"`
	Priority              int         `json:"priority"` // 1..10
	CompressionEligible   bool        `json:"compression_eligible"`
	RestorableReference   string      `json:"restorable_reference,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	LastUsedAt            time.Time   `json:"last_used_at"`
}

// PrpState is the PRP sub-record embedded in SessionState.
type PrpState struct {
	Current      PRPState `json:"current"`
	CycleCount   int      `json:"cycle_count"`
	InPRP        bool     `json:"in_prp"`
}

// LedgerEntry is one append-only refinement ledger entry.
type LedgerEntry struct {
	CycleID                    int                `json:"cycle_id"`
	Timestamp                  time.Time          `json:"timestamp"`
	Hypothesis                 string             `json:"hypothesis"`
	Status                     LedgerStatus       `json:"status"`
	OutcomeSummary             string             `json:"outcome_summary,omitempty"`
	ExhaustionTrigger          ExhaustionMode     `json:"exhaustion_trigger,omitempty"`
	TestResults                *TestResults       `json:"test_results,omitempty"`
	Strategy                   string             `json:"strategy,omitempty"`
	NoveltyScore               float64            `json:"novelty_score"`
	Dependencies               []int              `json:"dependencies,omitempty"`
	PredictedSuccessProbability float64           `json:"predicted_success_probability"`
	CausalLinks                []CausalLink       `json:"causal_links,omitempty"`
}

// TestResults captures a test-suite or property-test outcome.
type TestResults struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// CausalLink is one inferred predecessor edge between cycles.
type CausalLink struct {
	From       int     `json:"from"`
	To         int     `json:"to"`
	Confidence float64 `json:"confidence"`
}

// CritiqueEntry is one entry of the critique backlog.
type CritiqueEntry struct {
	Category     string   `json:"category"`
	Severity     CritiqueSeverity `json:"severity"`
	Rationale    string   `json:"rationale"`
	DerivedTests []string `json:"derived_tests,omitempty"`
}

// ExhaustionState tracks the current exhaustion mode and recovery history.
type ExhaustionState struct {
	Mode          ExhaustionMode  `json:"mode"`
	Probability   float64         `json:"probability"`
	RecoveryLog   []RecoveryEvent `json:"recovery_log,omitempty"`
}

// RecoveryEvent logs a recovery action taken when the exhaustion mode changed.
type RecoveryEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	FromMode  ExhaustionMode `json:"from_mode"`
	ToMode    ExhaustionMode `json:"to_mode"`
	Action    string         `json:"action"`
}

// InvariantState tracks the per-cycle invariant gates.
type InvariantState struct {
	NeedsTestAfterRejection   bool              `json:"needs_test_after_rejection"`
	ContextUpdatedInCycle     bool              `json:"context_updated_in_cycle"`
	SkepticismGateSatisfied   bool              `json:"skepticism_gate_satisfied"`
	ViolationLog              []ViolationRecord `json:"violation_log,omitempty"`
}

// ViolationRecord is one invariant-violation entry.
type ViolationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
}

// AutonomyCounters track false-stop and skepticism-challenge bookkeeping.
type AutonomyCounters struct {
	FalseStopEvents    int `json:"false_stop_events"`
	FalseStopPending   bool `json:"false_stop_pending"`
	FalseStopMitigated int `json:"false_stop_mitigated"`
	SkepticismChallenges int `json:"skepticism_challenges"`
}

// WorkspaceDescriptor holds the workspace identity and a bounded snapshot
// history ring (capacity 5, per spec §3).
type WorkspaceDescriptor struct {
	Workspace string              `json:"workspace"`
	Snapshots []SnapshotRecord    `json:"snapshots"`
}

const snapshotRingCapacity = 5

// PushSnapshot appends a snapshot record, evicting the oldest if the ring
// (capacity 5) is full.
func (w *WorkspaceDescriptor) PushSnapshot(rec SnapshotRecord) {
	w.Snapshots = append(w.Snapshots, rec)
	if len(w.Snapshots) > snapshotRingCapacity {
		w.Snapshots = w.Snapshots[len(w.Snapshots)-snapshotRingCapacity:]
	}
}

// SnapshotRecord describes one workspace snapshot.
type SnapshotRecord struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	ArchiveRef       string           `json:"archive_ref"`
	Manifest         []ManifestEntry  `json:"manifest"`
	AggregateChecksum string          `json:"aggregate_checksum"`
	Reason           string           `json:"reason"`
}

// ManifestEntry is one file entry of a snapshot manifest, sorted by Path.
type ManifestEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// TokenUsage is the per-cycle token usage ledger entry.
type TokenUsage struct {
	CycleID       int `json:"cycle_id"`
	MessageTokens int `json:"message_tokens"`
	SegmentTokens int `json:"segment_tokens"`
	TotalTokens   int `json:"total_tokens"`
}
