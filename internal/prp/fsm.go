// Package prp implements the Perpetual Refinement Protocol state machine
// (C4): a guarded FSM over {HYPOTHESIZE, EXECUTE, TEST, CONCLUDE, PROPOSE}
// plus the append-only refinement ledger and its novelty/causal-chain
// queries. Grounded on the teacher's guarded-transition style in
// pkg/agent/context.go (phase gating) generalized to the spec's transition
// table.
package prp

import (
	"errors"
	"fmt"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// ErrInvalidTransition is returned in strict mode for a disallowed PRP edge.
var ErrInvalidTransition = errors.New("prp: invalid transition")

// transitionGuard reports whether the edge is currently allowed given the
// exhaustion mode and invariant flags.
type transitionGuard func(inv models.InvariantState, mode models.ExhaustionMode) bool

type edge struct {
	from, to models.PRPState
	guard    transitionGuard
}

func in(mode models.ExhaustionMode, set ...models.ExhaustionMode) bool {
	for _, m := range set {
		if mode == m {
			return true
		}
	}
	return false
}

// edges encodes the transition table from spec §4.4 exactly.
var edges = []edge{
	{models.StateHypothesize, models.StateExecute, func(_ models.InvariantState, mode models.ExhaustionMode) bool {
		return !in(mode, models.ExhaustionRetryDepletion, models.ExhaustionToolBackpressure)
	}},
	{models.StateExecute, models.StateTest, func(_ models.InvariantState, mode models.ExhaustionMode) bool {
		return mode != models.ExhaustionToolBackpressure
	}},
	{models.StateExecute, models.StateHypothesize, func(_ models.InvariantState, mode models.ExhaustionMode) bool {
		return in(mode, models.ExhaustionRetryDepletion, models.ExhaustionToolBackpressure, models.ExhaustionPredicted)
	}},
	{models.StateTest, models.StateConclude, func(inv models.InvariantState, mode models.ExhaustionMode) bool {
		return !in(mode, models.ExhaustionTestFailure, models.ExhaustionHypothesisExhausted) &&
			!inv.NeedsTestAfterRejection && inv.ContextUpdatedInCycle && inv.SkepticismGateSatisfied
	}},
	{models.StateTest, models.StateHypothesize, func(_ models.InvariantState, mode models.ExhaustionMode) bool {
		return in(mode, models.ExhaustionTestFailure, models.ExhaustionHypothesisExhausted)
	}},
	{models.StateConclude, models.StatePropose, func(inv models.InvariantState, mode models.ExhaustionMode) bool {
		return !in(mode, models.ExhaustionTestFailure, models.ExhaustionHypothesisExhausted) &&
			!inv.NeedsTestAfterRejection && inv.ContextUpdatedInCycle && inv.SkepticismGateSatisfied
	}},
	{models.StateConclude, models.StateExecute, func(_ models.InvariantState, mode models.ExhaustionMode) bool {
		return in(mode, models.ExhaustionContextSaturation, models.ExhaustionToolBackpressure)
	}},
	// PROPOSE -> HYPOTHESIZE is gated entirely on skepticTriggered, handled
	// specially in Transition below since it ignores exhaustion mode.
}

// TransitionRequest bundles the inputs a single PRP advance needs.
type TransitionRequest struct {
	To              models.PRPState
	ExhaustionMode  models.ExhaustionMode
	SkepticTriggered bool
}

// Result is the outcome of attempting a transition.
type Result struct {
	Applied  bool
	Rejected bool
	Violation *models.ViolationRecord
}

// Transition attempts to move state.PRP.Current to req.To. On success it
// sets state.PRP.Current (incrementing cycle_count on PROPOSE->HYPOTHESIZE)
// and sets or resets the per-cycle invariant flags as required by the edge
// (spec §4.4 "Notes"); it never changes in_prp.
// In strict mode a disallowed edge returns ErrInvalidTransition and leaves
// state untouched. In lenient mode it appends a ViolationRecord and
// returns a non-error Result with Rejected=true.
func Transition(state *models.SessionState, req TransitionRequest, strict bool, now time.Time) (Result, error) {
	from := state.PRP.Current

	if from == models.StatePropose && req.To == models.StateHypothesize {
		if !req.SkepticTriggered {
			return reject(state, from, req.To, "PROPOSE->HYPOTHESIZE requires skeptic_triggered", strict, now)
		}
		state.PRP.Current = models.StateHypothesize
		state.PRP.CycleCount++
		state.Invariants.NeedsTestAfterRejection = true
		return Result{Applied: true}, nil
	}

	for _, e := range edges {
		if e.from != from || e.to != req.To {
			continue
		}
		if !e.guard(state.Invariants, req.ExhaustionMode) {
			return reject(state, from, req.To, "exhaustion/invariant guard failed", strict, now)
		}
		state.PRP.Current = req.To
		if from == models.StateHypothesize && req.To == models.StateExecute {
			state.Invariants.SkepticismGateSatisfied = false
			state.Invariants.ContextUpdatedInCycle = false
		}
		return Result{Applied: true}, nil
	}

	return reject(state, from, req.To, "no such edge", strict, now)
}

func reject(state *models.SessionState, from, to models.PRPState, detail string, strict bool, now time.Time) (Result, error) {
	if strict {
		return Result{Rejected: true}, fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, from, to, detail)
	}
	v := models.ViolationRecord{
		Timestamp: now,
		Kind:      "prp_invalid_transition",
		Detail:    fmt.Sprintf("%s -> %s: %s", from, to, detail),
	}
	state.Invariants.ViolationLog = append(state.Invariants.ViolationLog, v)
	return Result{Rejected: true, Violation: &v}, nil
}
