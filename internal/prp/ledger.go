package prp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// ErrNoveltyBlocked is returned by ProposeHypothesis when the new hypothesis
// is too similar to a prior failed entry with the same strategy (spec §4.4,
// scenario S3) and no differentiation note is supplied.
var ErrNoveltyBlocked = errors.New("prp: novelty_blocked")

// ErrCycleNotFound is returned by ConcludeHypothesis for an unknown cycle id.
var ErrCycleNotFound = errors.New("prp: cycle not found")

// ErrAlreadyConcluded is returned when ConcludeHypothesis is called twice for
// the same entry — ledger mutation happens exactly once per spec §4.4.
var ErrAlreadyConcluded = errors.New("prp: hypothesis already concluded")

// ProposeOptions carries the optional fields of propose_hypothesis.
type ProposeOptions struct {
	Strategy         string
	Dependencies     []int
	Differentiation  string
}

// ProposeHypothesis appends a proposed ledger entry and returns its cycle id.
func ProposeHypothesis(state *models.SessionState, hypothesis string, opts ProposeOptions, now time.Time) (int, error) {
	tokens := tokenize(hypothesis)

	maxSim := 0.0
	blockingFailure := false
	for _, entry := range state.Ledger {
		sim := jaccard(tokens, tokenize(entry.Hypothesis))
		if sim > maxSim {
			maxSim = sim
		}
		if entry.Status == models.LedgerFailed && entry.Strategy == opts.Strategy && sim >= 0.7 {
			blockingFailure = true
		}
	}

	if blockingFailure && opts.Differentiation == "" {
		return 0, ErrNoveltyBlocked
	}

	novelty := 1 - maxSim
	predicted := predictSuccessProbability(state.Ledger, novelty)

	cycleID := nextCycleID(state.Ledger)
	entry := models.LedgerEntry{
		CycleID:                     cycleID,
		Timestamp:                   now,
		Hypothesis:                  hypothesis,
		Status:                      models.LedgerProposed,
		Strategy:                    opts.Strategy,
		NoveltyScore:                novelty,
		Dependencies:                opts.Dependencies,
		PredictedSuccessProbability: predicted,
	}
	state.Ledger = append(state.Ledger, entry)
	return cycleID, nil
}

// ConcludeHypothesis mutates the matching proposed entry exactly once.
func ConcludeHypothesis(state *models.SessionState, cycleID int, status models.LedgerStatus, outcomeSummary string, testResults *models.TestResults) error {
	for i := range state.Ledger {
		if state.Ledger[i].CycleID != cycleID {
			continue
		}
		if state.Ledger[i].Status != models.LedgerProposed {
			return fmt.Errorf("%w: cycle %d", ErrAlreadyConcluded, cycleID)
		}
		state.Ledger[i].Status = status
		state.Ledger[i].OutcomeSummary = outcomeSummary
		state.Ledger[i].TestResults = testResults
		return nil
	}
	return fmt.Errorf("%w: cycle %d", ErrCycleNotFound, cycleID)
}

// QueryPastFailures returns failed ledger entries whose hypothesis contains
// pattern (case-insensitive substring match); empty pattern returns all.
func QueryPastFailures(state *models.SessionState, pattern string) []models.LedgerEntry {
	var out []models.LedgerEntry
	needle := strings.ToLower(pattern)
	for _, entry := range state.Ledger {
		if entry.Status != models.LedgerFailed {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(entry.Hypothesis), needle) {
			out = append(out, entry)
		}
	}
	return out
}

// InferCausalChain computes predecessor edges among cycleIDs from the
// ledger's dependency graph, per spec §4.4: base confidence 0.55, bumped to
// 0.72 when the predecessor succeeded, 0.85 when it failed.
func InferCausalChain(state *models.SessionState, cycleIDs []int) []models.CausalLink {
	byID := make(map[int]models.LedgerEntry, len(state.Ledger))
	for _, e := range state.Ledger {
		byID[e.CycleID] = e
	}

	wanted := make(map[int]bool, len(cycleIDs))
	for _, id := range cycleIDs {
		wanted[id] = true
	}

	var links []models.CausalLink
	for _, id := range cycleIDs {
		entry, ok := byID[id]
		if !ok {
			continue
		}
		for _, dep := range entry.Dependencies {
			if !wanted[dep] {
				continue
			}
			confidence := 0.55
			if pred, ok := byID[dep]; ok {
				switch pred.Status {
				case models.LedgerSucceeded:
					confidence = 0.72
				case models.LedgerFailed:
					confidence = 0.85
				}
			}
			links = append(links, models.CausalLink{From: dep, To: id, Confidence: confidence})
		}
	}
	return links
}

func nextCycleID(ledger []models.LedgerEntry) int {
	max := 0
	for _, e := range ledger {
		if e.CycleID > max {
			max = e.CycleID
		}
	}
	return max + 1
}

// predictSuccessProbability combines historical success rate, similar-entry
// outcomes, and a novelty multiplier 0.4 + 0.6*novelty (spec §4.4).
func predictSuccessProbability(ledger []models.LedgerEntry, novelty float64) float64 {
	concluded := 0
	succeeded := 0
	for _, e := range ledger {
		switch e.Status {
		case models.LedgerSucceeded:
			concluded++
			succeeded++
		case models.LedgerFailed, models.LedgerRejected:
			concluded++
		}
	}
	base := 0.5
	if concluded > 0 {
		base = float64(succeeded) / float64(concluded)
	}
	multiplier := 0.4 + 0.6*novelty
	p := base * multiplier
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b|, 0 when both sets are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
