package prp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func TestProposeHypothesisFirstEntryIsFullyNovel(t *testing.T) {
	st := models.NewSessionState("s1")
	cycleID, err := ProposeHypothesis(st, "refactor module X", ProposeOptions{Strategy: "refactor-X"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, cycleID)
	require.Len(t, st.Ledger, 1)
	assert.Equal(t, 1.0, st.Ledger[0].NoveltyScore)
	assert.Equal(t, models.LedgerProposed, st.Ledger[0].Status)
}

func TestProposeHypothesisBlockedByNovelty(t *testing.T) {
	st := models.NewSessionState("s1")
	cycleID, err := ProposeHypothesis(st, "refactor module X", ProposeOptions{Strategy: "refactor-X"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, ConcludeHypothesis(st, cycleID, models.LedgerFailed, "did not work", nil))

	_, err = ProposeHypothesis(st, "refactor module X more carefully", ProposeOptions{Strategy: "refactor-X"}, time.Now())
	assert.ErrorIs(t, err, ErrNoveltyBlocked)

	// With a differentiation note, the same proposal succeeds.
	cycleID2, err := ProposeHypothesis(st, "refactor module X more carefully", ProposeOptions{
		Strategy: "refactor-X", Differentiation: "adds a staged rollback this time",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, cycleID2)
}

func TestConcludeHypothesisExactlyOnce(t *testing.T) {
	st := models.NewSessionState("s1")
	cycleID, err := ProposeHypothesis(st, "try approach A", ProposeOptions{}, time.Now())
	require.NoError(t, err)

	require.NoError(t, ConcludeHypothesis(st, cycleID, models.LedgerSucceeded, "worked", &models.TestResults{Passed: 3}))
	err = ConcludeHypothesis(st, cycleID, models.LedgerFailed, "retry", nil)
	assert.ErrorIs(t, err, ErrAlreadyConcluded)
}

func TestConcludeHypothesisUnknownCycle(t *testing.T) {
	st := models.NewSessionState("s1")
	err := ConcludeHypothesis(st, 99, models.LedgerSucceeded, "x", nil)
	assert.ErrorIs(t, err, ErrCycleNotFound)
}

func TestQueryPastFailures(t *testing.T) {
	st := models.NewSessionState("s1")
	id1, _ := ProposeHypothesis(st, "approach alpha", ProposeOptions{}, time.Now())
	id2, _ := ProposeHypothesis(st, "approach beta", ProposeOptions{}, time.Now())
	require.NoError(t, ConcludeHypothesis(st, id1, models.LedgerFailed, "no", nil))
	require.NoError(t, ConcludeHypothesis(st, id2, models.LedgerSucceeded, "yes", nil))

	failures := QueryPastFailures(st, "")
	require.Len(t, failures, 1)
	assert.Equal(t, id1, failures[0].CycleID)

	assert.Empty(t, QueryPastFailures(st, "beta"))
	assert.Len(t, QueryPastFailures(st, "alpha"), 1)
}

func TestInferCausalChainConfidenceBumps(t *testing.T) {
	st := models.NewSessionState("s1")
	idA, _ := ProposeHypothesis(st, "base approach", ProposeOptions{}, time.Now())
	require.NoError(t, ConcludeHypothesis(st, idA, models.LedgerSucceeded, "ok", nil))

	idB, _ := ProposeHypothesis(st, "second totally different thing", ProposeOptions{Dependencies: []int{idA}}, time.Now())
	require.NoError(t, ConcludeHypothesis(st, idB, models.LedgerFailed, "broke", nil))

	idC, _ := ProposeHypothesis(st, "third unrelated idea here", ProposeOptions{Dependencies: []int{idB}}, time.Now())

	links := InferCausalChain(st, []int{idA, idB, idC})
	require.Len(t, links, 2)

	var abConf, bcConf float64
	for _, l := range links {
		if l.From == idA && l.To == idB {
			abConf = l.Confidence
		}
		if l.From == idB && l.To == idC {
			bcConf = l.Confidence
		}
	}
	assert.Equal(t, 0.72, abConf, "predecessor succeeded -> 0.72")
	assert.Equal(t, 0.85, bcConf, "predecessor failed -> 0.85")
}

func TestInferCausalChainDefaultConfidenceWhenPredecessorUnresolved(t *testing.T) {
	st := models.NewSessionState("s1")
	idA, _ := ProposeHypothesis(st, "pending approach", ProposeOptions{}, time.Now())
	idB, _ := ProposeHypothesis(st, "dependent approach", ProposeOptions{Dependencies: []int{idA}}, time.Now())

	links := InferCausalChain(st, []int{idA, idB})
	require.Len(t, links, 1)
	assert.Equal(t, 0.55, links[0].Confidence)
}
