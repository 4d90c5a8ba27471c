package exhaustion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func TestPredictReturnsZeroWithFewerThanTwoOutcomeClasses(t *testing.T) {
	now := time.Now()
	ledger := []models.LedgerEntry{
		{CycleID: 1, Hypothesis: "a", Status: models.LedgerProposed, Timestamp: now},
		{CycleID: 2, Hypothesis: "b", Status: models.LedgerSucceeded, Timestamp: now},
		{CycleID: 3, Hypothesis: "c", Status: models.LedgerSucceeded, Timestamp: now},
	}
	assert.Equal(t, 0.0, Predict(ledger, now))
}

func TestPredictRisesWithRepeatedFailuresAndExhaustion(t *testing.T) {
	now := time.Now()
	// Need at least two distinct classes; one success comes first so the ten
	// failures after it form the trailing consecutive run.
	ledger := []models.LedgerEntry{{CycleID: 1, Hypothesis: "a", Status: models.LedgerSucceeded, Timestamp: now}}
	for i := 2; i <= 11; i++ {
		ledger = append(ledger, models.LedgerEntry{
			CycleID: i, Hypothesis: "approach", Status: models.LedgerFailed,
			ExhaustionTrigger: models.ExhaustionTestFailure, Timestamp: now,
		})
	}

	p := Predict(ledger, now)
	assert.Greater(t, p, 0.5, "many consecutive failures/exhaustion should push P up")
}

func TestPredictLowForHealthyLedger(t *testing.T) {
	now := time.Now()
	var ledger []models.LedgerEntry
	for i := 1; i <= 10; i++ {
		ledger = append(ledger, models.LedgerEntry{CycleID: i, Hypothesis: "approach", Status: models.LedgerSucceeded, Timestamp: now})
	}
	ledger = append(ledger, models.LedgerEntry{CycleID: 11, Hypothesis: "a", Status: models.LedgerFailed, Timestamp: now})

	triggered, p := ShouldTriggerPredictedExhaustion(ledger, now)
	assert.False(t, triggered)
	assert.Less(t, p, Trigger)
}

func TestComputeFeaturesWindowBound(t *testing.T) {
	now := time.Now()
	var ledger []models.LedgerEntry
	for i := 1; i <= 200; i++ {
		ledger = append(ledger, models.LedgerEntry{CycleID: i, Hypothesis: "x", Status: models.LedgerSucceeded, Timestamp: now})
	}
	f := ComputeFeatures(ledger, now)
	assert.Equal(t, WindowSize, f.TotalCycles)
}
