// Package exhaustion implements the Exhaustion Predictor (C5): a rolling
// feature extractor over the refinement ledger feeding a small balanced
// linear classifier, grounded on the teacher's scoring_agent.go heuristic
// scorer shape (weighted feature sum squashed through a sigmoid).
package exhaustion

import (
	"math"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// WindowSize bounds how many trailing ledger entries feed the predictor
// (spec §4.5: "most recent 128 entries").
const WindowSize = 128

// Trigger is the probability threshold at which the context engine raises
// exhaustion_mode=predicted_exhaustion (spec §4.5).
const Trigger = 0.7

// Features are the rolling statistics computed from the ledger window.
type Features struct {
	TotalCycles             int
	RollingExhaustionRate   float64
	RollingFailureRate      float64
	MeanHypothesisLength    float64
	OutcomeLengthMean       float64
	OutcomeLengthStddev     float64
	ConsecutiveExhaustion   int
	ConsecutiveFailure      int
	TimeSinceLastExhaustion time.Duration
	OverallSuccessRate      float64
}

// weights are a fixed, hand-tuned logistic-regression coefficient set over
// the normalized features above (bias first). There is no training loop in
// this runtime: the predictor is a static balanced classifier, matching the
// spec's "simple balanced linear classifier (e.g. logistic regression)".
var weights = [...]float64{
	-1.5,  // bias
	0.9,   // RollingExhaustionRate
	0.7,   // RollingFailureRate
	0.4,   // ConsecutiveExhaustion (normalized)
	0.3,   // ConsecutiveFailure (normalized)
	-0.6,  // OverallSuccessRate
}

// ComputeFeatures derives Features from the trailing WindowSize ledger
// entries, relative to now.
func ComputeFeatures(ledger []models.LedgerEntry, now time.Time) Features {
	window := ledger
	if len(window) > WindowSize {
		window = window[len(window)-WindowSize:]
	}

	f := Features{TotalCycles: len(window)}
	if len(window) == 0 {
		return f
	}

	var exhaustionCount, failureCount, succeededCount, concluded int
	var hypLenSum float64
	var outcomeLens []float64
	var lastExhaustionAt time.Time
	var consecExhaustion, consecFailure int
	inExhaustionRun, inFailureRun := true, true

	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		if e.ExhaustionTrigger != "" && e.ExhaustionTrigger != models.ExhaustionNone {
			exhaustionCount++
			if lastExhaustionAt.IsZero() {
				lastExhaustionAt = e.Timestamp
			}
			if inExhaustionRun {
				consecExhaustion++
			}
		} else {
			inExhaustionRun = false
		}

		if e.Status == models.LedgerFailed {
			failureCount++
			if inFailureRun {
				consecFailure++
			}
		} else {
			inFailureRun = false
		}
		if e.Status == models.LedgerSucceeded || e.Status == models.LedgerFailed || e.Status == models.LedgerRejected {
			concluded++
		}
		if e.Status == models.LedgerSucceeded {
			succeededCount++
		}

		hypLenSum += float64(len(e.Hypothesis))
		if e.OutcomeSummary != "" {
			outcomeLens = append(outcomeLens, float64(len(e.OutcomeSummary)))
		}
	}

	f.RollingExhaustionRate = float64(exhaustionCount) / float64(len(window))
	f.RollingFailureRate = float64(failureCount) / float64(len(window))
	f.MeanHypothesisLength = hypLenSum / float64(len(window))
	f.ConsecutiveExhaustion = consecExhaustion
	f.ConsecutiveFailure = consecFailure
	if !lastExhaustionAt.IsZero() {
		f.TimeSinceLastExhaustion = now.Sub(lastExhaustionAt)
	}
	if concluded > 0 {
		f.OverallSuccessRate = float64(succeededCount) / float64(concluded)
	}
	f.OutcomeLengthMean, f.OutcomeLengthStddev = meanStddev(outcomeLens)
	return f
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sqDiff float64
	for _, x := range xs {
		d := x - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(xs)))
	return mean, stddev
}

// distinctOutcomeClasses counts how many of {succeeded, failed, rejected}
// appear at least once in the window.
func distinctOutcomeClasses(ledger []models.LedgerEntry) int {
	seen := map[models.LedgerStatus]bool{}
	for _, e := range ledger {
		if e.Status == models.LedgerSucceeded || e.Status == models.LedgerFailed || e.Status == models.LedgerRejected {
			seen[e.Status] = true
		}
	}
	return len(seen)
}

// Predict returns P(exhaustion within next cycle). Per spec §4.5, when the
// ledger has fewer than two distinct outcome classes the predictor returns
// 0 — there is nothing to discriminate between yet.
func Predict(ledger []models.LedgerEntry, now time.Time) float64 {
	if len(ledger) > WindowSize {
		ledger = ledger[len(ledger)-WindowSize:]
	}
	if distinctOutcomeClasses(ledger) < 2 {
		return 0
	}

	f := ComputeFeatures(ledger, now)
	normalizedConsecExhaustion := normalizeCount(f.ConsecutiveExhaustion)
	normalizedConsecFailure := normalizeCount(f.ConsecutiveFailure)

	z := weights[0] +
		weights[1]*f.RollingExhaustionRate +
		weights[2]*f.RollingFailureRate +
		weights[3]*normalizedConsecExhaustion +
		weights[4]*normalizedConsecFailure +
		weights[5]*f.OverallSuccessRate

	return sigmoid(z)
}

func normalizeCount(n int) float64 {
	return 1 - 1/(1+float64(n))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// ShouldTriggerPredictedExhaustion reports whether P >= Trigger.
func ShouldTriggerPredictedExhaustion(ledger []models.LedgerEntry, now time.Time) (bool, float64) {
	p := Predict(ledger, now)
	return p >= Trigger, p
}
