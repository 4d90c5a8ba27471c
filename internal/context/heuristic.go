package context

import (
	"context"
	"strings"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// HeuristicSummarizer concatenates and truncates rather than calling an
// LLM — the default Summarizer when config.CuratorMode=heuristic.
type HeuristicSummarizer struct {
	MaxChars int
}

// Summarize joins texts with a separator and truncates at a line boundary,
// the same truncate-don't-split-mid-line approach as the teacher's
// truncateAtLineBoundary (pkg/mcp/tokens.go), generalized to many inputs.
func (h HeuristicSummarizer) Summarize(_ context.Context, texts []string) (string, error) {
	joined := strings.Join(texts, "\n---\n")
	max := h.MaxChars
	if max <= 0 {
		max = 4000
	}
	if len(joined) <= max {
		return joined, nil
	}
	cut := max
	for cut > 0 && joined[cut-1] != '\n' {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return joined[:cut] + "\n[summary truncated]", nil
}

var _ Summarizer = HeuristicSummarizer{}

// HeuristicQualityScorer computes the six-dimension quality scalar (spec
// §4.6) with a weighted sum over cheap, deterministic proxies rather than
// an LLM rubric.
type HeuristicQualityScorer struct{}

// Score returns a value in [0,1].
func (HeuristicQualityScorer) Score(state *models.SessionState) float64 {
	segs := state.Segments.All()
	if len(segs) == 0 {
		return 1.0 // nothing to grade is not a quality problem
	}

	relevance := avgFrac(segs, func(s models.ContextSegment) float64 { return float64(s.Priority) / 10 })
	coherence := 1.0
	if len(segs) > 1 {
		coherence = 1 - float64(duplicateKindCount(segs))/float64(len(segs))
	}
	completeness := fracNonEmpty(segs)
	freshness := avgFrac(segs, func(s models.ContextSegment) float64 {
		if s.LastUsedAt.IsZero() {
			return 0.5
		}
		return 1.0
	})
	const knownSegmentKinds = 7 // conversation-summary, code-search, tool-output, skills, docs, plan, other
	diversity := float64(distinctKinds(segs)) / knownSegmentKinds
	if diversity > 1 {
		diversity = 1
	}
	efficiency := 1.0
	if state.Segments.TotalTokens() > 0 {
		efficiency = clamp01(1 - float64(state.Segments.TotalTokens())/200_000)
	}

	return clamp01((relevance + coherence + completeness + freshness + diversity + efficiency) / 6)
}

func avgFrac(segs []models.ContextSegment, f func(models.ContextSegment) float64) float64 {
	sum := 0.0
	for _, s := range segs {
		sum += f(s)
	}
	return sum / float64(len(segs))
}

func fracNonEmpty(segs []models.ContextSegment) float64 {
	nonEmpty := 0
	for _, s := range segs {
		if strings.TrimSpace(s.Content) != "" {
			nonEmpty++
		}
	}
	return float64(nonEmpty) / float64(len(segs))
}

func duplicateKindCount(segs []models.ContextSegment) int {
	seen := map[models.SegmentKind]int{}
	for _, s := range segs {
		seen[s.Kind]++
	}
	dup := 0
	for _, n := range seen {
		if n > 1 {
			dup += n - 1
		}
	}
	return dup
}

func distinctKinds(segs []models.ContextSegment) int {
	seen := map[models.SegmentKind]bool{}
	for _, s := range segs {
		seen[s.Kind] = true
	}
	return len(seen)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ QualityScorer = HeuristicQualityScorer{}
