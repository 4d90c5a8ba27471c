package context

import (
	"context"
	"fmt"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// SegmentSource supplies candidate segments from one known source (skills
// catalog, project docs, code search) for the progressive loader.
type SegmentSource interface {
	Name() string
	DefaultPriority() int
	Fetch(ctx context.Context, state *models.SessionState) ([]models.ContextSegment, error)
}

// LoadProgressive loads at most batchSize new segments across sources,
// per spec §4.6: "Loaded segments are assigned priority by source; they
// become candidates for curation from their next visit onwards" — so they
// are inserted with CompressionEligible=true and a zero LastUsedAt.
func LoadProgressive(ctx context.Context, state *models.SessionState, sources []SegmentSource, batchSize int, now func() time.Time) (int, error) {
	loaded := 0
	for _, src := range sources {
		if loaded >= batchSize {
			break
		}
		candidates, err := src.Fetch(ctx, state)
		if err != nil {
			return loaded, fmt.Errorf("context: load from %s: %w", src.Name(), err)
		}
		for _, seg := range candidates {
			if loaded >= batchSize {
				break
			}
			if _, ok := state.Segments.Get(seg.ID); ok {
				continue
			}
			seg.Priority = src.DefaultPriority()
			seg.CompressionEligible = true
			seg.LastUsedAt = time.Time{}
			seg.CreatedAt = now()
			if err := state.Segments.Put(seg); err != nil {
				return loaded, fmt.Errorf("context: put loaded segment %s: %w", seg.ID, err)
			}
			loaded++
		}
	}
	return loaded, nil
}
