package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

func marshalSegments(segs []ContextSegment) ([]byte, error) {
	return json.Marshal(segs)
}

func unmarshalSegments(data []byte) ([]ContextSegment, error) {
	var segs []ContextSegment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// SegmentSet is the single source of truth for engineered context (spec §3).
// It enforces: segment ids are unique, and at most one segment has
// kind=conversation-summary.
type SegmentSet struct {
	byID map[string]*ContextSegment
}

// NewSegmentSet returns an empty segment set.
func NewSegmentSet() SegmentSet {
	return SegmentSet{byID: make(map[string]*ContextSegment)}
}

// MarshalJSON serializes the set as a slice ordered by ID for determinism.
func (s SegmentSet) MarshalJSON() ([]byte, error) {
	return marshalSegments(s.All())
}

// UnmarshalJSON restores the set from a slice.
func (s *SegmentSet) UnmarshalJSON(data []byte) error {
	segs, err := unmarshalSegments(data)
	if err != nil {
		return err
	}
	s.byID = make(map[string]*ContextSegment, len(segs))
	for i := range segs {
		seg := segs[i]
		s.byID[seg.ID] = &seg
	}
	return nil
}

// Put inserts or replaces a segment. Returns an error if inserting would
// create a second conversation-summary segment.
func (s *SegmentSet) Put(seg ContextSegment) error {
	if s.byID == nil {
		s.byID = make(map[string]*ContextSegment)
	}
	if seg.Kind == SegmentConversationSummary {
		if existing, ok := s.findKind(SegmentConversationSummary); ok && existing.ID != seg.ID {
			return fmt.Errorf("segments: conversation-summary segment already exists (id=%s)", existing.ID)
		}
	}
	cp := seg
	s.byID[seg.ID] = &cp
	return nil
}

// Remove deletes a segment by id. No-op if absent.
func (s *SegmentSet) Remove(id string) {
	delete(s.byID, id)
}

// Get returns a segment by id.
func (s SegmentSet) Get(id string) (ContextSegment, bool) {
	seg, ok := s.byID[id]
	if !ok {
		return ContextSegment{}, false
	}
	return *seg, true
}

// All returns every segment, ordered by ID for determinism.
func (s SegmentSet) All() []ContextSegment {
	out := make([]ContextSegment, 0, len(s.byID))
	for _, seg := range s.byID {
		out = append(out, *seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of segments.
func (s SegmentSet) Len() int { return len(s.byID) }

// ConversationSummary returns the unique conversation-summary segment, if any.
func (s SegmentSet) ConversationSummary() (ContextSegment, bool) {
	return s.findKind(SegmentConversationSummary)
}

func (s SegmentSet) findKind(kind SegmentKind) (ContextSegment, bool) {
	for _, seg := range s.byID {
		if seg.Kind == kind {
			return *seg, true
		}
	}
	return ContextSegment{}, false
}

// TotalTokens sums TokenCount across all segments.
func (s SegmentSet) TotalTokens() int {
	total := 0
	for _, seg := range s.byID {
		total += seg.TokenCount
	}
	return total
}
