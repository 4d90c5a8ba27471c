package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func sampleState(id string) *models.SessionState {
	st := models.NewSessionState(id)
	st.Conversation = append(st.Conversation, models.ConversationMessage{
		Role: models.RoleUser, Content: "hi", CreatedAt: time.Now().UTC().Truncate(time.Second),
	})
	if err := st.Segments.Put(models.ContextSegment{
		ID: "seg-1", Kind: models.SegmentDocs, Content: "docs", TokenCount: 10,
		Priority: 5, CompressionEligible: true, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}); err != nil {
		panic(err)
	}
	st.PRP.Current = models.StateExecute
	st.PRP.CycleCount = 3
	st.Exhaustion.Mode = models.ExhaustionContextSaturation
	st.DedupeAcked["1-0"] = true
	return st
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := sampleState("session-1")
	require.NoError(t, store.Put(ctx, original))

	loaded, err := store.Get(ctx, "session-1")
	require.NoError(t, err)

	assert.Equal(t, original.SessionID, loaded.SessionID)
	assert.Equal(t, original.Conversation, loaded.Conversation)
	assert.Equal(t, original.Segments.All(), loaded.Segments.All())
	assert.Equal(t, original.PRP, loaded.PRP)
	assert.Equal(t, original.Exhaustion.Mode, loaded.Exhaustion.Mode)
	assert.Equal(t, original.DedupeAcked, loaded.DedupeAcked)
}

func TestMemoryStoreGetMissingReturnsErrNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListSessionsSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, sampleState("b")))
	require.NoError(t, store.Put(ctx, sampleState("a")))

	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryStorePutReplacesAtomically(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := sampleState("session-1")
	require.NoError(t, store.Put(ctx, st))

	st.PRP.CycleCount = 7
	require.NoError(t, store.Put(ctx, st))

	loaded, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.PRP.CycleCount)
}
