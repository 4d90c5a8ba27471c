package envelope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

func testEnvelope(sessionID string) models.Envelope {
	payload, _ := models.EncodePayload(models.EnvelopePayload{SessionID: sessionID, ThreadID: "t1"})
	return models.Envelope{
		Timestamp: time.Now().UTC(),
		Sender:    "human",
		Recipient: "orchestrator",
		Message:   "hello",
		Payload:   payload,
	}
}

func TestMemoryMailboxFIFOAndAck(t *testing.T) {
	mb := NewMemoryMailbox()
	ctx := context.Background()

	id1, err := mb.Publish(ctx, "orchestrator", testEnvelope("s1"))
	require.NoError(t, err)
	id2, err := mb.Publish(ctx, "orchestrator", testEnvelope("s2"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	entries, err := mb.Read(ctx, "orchestrator", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].StreamID)
	assert.Equal(t, id2, entries[1].StreamID)

	require.NoError(t, mb.Ack(ctx, "orchestrator", id1))
	entries, err = mb.Read(ctx, "orchestrator", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id2, entries[0].StreamID)
}

func TestMemoryMailboxAckIsIdempotent(t *testing.T) {
	mb := NewMemoryMailbox()
	ctx := context.Background()

	id, err := mb.Publish(ctx, "skeptic", testEnvelope("s1"))
	require.NoError(t, err)

	require.NoError(t, mb.Ack(ctx, "skeptic", id))
	// Second ack on the same (already-removed) id must not error.
	require.NoError(t, mb.Ack(ctx, "skeptic", id))

	entries, err := mb.Read(ctx, "skeptic", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryMailboxListMailboxes(t *testing.T) {
	mb := NewMemoryMailbox()
	ctx := context.Background()

	_, err := mb.Publish(ctx, "human", testEnvelope("s1"))
	require.NoError(t, err)
	_, err = mb.Publish(ctx, "orchestrator", testEnvelope("s2"))
	require.NoError(t, err)

	names, err := mb.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"human", "orchestrator"}, names)
}

func TestEnvelopeCodecRoundTrip(t *testing.T) {
	env := testEnvelope("s1")
	raw, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(raw)
	require.NoError(t, err)

	assert.Equal(t, env.Sender, decoded.Sender)
	assert.Equal(t, env.Recipient, decoded.Recipient)
	assert.Equal(t, env.Message, decoded.Message)
	assert.Equal(t, env.Payload, decoded.Payload)
	assert.WithinDuration(t, env.Timestamp, decoded.Timestamp, time.Millisecond)
}

func TestDecodePayloadOrPoison(t *testing.T) {
	ok, poison := DecodePayloadOrPoison(`{"session_id":"s1","thread_id":"t1"}`)
	assert.False(t, poison)
	assert.Equal(t, "s1", ok.SessionID)

	bad, poison := DecodePayloadOrPoison(`not json`)
	assert.True(t, poison)
	assert.NotNil(t, bad.Raw)

	missing, poison := DecodePayloadOrPoison(`{"thread_id":"t1"}`)
	assert.True(t, poison)
	assert.NotNil(t, missing.Raw)
}
