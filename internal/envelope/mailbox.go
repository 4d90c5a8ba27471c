// Package envelope implements the Message Envelope & Mailbox contract (C1):
// a durable, ordered, per-recipient stream with at-least-once read/ack/delete
// semantics, backed by Redis Streams — the pack's closest real match to the
// spec's "ordered append-only multi-stream store with XADD/XRANGE/XDEL
// -equivalent primitives".
package envelope

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// Entry pairs a stream id with its envelope, as returned by Read.
type Entry struct {
	StreamID string
	Envelope models.Envelope
}

// Mailbox is the C1 contract: publish/read/ack/list over durable
// per-recipient streams.
type Mailbox interface {
	// Publish appends an envelope to mailbox/<recipient>, returning the
	// monotone stream id Redis assigned.
	Publish(ctx context.Context, recipient string, env models.Envelope) (string, error)

	// Read returns up to batch oldest-first entries not yet acked by this
	// consumer. Blocks up to the given timeout if the mailbox is empty.
	Read(ctx context.Context, recipient string, batch int64, timeout time.Duration) ([]Entry, error)

	// Ack removes an entry, idempotent on an already-removed id.
	Ack(ctx context.Context, recipient, streamID string) error

	// ListMailboxes returns the recipients with at least one known stream.
	ListMailboxes(ctx context.Context) ([]string, error)
}

const envField = "envelope"

// RedisMailbox implements Mailbox on top of Redis Streams.
type RedisMailbox struct {
	rdb *redis.Client
}

// NewRedisMailbox wraps an existing Redis client.
func NewRedisMailbox(rdb *redis.Client) *RedisMailbox {
	return &RedisMailbox{rdb: rdb}
}

func streamKey(recipient string) string {
	return models.MailboxName(recipient)
}

// Publish appends atomically via XADD. Redis Streams ids are monotonically
// increasing within a stream by construction, satisfying the mailbox
// invariant in spec §3.
func (m *RedisMailbox) Publish(ctx context.Context, recipient string, env models.Envelope) (string, error) {
	raw, err := encodeEnvelope(env)
	if err != nil {
		return "", fmt.Errorf("envelope: encode: %w", err)
	}
	id, err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(recipient),
		Values: map[string]interface{}{envField: raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("envelope: XADD %s: %w", recipient, err)
	}
	if err := m.rdb.SAdd(ctx, mailboxIndexKey(), recipient).Err(); err != nil {
		return "", fmt.Errorf("envelope: index recipient: %w", err)
	}
	return id, nil
}

// Read uses XRANGE over the full stream (entries are deleted on Ack, so the
// stream only ever contains undelivered-or-unacked entries) bounded by
// batch, falling back to a blocking XREAD when the mailbox is momentarily
// empty so the caller can yield instead of busy-polling.
func (m *RedisMailbox) Read(ctx context.Context, recipient string, batch int64, timeout time.Duration) ([]Entry, error) {
	key := streamKey(recipient)

	msgs, err := m.rdb.XRangeN(ctx, key, "-", "+", batch).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("envelope: XRANGE %s: %w", recipient, err)
	}
	if len(msgs) > 0 {
		return toEntries(msgs)
	}

	// Nothing buffered — block briefly via XREAD so the runtime loop yields
	// rather than spins, per spec §5 "blocking primitive with timeout".
	res, err := m.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, "0"},
		Count:   batch,
		Block:   timeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("envelope: XREAD %s: %w", recipient, err)
	}
	for _, stream := range res {
		if stream.Stream == key {
			return toEntries(stream.Messages)
		}
	}
	return nil, nil
}

// Ack deletes the entry via XDEL. XDEL on an absent id is a no-op in Redis,
// so this is naturally idempotent.
func (m *RedisMailbox) Ack(ctx context.Context, recipient, streamID string) error {
	if err := m.rdb.XDel(ctx, streamKey(recipient), streamID).Err(); err != nil {
		return fmt.Errorf("envelope: XDEL %s %s: %w", recipient, streamID, err)
	}
	return nil
}

func mailboxIndexKey() string { return "mailbox/_index" }

// ListMailboxes returns every recipient ever published to (the index set is
// never pruned — listing is a diagnostic operation, not a hot path).
func (m *RedisMailbox) ListMailboxes(ctx context.Context) ([]string, error) {
	members, err := m.rdb.SMembers(ctx, mailboxIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("envelope: list mailboxes: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func toEntries(msgs []redis.XMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[envField].(string)
		if !ok {
			continue
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			return nil, fmt.Errorf("envelope: decode %s: %w", msg.ID, err)
		}
		out = append(out, Entry{StreamID: msg.ID, Envelope: env})
	}
	return out, nil
}
