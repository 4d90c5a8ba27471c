package envelope

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// MemoryMailbox is an in-memory Mailbox implementation satisfying the same
// contract as RedisMailbox, for unit tests that don't need a real Redis.
type MemoryMailbox struct {
	mu      sync.Mutex
	streams map[string][]Entry
	seq     int64
}

// NewMemoryMailbox returns an empty in-memory mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{streams: make(map[string][]Entry)}
}

// Publish appends with a monotonically increasing synthetic stream id.
func (m *MemoryMailbox) Publish(_ context.Context, recipient string, env models.Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := strconv.FormatInt(m.seq, 10) + "-0"
	m.streams[recipient] = append(m.streams[recipient], Entry{StreamID: id, Envelope: env})
	return id, nil
}

// Read returns up to batch oldest-first undeleted entries. The timeout
// parameter is accepted for interface parity but never blocks: tests drive
// time explicitly.
func (m *MemoryMailbox) Read(_ context.Context, recipient string, batch int64, _ time.Duration) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[recipient]
	if int64(len(entries)) > batch {
		entries = entries[:batch]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Ack deletes by stream id; idempotent if already removed.
func (m *MemoryMailbox) Ack(_ context.Context, recipient, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[recipient]
	for i, e := range entries {
		if e.StreamID == streamID {
			m.streams[recipient] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil // already acked — idempotent
}

// ListMailboxes returns recipients with at least one entry ever published,
// including ones now fully drained (matches Redis index semantics).
func (m *MemoryMailbox) ListMailboxes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for k := range m.streams {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

var _ Mailbox = (*MemoryMailbox)(nil)
var _ Mailbox = (*RedisMailbox)(nil)

// Depth reports the current undelivered-entry count for recipient (test helper).
func (m *MemoryMailbox) Depth(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[recipient])
}
