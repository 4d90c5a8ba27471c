package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitWithNilPoolDoesNotPanic(t *testing.T) {
	e := &Emitter{Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), "context:metrics", "pre_process", "s1", map[string]any{"tokens": 10})
	})
}

func TestEmitTruncatesOversizedPayload(t *testing.T) {
	e := &Emitter{Now: time.Now}
	huge := strings.Repeat("x", maxNotifyPayloadBytes+1000)
	// With a nil pool this only exercises the marshal/truncate path, not the
	// actual NOTIFY, but it must not panic or error on an oversized payload.
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), "prp:telemetry", "huge", "s1", map[string]any{"blob": huge})
	})
}
