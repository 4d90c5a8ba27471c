// Package observability implements the Observability Emitter (C12):
// fire-and-forget structured events on three streams (context:metrics,
// autonomous:events, prp:telemetry), grounded on the teacher's
// pkg/events/publisher.go notifyOnly path — Postgres NOTIFY as the
// broadcast primitive, generalized from per-session DB channels to the
// spec's three fixed stream names.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is the wire shape for every emitted observability event, per spec
// §4.12.
type Event struct {
	Stream    string         `json:"stream"`
	EventName string         `json:"event"`
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// maxNotifyPayloadBytes mirrors Postgres's 8000-byte NOTIFY payload limit,
// the same truncation boundary the teacher's publisher.go enforces.
const maxNotifyPayloadBytes = 7900

// Emitter publishes observability events via pg_notify. A nil pool is
// valid and degrades to slog-only emission, useful for tests and for
// runtime profiles that don't need cross-process event fan-out.
type Emitter struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Emit publishes one event, fire-and-forget: a failure to notify is logged
// but never returned or treated as fatal to the caller's runtime (spec
// §4.12: "failures to emit are logged but do not fail the runtime").
func (e *Emitter) Emit(ctx context.Context, stream, event, sessionID string, payload map[string]any) {
	ev := Event{Stream: stream, EventName: event, Timestamp: e.now(), SessionID: sessionID, Payload: payload}

	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("observability: marshal event failed", "stream", stream, "event", event, "error", err)
		return
	}
	if len(raw) > maxNotifyPayloadBytes {
		raw, err = json.Marshal(Event{Stream: stream, EventName: event, Timestamp: ev.Timestamp, SessionID: sessionID,
			Payload: map[string]any{"truncated": true}})
		if err != nil {
			slog.Warn("observability: marshal truncated event failed", "stream", stream, "event", event, "error", err)
			return
		}
	}

	if e.Pool == nil {
		slog.Debug("observability: event", "stream", stream, "event", event, "session_id", sessionID)
		return
	}
	if _, err := e.Pool.Exec(ctx, "SELECT pg_notify($1, $2)", stream, string(raw)); err != nil {
		slog.Warn("observability: pg_notify failed", "stream", stream, "event", event, "error", err)
	}
}
