package models

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format exchanged over the message fabric.
// Top-level fields are scalars; Payload is serialized as a single opaque
// JSON string on the wire and parsed into EnvelopePayload by consumers.
type Envelope struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload"` // JSON-encoded EnvelopePayload
}

// EnvelopePayload is the nested map carried by every envelope.
type EnvelopePayload struct {
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
	TicketID  string `json:"ticket_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Trace     []TraceEntry `json:"trace,omitempty"`

	// Raw holds the original bytes when parsing failed — the presence of
	// Raw (non-nil) marks this payload as a poison message per spec §4.1/§7.
	Raw json.RawMessage `json:"_raw,omitempty"`
}

// TraceEntry is one hop of the serialized message trace.
type TraceEntry struct {
	Hop       string    `json:"hop"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodePayload parses an envelope's opaque payload string. Malformed JSON
// does not return an error to the caller in the mailbox read path — see
// envelope.DecodePayloadOrPoison, which is what Runtime Loop callers should use.
func DecodePayload(raw string) (EnvelopePayload, error) {
	var p EnvelopePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return EnvelopePayload{}, err
	}
	return p, nil
}

// EncodePayload serializes a payload to its opaque wire string.
func EncodePayload(p EnvelopePayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MailboxName returns the mailbox stream name for a recipient.
func MailboxName(recipient string) string {
	return "mailbox/" + recipient
}
