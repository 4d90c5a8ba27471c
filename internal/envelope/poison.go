package envelope

import (
	"encoding/json"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// DecodePayloadOrPoison parses the envelope's opaque payload string. On
// success it returns the typed payload with IsPoison=false. On malformed
// JSON it does not error — it returns a payload with Raw populated and
// IsPoison=true, per spec §4.1: "the parsed form exposes a _raw field and
// the runtime treats the entry as a poison message".
func DecodePayloadOrPoison(raw string) (payload models.EnvelopePayload, isPoison bool) {
	p, err := models.DecodePayload(raw)
	if err != nil {
		return models.EnvelopePayload{Raw: json.RawMessage(raw)}, true
	}
	if p.SessionID == "" {
		// Missing required field — also poison, per spec §7.
		return models.EnvelopePayload{Raw: json.RawMessage(raw)}, true
	}
	return p, false
}
