package envelope

import (
	"encoding/json"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// wireEnvelope is the JSON form stored in the mailbox field. Top-level
// fields are scalars per spec §4.1; Payload stays the opaque string.
type wireEnvelope struct {
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Payload   string `json:"payload"`
}

func encodeEnvelope(env models.Envelope) (string, error) {
	w := wireEnvelope{
		Timestamp: env.Timestamp.Format(time.RFC3339Nano),
		Sender:    env.Sender,
		Recipient: env.Recipient,
		Message:   env.Message,
		Payload:   env.Payload,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEnvelope(raw string) (models.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return models.Envelope{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return models.Envelope{}, err
	}
	return models.Envelope{
		Timestamp: ts,
		Sender:    w.Sender,
		Recipient: w.Recipient,
		Message:   w.Message,
		Payload:   w.Payload,
	}, nil
}
