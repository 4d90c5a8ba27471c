// Package skeptic implements the Skeptic Trigger parser (C7): it turns the
// skeptic recipient's free-form rejection message into a deterministic
// structured trigger, validated against a JSON Schema via
// santhosh-tekuri/jsonschema/v5 — the same schema-validation library the
// example pack pulls in for structured-payload enforcement.
package skeptic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// ErrMalformedTrigger is returned for any skeptic message that fails to
// parse or fails schema validation. The runtime loop logs such a trigger
// and still processes and acks the inbound envelope.
var ErrMalformedTrigger = errors.New("skeptic: malformed trigger")

// schemaSource is the spec §4.7 trigger shape expressed as JSON Schema.
const schemaSource = `{
	"type": "object",
	"required": ["cycle_iteration", "exhaustion_mode", "required_artifacts"],
	"properties": {
		"cycle_iteration": {"type": "integer", "minimum": 0},
		"exhaustion_mode": {"type": "string"},
		"required_artifacts": {"type": "array", "items": {"type": "string"}},
		"rationale": {"type": "string"}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	const resourceName = "skeptic-trigger.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(schemaSource))); err != nil {
		panic(fmt.Sprintf("skeptic: invalid embedded schema: %v", err))
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("skeptic: schema compile: %v", err))
	}
	return schema
}

// Trigger is the parsed, validated skeptic rejection.
type Trigger struct {
	CycleIteration    int                   `json:"cycle_iteration"`
	ExhaustionMode    models.ExhaustionMode `json:"exhaustion_mode"`
	RequiredArtifacts []string              `json:"required_artifacts"`
	Rationale         string                `json:"rationale,omitempty"`
}

var fencedCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls JSON out of a raw message, unwrapping a fenced code
// block if present (spec §4.7: "parse its message (JSON, or a fenced code
// block)").
func ExtractJSON(message string) string {
	if m := fencedCodeBlock.FindStringSubmatch(message); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(message)
}

// Parse decodes and schema-validates a skeptic message. On any failure it
// returns ErrMalformedTrigger wrapping the underlying cause. Parsing is a
// pure CPU-bound transform — it never suspends (spec §5).
func Parse(message string) (Trigger, error) {
	raw := ExtractJSON(message)

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return Trigger{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedTrigger, err)
	}

	if err := compiledSchema.Validate(generic); err != nil {
		return Trigger{}, fmt.Errorf("%w: schema: %v", ErrMalformedTrigger, err)
	}

	var trig Trigger
	if err := json.Unmarshal([]byte(raw), &trig); err != nil {
		return Trigger{}, fmt.Errorf("%w: decode: %v", ErrMalformedTrigger, err)
	}
	if !trig.ExhaustionMode.IsValid() {
		return Trigger{}, fmt.Errorf("%w: unknown exhaustion_mode %q", ErrMalformedTrigger, trig.ExhaustionMode)
	}
	return trig, nil
}
