// Package llmport defines the narrow LLM driver port consumed by the
// context engine's driver stage (C6), plus a gRPC-backed implementation
// modeled on the teacher's pkg/agent/llm_grpc.go streaming-chunk client.
//
// The teacher's client depends on protoc-generated stubs (pkg/agent
// imports a `proto` package built from a .proto file at build time). This
// module cannot run protoc, so GRPCClient below drives the same
// google.golang.org/grpc ClientConn and bidirectional-stream machinery
// against a hand-written wire contract, using grpc's pluggable codec
// (encoding.RegisterCodec) to marshal plain Go structs as JSON instead of
// protobuf — see DESIGN.md for the full rationale.
package llmport

import "context"

// ConversationMessage is the subset of models.ConversationMessage the LLM
// service needs, decoupled so llmport never imports internal/models.
type ConversationMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParametersSchema string `json:"parameters_schema"`
}

// GenerateInput is one turn's request to the LLM service.
type GenerateInput struct {
	SessionID string                 `json:"session_id"`
	Model     string                 `json:"model"`
	Messages  []ConversationMessage  `json:"messages"`
	Tools     []ToolDefinition       `json:"tools,omitempty"`
}

// Chunk is one streamed unit of a Generate response.
type Chunk interface{ isChunk() }

// TextChunk carries assistant text content.
type TextChunk struct{ Content string `json:"content"` }

// ToolCallChunk carries one requested tool invocation.
type ToolCallChunk struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UsageChunk carries token accounting for the turn.
type UsageChunk struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrorChunk carries a terminal streaming error.
type ErrorChunk struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (TextChunk) isChunk()     {}
func (ToolCallChunk) isChunk() {}
func (UsageChunk) isChunk()    {}
func (ErrorChunk) isChunk()    {}

// Port is the narrow interface the context engine's driver stage depends
// on — swappable for a test double without touching C6.
type Port interface {
	Generate(ctx context.Context, input GenerateInput) (<-chan Chunk, error)
}
