package llmport

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const generateMethod = "/quadracode.llm.v1.LLMService/Generate"

// GRPCClient implements Port against the out-of-process LLM service,
// grounded on the teacher's GRPCLLMClient (pkg/agent/llm_grpc.go): one
// streaming RPC per turn, chunks fanned out over a buffered channel.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient dials addr with plaintext transport, matching the teacher's
// sidecar/localhost deployment assumption.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("llmport: dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

type wireRequest struct {
	SessionID string                `json:"session_id"`
	Model     string                `json:"model"`
	Messages  []ConversationMessage `json:"messages"`
	Tools     []ToolDefinition      `json:"tools,omitempty"`
}

// wireChunk is a tagged union over the streamed response types.
type wireChunk struct {
	Type     string          `json:"type"`
	Text     *TextChunk      `json:"text,omitempty"`
	ToolCall *ToolCallChunk  `json:"tool_call,omitempty"`
	Usage    *UsageChunk     `json:"usage,omitempty"`
	Error    *ErrorChunk     `json:"error,omitempty"`
	IsFinal  bool            `json:"is_final,omitempty"`
}

func (w wireChunk) toChunk() Chunk {
	switch w.Type {
	case "text":
		if w.Text != nil {
			return *w.Text
		}
	case "tool_call":
		if w.ToolCall != nil {
			return *w.ToolCall
		}
	case "usage":
		if w.Usage != nil {
			return *w.Usage
		}
	case "error":
		if w.Error != nil {
			return *w.Error
		}
	}
	return nil
}

// Generate opens a server-streaming call and fans chunks out over a
// channel, matching the teacher's fire-a-goroutine-close-on-EOF shape.
func (c *GRPCClient) Generate(ctx context.Context, input GenerateInput) (<-chan Chunk, error) {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Generate", ServerStreams: true},
		generateMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, fmt.Errorf("llmport: open stream: %w", err)
	}

	req := wireRequest{SessionID: input.SessionID, Model: input.Model, Messages: input.Messages, Tools: input.Tools}
	if err := stream.SendMsg(&req); err != nil {
		return nil, fmt.Errorf("llmport: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("llmport: close send: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		for {
			var resp wireChunk
			err := stream.RecvMsg(&resp)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- ErrorChunk{Message: err.Error(), Retryable: false}:
				case <-ctx.Done():
				}
				return
			}
			if chunk := resp.toChunk(); chunk != nil {
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return ch, nil
}

var _ Port = (*GRPCClient)(nil)
