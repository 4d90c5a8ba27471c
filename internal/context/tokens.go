package context

import "github.com/logan-robbins/quadracode-sub000/internal/models"

// charsPerToken mirrors the teacher's mcp.EstimateTokens heuristic
// (pkg/mcp/tokens.go): ~4 characters per token, intentionally approximate.
const charsPerToken = 4

// EstimateTokens approximates a token count for text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// MessagesTokens sums the estimated token count of a message slice.
func MessagesTokens(msgs []models.ConversationMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
