// Package agent implements the conversational agent that answers chat turns
// grounded in a tenant's stored memories. Each turn retrieves relevant
// memories, folds them into the system prompt, and persists the exchange as
// a conversation memory so later turns can recall it.
package agent

import (
	"context"
)

// Message is a single chat message
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage tracks token consumption for a call
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}
