package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
	"github.com/unimem/unimem/pkg/memory"
)

const (
	// contextLimit caps how many memories are folded into the prompt.
	contextLimit = 5
	// contextThreshold matches the service search default; chat grounding
	// favors recall over precision.
	contextThreshold = 0.2
)

const systemPromptTemplate = `You are a helpful assistant with access to the user's long-term memory.
Use the following memories as context when they are relevant. Do not invent
memories that are not listed.

%s`

// MemoryService is the slice of the memory service the agent needs.
type MemoryService interface {
	Search(ctx context.Context, req memory.SearchRequest) ([]memory.SearchResult, error)
	Create(ctx context.Context, req memory.CreateRequest) (string, error)
}

// Config holds agent dependencies and model settings.
type Config struct {
	Provider    LLMProvider
	Memory      MemoryService
	Logger      zerolog.Logger
	Model       string
	MaxTokens   int
	Temperature float64
}

// Agent answers chat turns grounded in stored memories.
type Agent struct {
	provider    LLMProvider
	memory      MemoryService
	logger      zerolog.Logger
	model       string
	maxTokens   int
	temperature float64
}

// New creates an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory service is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &Agent{
		provider:    cfg.Provider,
		memory:      cfg.Memory,
		logger:      cfg.Logger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// ChatRequest is one chat turn from a tenant. ConversationID ties the
// persisted exchange to its conversation so later turns can be listed
// together; empty means the turn is standalone.
type ChatRequest struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        string    `json:"message"`
	History        []Message `json:"history,omitempty"`
}

// ChatResponse is the agent's reply for one turn.
type ChatResponse struct {
	Reply        string                `json:"reply"`
	MemoryID     string                `json:"memory_id,omitempty"`
	ContextUsed  []memory.SearchResult `json:"context_used,omitempty"`
	InputTokens  int                   `json:"input_tokens,omitempty"`
	OutputTokens int                   `json:"output_tokens,omitempty"`
}

// Chat retrieves memories relevant to the message, asks the LLM for a reply
// with those memories as context, and persists the exchange as a new
// conversation memory. A persistence failure does not fail the turn.
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "unimem.agent", "agent.chat")
	defer span.End()

	start := time.Now()

	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", memory.ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", memory.ErrValidation)
	}

	results, err := a.memory.Search(ctx, memory.SearchRequest{
		TenantID:  req.TenantID,
		Query:     req.Message,
		Limit:     contextLimit,
		Threshold: contextThreshold,
	})
	if err != nil {
		observability.RecordAgentRun(a.provider.Provider(), time.Since(start), false)
		return nil, fmt.Errorf("memory retrieval failed: %w", err)
	}

	messages := append([]Message{}, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.Message})

	response, err := a.provider.Call(ctx, LLMRequest{
		Model:        a.model,
		Messages:     messages,
		MaxTokens:    a.maxTokens,
		Temperature:  a.temperature,
		SystemPrompt: a.buildSystemPrompt(results),
	})
	if err != nil {
		observability.RecordAgentRun(a.provider.Provider(), time.Since(start), false)
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	resp := &ChatResponse{
		Reply:       response.Content,
		ContextUsed: results,
	}
	if response.Usage != nil {
		resp.InputTokens = response.Usage.InputTokens
		resp.OutputTokens = response.Usage.OutputTokens
	}

	// Remember the exchange so later turns can recall it.
	var metadata map[string]string
	if req.ConversationID != "" {
		metadata = map[string]string{"conversation_id": req.ConversationID}
	}
	memoryID, err := a.memory.Create(ctx, memory.CreateRequest{
		TenantID: req.TenantID,
		Content:  fmt.Sprintf("User: %s\nAssistant: %s", req.Message, response.Content),
		Type:     memory.TypeConversation,
		Metadata: metadata,
		Source:   "agent",
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("tenant_id", req.TenantID).
			Msg("Failed to persist conversation memory")
	} else {
		resp.MemoryID = memoryID
	}

	observability.RecordAgentRun(a.provider.Provider(), time.Since(start), true)

	a.logger.Debug().
		Str("tenant_id", req.TenantID).
		Int("context_memories", len(results)).
		Msg("Chat turn completed")

	return resp, nil
}

func (a *Agent) buildSystemPrompt(results []memory.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf(systemPromptTemplate, "(no relevant memories)")
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "%d. [similarity %.2f] %s\n", i+1, res.Similarity, res.Record.Content)
	}
	return fmt.Sprintf(systemPromptTemplate, b.String())
}
