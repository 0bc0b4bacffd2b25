package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/unimem/unimem/internal/observability"
)

// Default endpoint and model for the NVIDIA-hosted development API.
// Production deployments point BaseURL at a self-hosted NIM service.
const (
	DefaultBaseURL   = "https://integrate.api.nvidia.com/v1"
	DefaultModel     = "nvidia/llama-3.2-nv-embedqa-1b-v2"
	DefaultDimension = 2048
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// embeddings endpoint.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// OpenAIConfig holds provider configuration.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // defaults to DefaultBaseURL
	Model     string // defaults to DefaultModel
	Dimension int    // defaults to DefaultDimension
}

// NewOpenAIProvider creates an embedding provider for an OpenAI-compatible API.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
		),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Dimension returns the embedding vector size.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Embed converts a single text to an embedding vector.
func (p *OpenAIProvider) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts to embedding vectors in one request.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	resp, err := p.client.Embeddings.New(ctx,
		openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model:          openai.EmbeddingModel(p.model),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		},
		// NIM extensions carried in the request body the same way the
		// Python client sends extra_body.
		option.WithJSONSet("input_type", string(purpose)),
		option.WithJSONSet("truncate", "NONE"),
	)
	if err != nil {
		observability.RecordEmbedding(string(purpose), time.Since(start), false)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	observability.RecordEmbedding(string(purpose), time.Since(start), true)

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != p.dimension {
			return nil, fmt.Errorf("embedding dimension %d does not match expected %d", len(d.Embedding), p.dimension)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}
