// Package embedding converts text into fixed-dimension semantic vectors.
//
// The Provider interface abstracts the embedding backend. The production
// implementation talks to an OpenAI-compatible endpoint (NVIDIA hosted API
// in development, a self-deployed NIM service in production); tests use the
// deterministic provider in the mock subpackage.
package embedding

import "context"

// Purpose tells the embedding model how the text will be used. Passage and
// query embeddings live in the same space but are encoded differently.
type Purpose string

const (
	// PurposePassage marks text that is being stored.
	PurposePassage Purpose = "passage"
	// PurposeQuery marks text that is being searched for.
	PurposeQuery Purpose = "query"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)

	// EmbedBatch converts multiple texts to embedding vectors,
	// preserving input order.
	EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)

	// Dimension returns the embedding vector size.
	Dimension() int
}
