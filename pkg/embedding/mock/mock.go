// Package mock provides a deterministic embedding provider for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/unimem/unimem/pkg/embedding"
)

// Provider generates deterministic embeddings from a text hash, so the same
// text always maps to the same unit vector. Specific texts can be pinned to
// fixed vectors with Stub, which lets tests control similarity exactly.
type Provider struct {
	dimension int

	mu    sync.RWMutex
	stubs map[string][]float32
}

// New creates a mock provider with the given dimension.
func New(dimension int) *Provider {
	return &Provider{
		dimension: dimension,
		stubs:     make(map[string][]float32),
	}
}

// Stub pins a text to a fixed embedding, bypassing hash generation.
// The vector length must match the provider dimension.
func (p *Provider) Stub(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stubs[text] = vec
}

// Dimension returns the embedding vector size.
func (p *Provider) Dimension() int {
	return p.dimension
}

// Embed returns the pinned vector for text if one exists, otherwise a
// deterministic hash-derived unit vector.
func (p *Provider) Embed(_ context.Context, text string, _ embedding.Purpose) ([]float32, error) {
	p.mu.RLock()
	stub, ok := p.stubs[text]
	p.mu.RUnlock()
	if ok {
		out := make([]float32, len(stub))
		copy(out, stub)
		return out, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(vec), nil
}

// EmbedBatch embeds each text independently, preserving order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string, purpose embedding.Purpose) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text, purpose)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) * inv)
	}
	return vec
}
