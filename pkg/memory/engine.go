package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Query is a similarity query against the index. Threshold is inclusive:
// candidates scoring exactly Threshold qualify.
type Query struct {
	TenantID  string
	Embedding []float32
	Limit     int
	Threshold float64

	// ExcludeID drops one record from the result, used by related-memory
	// lookups to exclude the record itself.
	ExcludeID string
}

// Engine answers tenant-scoped cosine-similarity queries over the index and
// hydrates hits from the metadata store. The public contract is query in,
// ranked records out; the linear scan behind it is an implementation detail
// that an approximate-NN structure could replace.
type Engine struct {
	index    *Index
	metadata MetadataStore
	logger   zerolog.Logger
}

// NewEngine creates a retrieval engine over the given index and store.
func NewEngine(index *Index, metadata MetadataStore, logger zerolog.Logger) *Engine {
	return &Engine{index: index, metadata: metadata, logger: logger}
}

type candidate struct {
	entry      *VectorEntry
	similarity float64
}

// Search returns up to q.Limit records owned by q.TenantID whose cosine
// similarity to q.Embedding is at least q.Threshold, ranked by similarity
// descending. Ties are broken by creation time ascending, then id, so
// results are deterministic regardless of index iteration order. An empty
// result is success, not an error.
func (e *Engine) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	if q.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, q.Limit)
	}

	queryNorm := norm(q.Embedding)
	if queryNorm == 0 {
		return nil, fmt.Errorf("%w: %w: query embedding has zero norm", ErrValidation, ErrInvalidEmbedding)
	}

	// Only entries owned by the query tenant are ever considered.
	var candidates []candidate
	e.index.Scan(q.TenantID, func(entry *VectorEntry) {
		if entry.ID == q.ExcludeID {
			return
		}
		if len(entry.Embedding) != len(q.Embedding) {
			e.logger.Warn().Str("id", entry.ID).Msg("Indexed embedding dimension mismatch, skipping")
			return
		}
		entryNorm := norm(entry.Embedding)
		if entryNorm == 0 {
			// Creation and recovery both reject zero-norm vectors, so this
			// is durable/index corruption rather than a scoring case.
			e.logger.Warn().Str("id", entry.ID).Msg("Indexed embedding has zero norm, skipping")
			return
		}
		sim := dot(q.Embedding, entry.Embedding) / (queryNorm * entryNorm)
		if sim >= q.Threshold {
			candidates = append(candidates, candidate{entry: entry, similarity: sim})
		}
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		if !candidates[i].entry.CreatedAt.Equal(candidates[j].entry.CreatedAt) {
			return candidates[i].entry.CreatedAt.Before(candidates[j].entry.CreatedAt)
		}
		return candidates[i].entry.ID < candidates[j].entry.ID
	})

	results := make([]SearchResult, 0, min(q.Limit, len(candidates)))
	for _, c := range candidates {
		if len(results) == q.Limit {
			break
		}
		rec, err := e.metadata.Get(ctx, c.entry.ID)
		if err != nil {
			if isNotFound(err) {
				// Vector without metadata: surface in logs, keep serving.
				e.logger.Warn().Str("id", c.entry.ID).Msg("Index entry has no metadata record, skipping")
				continue
			}
			return nil, err
		}
		results = append(results, SearchResult{Record: rec, Similarity: c.similarity})
	}

	return results, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
