package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimem/unimem/pkg/memory"
	"github.com/unimem/unimem/pkg/memory/memorytest"
)

func newTestEngine(t *testing.T) (*memory.Engine, *memory.Index, *memorytest.MetadataStore) {
	t.Helper()
	index := memory.NewIndex()
	metadata := memorytest.NewMetadataStore()
	return memory.NewEngine(index, metadata, zerolog.Nop()), index, metadata
}

// seed stores one record in both the metadata fake and the index, the way
// the service does on create.
func seed(t *testing.T, index *memory.Index, metadata *memorytest.MetadataStore,
	id, tenant, content string, emb []float32, createdAt time.Time) {
	t.Helper()

	require.NoError(t, metadata.Put(context.Background(), &memory.Record{
		ID:        id,
		TenantID:  tenant,
		Content:   content,
		Type:      memory.TypeText,
		Embedding: emb,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}))
	index.Insert(&memory.VectorEntry{ID: id, TenantID: tenant, Embedding: emb, CreatedAt: createdAt})
}

func TestEngineSearchRanksBySimilarity(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "close", "tenant-a", "nearly parallel", []float32{0.98, 0.02, 0}, now)
	seed(t, index, metadata, "orthogonal", "tenant-a", "unrelated", []float32{0, 1, 0}, now)
	seed(t, index, metadata, "aligned", "tenant-a", "same direction", []float32{2, 0, 0}, now)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
		Threshold: 0.2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// magnitude does not matter, only direction
	assert.Equal(t, "aligned", results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)

	assert.Equal(t, "close", results[1].Record.ID)
	assert.Greater(t, results[1].Similarity, 0.999)
}

func TestEngineSearchTenantIsolation(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "a1", "tenant-a", "tenant a fact", []float32{1, 0, 0}, now)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-b",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineSearchThresholdInclusive(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	// 3-4-5 triangle: similarity is exactly 3.0/5.0
	seed(t, index, metadata, "diag", "tenant-a", "diagonal", []float32{3, 4, 0}, now)

	query := memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	}

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID: query.TenantID, Embedding: query.Embedding, Limit: query.Limit,
		Threshold: 0.6,
	})
	require.NoError(t, err)
	assert.Len(t, results, 1, "candidate at the boundary qualifies")

	results, err = engine.Search(context.Background(), memory.Query{
		TenantID: query.TenantID, Embedding: query.Embedding, Limit: query.Limit,
		Threshold: 0.61,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineSearchTieBreak(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	base := time.Now().UTC()

	// same embedding, so identical similarity; older first, then id
	seed(t, index, metadata, "b-newer", "tenant-a", "b", []float32{1, 0, 0}, base.Add(time.Minute))
	seed(t, index, metadata, "c-old", "tenant-a", "c", []float32{1, 0, 0}, base)
	seed(t, index, metadata, "a-old", "tenant-a", "a", []float32{1, 0, 0}, base)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a-old", results[0].Record.ID)
	assert.Equal(t, "c-old", results[1].Record.ID)
	assert.Equal(t, "b-newer", results[2].Record.ID)
}

func TestEngineSearchLimit(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "m1", "tenant-a", "one", []float32{1, 0, 0}, now)
	seed(t, index, metadata, "m2", "tenant-a", "two", []float32{0.9, 0.1, 0}, now)
	seed(t, index, metadata, "m3", "tenant-a", "three", []float32{0.8, 0.2, 0}, now)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngineSearchExcludeID(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "self", "tenant-a", "self", []float32{1, 0, 0}, now)
	seed(t, index, metadata, "other", "tenant-a", "other", []float32{1, 0, 0}, now)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
		ExcludeID: "self",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other", results[0].Record.ID)
}

func TestEngineSearchValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Search(context.Background(), memory.Query{
		Embedding: []float32{1, 0, 0}, Limit: 10,
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = engine.Search(context.Background(), memory.Query{
		TenantID: "tenant-a", Embedding: []float32{1, 0, 0},
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = engine.Search(context.Background(), memory.Query{
		TenantID: "tenant-a", Embedding: []float32{0, 0, 0}, Limit: 10,
	})
	assert.ErrorIs(t, err, memory.ErrInvalidEmbedding)
}

func TestEngineSearchSkipsDimensionMismatch(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "good", "tenant-a", "good", []float32{1, 0, 0}, now)
	seed(t, index, metadata, "bad", "tenant-a", "bad", []float32{1, 0}, now)

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Record.ID)
}

func TestEngineSearchSkipsOrphanedIndexEntry(t *testing.T) {
	engine, index, metadata := newTestEngine(t)
	now := time.Now().UTC()

	seed(t, index, metadata, "kept", "tenant-a", "kept", []float32{1, 0, 0}, now)

	// index entry with no backing metadata record
	index.Insert(&memory.VectorEntry{
		ID: "orphan", TenantID: "tenant-a", Embedding: []float32{1, 0, 0}, CreatedAt: now.Add(-time.Hour),
	})

	results, err := engine.Search(context.Background(), memory.Query{
		TenantID:  "tenant-a",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Record.ID)
}
