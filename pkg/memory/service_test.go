package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimem/unimem/pkg/embedding/mock"
	"github.com/unimem/unimem/pkg/memory"
	"github.com/unimem/unimem/pkg/memory/memorytest"
)

type serviceFixture struct {
	service  *memory.Service
	metadata *memorytest.MetadataStore
	vectors  *memorytest.VectorStore
	embedder *mock.Provider
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		metadata: memorytest.NewMetadataStore(),
		vectors:  memorytest.NewVectorStore(),
		embedder: mock.New(3),
	}

	svc, err := memory.NewService(memory.Config{
		Metadata: f.metadata,
		Vectors:  f.vectors,
		Embedder: f.embedder,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func TestNewServiceValidation(t *testing.T) {
	_, err := memory.NewService(memory.Config{
		Vectors:  memorytest.NewVectorStore(),
		Embedder: mock.New(3),
	})
	assert.Error(t, err)

	_, err = memory.NewService(memory.Config{
		Metadata: memorytest.NewMetadataStore(),
		Embedder: mock.New(3),
	})
	assert.Error(t, err)

	_, err = memory.NewService(memory.Config{
		Metadata: memorytest.NewMetadataStore(),
		Vectors:  memorytest.NewVectorStore(),
	})
	assert.Error(t, err)
}

func TestCreateReadYourWrites(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.embedder.Stub("paris is the capital of france", []float32{1, 0, 0})
	f.embedder.Stub("what is the capital?", []float32{1, 0, 0})

	id, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a",
		Content:  "paris is the capital of france",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// visible to search immediately after Create returns
	results, err := f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a",
		Query:    "what is the capital?",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)

	// durable in both stores
	_, err = f.metadata.Get(ctx, id)
	assert.NoError(t, err)
	_, err = f.vectors.Get(ctx, id)
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, memory.CreateRequest{Content: "no tenant"})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "x", Type: memory.Type("bogus"),
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	// caller-supplied embedding must match the provider dimension
	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "x", Embedding: []float32{1, 0},
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "x", Embedding: []float32{0, 0, 0},
	})
	assert.ErrorIs(t, err, memory.ErrInvalidEmbedding)
}

func TestCreateCompensatesFailedVectorWrite(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.vectors.FailPut = errors.New("disk full")

	_, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a",
		Content:  "doomed write",
	})
	require.ErrorIs(t, err, memory.ErrUnavailable)

	// the failed create left nothing behind: no metadata record, no vector,
	// nothing searchable
	assert.Zero(t, f.metadata.Len())
	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	results, err := f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a",
		Query:    "doomed write",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "to be deleted",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, id, "tenant-a"))

	// record is fully gone
	_, err = f.service.GetOwned(ctx, id, "tenant-a")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	results, err := f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a", Query: "to be deleted",
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// second delete reports not found
	assert.ErrorIs(t, f.service.Delete(ctx, id, "tenant-a"), memory.ErrNotFound)
}

func TestDeleteForeignTenant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "owned by a",
	})
	require.NoError(t, err)

	// foreign tenant gets the same error as an unknown id
	assert.ErrorIs(t, f.service.Delete(ctx, id, "tenant-b"), memory.ErrNotFound)

	// the record survives
	_, err = f.service.GetOwned(ctx, id, "tenant-a")
	assert.NoError(t, err)
}

func TestGetOwned(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "fact",
	})
	require.NoError(t, err)

	rec, err := f.service.GetOwned(ctx, id, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "fact", rec.Content)

	_, err = f.service.GetOwned(ctx, id, "tenant-b")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = f.service.GetOwned(ctx, "no-such-id", "tenant-a")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestRelatedExcludesSelf(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.embedder.Stub("anchor", []float32{1, 0, 0})
	f.embedder.Stub("close neighbor", []float32{0.95, 0.05, 0})
	f.embedder.Stub("far away", []float32{0, 1, 0})

	anchorID, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "anchor",
	})
	require.NoError(t, err)

	closeID, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "close neighbor",
	})
	require.NoError(t, err)

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "far away",
	})
	require.NoError(t, err)

	results, err := f.service.Related(ctx, anchorID, "tenant-a", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, closeID, results[0].Record.ID)

	// foreign tenant cannot use Related as a backdoor
	_, err = f.service.Related(ctx, anchorID, "tenant-b", 0)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestSearchDefaults(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// 12 identical memories, default limit caps results at 10
	f.embedder.Stub("repeated fact", []float32{1, 0, 0})
	for i := 0; i < 12; i++ {
		_, err := f.service.Create(ctx, memory.CreateRequest{
			TenantID: "tenant-a", Content: "repeated fact",
		})
		require.NoError(t, err)
	}

	results, err := f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a", Query: "repeated fact",
	})
	require.NoError(t, err)
	assert.Len(t, results, memory.DefaultSearchLimit)
}

func TestSearchRejectsBadQueryEmbedding(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.embedder.Stub("stored fact", []float32{1, 0, 0})
	_, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "stored fact",
	})
	require.NoError(t, err)

	// wrong dimension is a caller error, not an empty result
	_, err = f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a", Embedding: []float32{1, 0, 0, 0, 0},
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	// zero norm is rejected the same way
	_, err = f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a", Embedding: []float32{0, 0, 0},
	})
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestListFiltersAndValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.List(ctx, memory.ListFilter{})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "a text", Type: memory.TypeText,
	})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "a note", Type: memory.TypeConversation,
	})
	require.NoError(t, err)

	records, err := f.service.List(ctx, memory.ListFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = f.service.List(ctx, memory.ListFilter{
		TenantID: "tenant-a", Type: memory.TypeConversation,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a note", records[0].Content)
}

func TestStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.service.Create(ctx, memory.CreateRequest{
			TenantID: "tenant-a", Content: "text", Type: memory.TypeText,
		})
		require.NoError(t, err)
	}
	_, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "fact", Type: memory.TypeConversation,
	})
	require.NoError(t, err)
	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-b", Content: "other tenant",
	})
	require.NoError(t, err)

	stats, err := f.service.Stats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMemories)
	assert.Equal(t, 2, stats.ByType[memory.TypeText])
	assert.Equal(t, 1, stats.ByType[memory.TypeConversation])
	assert.Equal(t, 4, stats.IndexEntries)
}

func TestWritesRejectedWhileDegraded(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id, err := f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "before outage",
	})
	require.NoError(t, err)

	// sweep observes an unreachable vector store and degrades the service
	f.vectors.FailCount = errors.New("connection refused")
	require.ErrorIs(t, f.service.VerifyConsistency(ctx), memory.ErrUnavailable)
	assert.False(t, f.service.Available())

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "during outage",
	})
	assert.ErrorIs(t, err, memory.ErrUnavailable)
	assert.ErrorIs(t, f.service.Delete(ctx, id, "tenant-a"), memory.ErrUnavailable)

	// reads keep working while degraded
	results, err := f.service.Search(ctx, memory.SearchRequest{
		TenantID: "tenant-a", Query: "before outage",
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// backend recovers, next sweep restores writes
	f.vectors.FailCount = nil
	require.NoError(t, f.service.VerifyConsistency(ctx))
	assert.True(t, f.service.Available())

	_, err = f.service.Create(ctx, memory.CreateRequest{
		TenantID: "tenant-a", Content: "after outage",
	})
	assert.NoError(t, err)
}
