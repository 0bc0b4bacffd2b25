package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
	"github.com/unimem/unimem/pkg/chunker"
	"github.com/unimem/unimem/pkg/embedding"
)

const (
	// DefaultSearchLimit bounds search results when the caller does not.
	DefaultSearchLimit = 10
	// DefaultSearchThreshold favors recall; some related phrasings score low.
	DefaultSearchThreshold = 0.2
	// DefaultRelatedThreshold is stricter for related-memory lookups.
	DefaultRelatedThreshold = 0.5
)

// Config holds service dependencies.
type Config struct {
	Metadata MetadataStore
	Vectors  VectorStore
	Embedder embedding.Provider
	Logger   zerolog.Logger

	// ChunkTokens is the token budget for document ingestion.
	// Zero uses chunker.DefaultMaxTokens.
	ChunkTokens int
}

// Service is the memory lifecycle manager. It keeps the durable metadata
// store, the durable vector store and the in-memory index consistent: all
// durable writes succeed before a record is considered created, and the
// index is a best-effort cache that self-heals through Recover. The one
// exception is delete, where index eviction is unconditional so a deleted
// record can never resurface in search results.
type Service struct {
	metadata MetadataStore
	vectors  VectorStore
	embedder embedding.Provider
	chunker  *chunker.Chunker
	index    *Index
	engine   *Engine
	logger   zerolog.Logger

	// rebuildMu makes create/delete index updates mutually exclusive with a
	// running recovery rebuild: writers hold the read side, Recover holds
	// the write side. Without it a rebuild could scan the store before a
	// concurrent write lands and then wipe that write's index entry.
	rebuildMu sync.RWMutex

	// available is the explicit operational state. While false, writes are
	// rejected with ErrUnavailable instead of being silently dropped.
	available atomic.Bool
}

// NewService creates a memory service. Call Recover before serving queries
// to repopulate the index from the durable vector store.
func NewService(cfg Config) (*Service, error) {
	if cfg.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}

	index := NewIndex()
	s := &Service{
		metadata: cfg.Metadata,
		vectors:  cfg.Vectors,
		embedder: cfg.Embedder,
		chunker:  chunker.New(cfg.ChunkTokens),
		index:    index,
		engine:   NewEngine(index, cfg.Metadata, cfg.Logger),
		logger:   cfg.Logger,
	}
	s.available.Store(true)

	return s, nil
}

// Dimension returns the embedding dimension the service validates against.
func (s *Service) Dimension() int {
	return s.embedder.Dimension()
}

// CreateRequest describes one record to create. Embedding is optional: when
// nil the service embeds Content with purpose "passage".
type CreateRequest struct {
	TenantID   string
	Content    string
	Type       Type
	Embedding  []float32
	Metadata   map[string]string
	Source     string
	Summary    string
	Tags       []string
	DocumentID string
}

// Create validates the request, persists the metadata record and the vector
// record, and inserts the entry into the index. The record is searchable by
// the caller as soon as Create returns. If any durable write fails the
// operation fails as a whole and the record is not visible to search.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "unimem.memory", "memory.create",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("memory_type", string(req.Type)),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	if !s.available.Load() {
		return "", fmt.Errorf("%w: store backend is degraded, writes rejected", ErrUnavailable)
	}
	if req.TenantID == "" {
		return "", fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if req.Type == "" {
		req.Type = TypeText
	}
	if !req.Type.Valid() {
		return "", fmt.Errorf("%w: unknown memory type %q", ErrValidation, req.Type)
	}

	emb := req.Embedding
	if emb == nil {
		var err error
		emb, err = s.embedder.Embed(ctx, req.Content, embedding.PurposePassage)
		if err != nil {
			return "", fmt.Errorf("%w: embedding provider: %v", ErrUnavailable, err)
		}
	}
	if err := s.validateEmbedding(emb); err != nil {
		return "", err
	}

	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	now := time.Now().UTC()
	rec := &Record{
		ID:         NewRecordID(),
		TenantID:   req.TenantID,
		Content:    req.Content,
		Type:       req.Type,
		Embedding:  emb,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		Source:     req.Source,
		Summary:    req.Summary,
		Tags:       req.Tags,
		DocumentID: req.DocumentID,
	}

	if err := s.metadata.Put(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metadata write failed")
		return "", fmt.Errorf("%w: metadata store: %v", ErrUnavailable, err)
	}

	entry := &VectorEntry{ID: rec.ID, TenantID: rec.TenantID, Embedding: emb, CreatedAt: now}
	if err := s.vectors.Put(ctx, entry); err != nil {
		// Compensating delete so a half-created record is never queryable.
		// Detached from ctx: the compensation must run even on cancellation.
		cleanupCtx := context.WithoutCancel(ctx)
		if derr := s.metadata.Delete(cleanupCtx, rec.ID); derr != nil && !isNotFound(derr) {
			s.logger.Error().Err(derr).Str("id", rec.ID).
				Msg("Compensating metadata delete failed; recovery will not index this record")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector write failed")
		return "", fmt.Errorf("%w: vector store: %v", ErrUnavailable, err)
	}

	// Both durable writes landed; the record exists even if the process
	// dies here, and the next recovery would index it.
	s.index.Insert(entry)
	observability.SetMemoryEntries(s.index.Len())

	s.logger.Debug().
		Str("id", rec.ID).
		Str("tenant_id", rec.TenantID).
		Str("memory_type", string(rec.Type)).
		Msg("Memory created")

	return rec.ID, nil
}

// Get returns the record with the given id, without tenant scoping; callers
// that hold a tenant must use GetOwned.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.metadata.Get(ctx, id)
}

// GetOwned returns the record only if tenantID owns it. A foreign or
// unknown id reports the identical ErrNotFound.
func (s *Service) GetOwned(ctx context.Context, id, tenantID string) (*Record, error) {
	rec, err := s.metadata.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Delete removes a record from the metadata store, the vector store and the
// index. It verifies tenant ownership first. Delete is idempotent from the
// caller's view: the first call succeeds, later calls report ErrNotFound.
// Index eviction happens regardless of durable-store errors, so a stale
// entry can never resurrect the record in this process.
func (s *Service) Delete(ctx context.Context, id, tenantID string) error {
	ctx, span := tracing.StartSpan(ctx, "unimem.memory", "memory.delete",
		attribute.String("id", id),
	)
	defer span.End()

	if !s.available.Load() {
		return fmt.Errorf("%w: store backend is degraded, writes rejected", ErrUnavailable)
	}

	if _, err := s.GetOwned(ctx, id, tenantID); err != nil {
		return err
	}

	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	// Evict no matter what happens durably; the sweep repairs drift the
	// other way, but a deleted record reappearing in search is never
	// acceptable.
	defer func() {
		s.index.Evict(id)
		observability.SetMemoryEntries(s.index.Len())
	}()

	if err := s.metadata.Delete(ctx, id); err != nil && !isNotFound(err) {
		span.RecordError(err)
		return fmt.Errorf("%w: metadata store: %v", ErrUnavailable, err)
	}
	if err := s.vectors.Delete(ctx, id); err != nil && !isNotFound(err) {
		span.RecordError(err)
		return fmt.Errorf("%w: vector store: %v", ErrUnavailable, err)
	}

	s.logger.Debug().Str("id", id).Str("tenant_id", tenantID).Msg("Memory deleted")
	return nil
}

// SearchRequest describes a similarity search. Embedding is optional: when
// nil the service embeds Query with purpose "query".
type SearchRequest struct {
	TenantID  string
	Query     string
	Embedding []float32
	Limit     int
	Threshold float64
}

// Search embeds the query if needed and runs it through the retrieval
// engine. No matches is an empty result, not an error.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "unimem.memory", "memory.search",
		attribute.String("tenant_id", req.TenantID),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if req.Limit <= 0 {
		req.Limit = DefaultSearchLimit
	}
	if req.Threshold == 0 {
		req.Threshold = DefaultSearchThreshold
	}

	emb := req.Embedding
	if emb == nil {
		var err error
		emb, err = s.embedder.Embed(ctx, req.Query, embedding.PurposeQuery)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: embedding provider: %v", ErrUnavailable, err)
		}
	}
	// A caller-supplied embedding of the wrong dimension would match nothing;
	// reject it instead of returning a misleading empty result.
	if err := s.validateEmbedding(emb); err != nil {
		span.RecordError(err)
		return nil, err
	}

	results, err := s.engine.Search(ctx, Query{
		TenantID:  req.TenantID,
		Embedding: emb,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// Related finds memories similar to an existing record, scoped to the same
// tenant and excluding the record itself.
func (s *Service) Related(ctx context.Context, id, tenantID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	rec, err := s.GetOwned(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	emb := rec.Embedding
	if emb == nil {
		// Metadata hydration strips embeddings in some callers; the index
		// entry carries the authoritative copy.
		if entry := s.index.Get(id); entry != nil {
			emb = entry.Embedding
		}
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: no embedding for record %s", ErrInconsistent, id)
	}

	return s.engine.Search(ctx, Query{
		TenantID:  tenantID,
		Embedding: emb,
		Limit:     limit,
		Threshold: DefaultRelatedThreshold,
		ExcludeID: id,
	})
}

// List returns records matching the filter from the metadata store.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	return s.metadata.List(ctx, filter)
}

// Stats summarizes stored memories for one tenant.
type Stats struct {
	TotalMemories int          `json:"total_memories"`
	ByType        map[Type]int `json:"type_distribution"`
	IndexEntries  int          `json:"index_entries"`
}

// Stats returns per-type counts for a tenant plus the global index size.
func (s *Service) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	byType, err := s.metadata.CountByType(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata store: %v", ErrUnavailable, err)
	}
	total := 0
	for _, n := range byType {
		total += n
	}
	return &Stats{TotalMemories: total, ByType: byType, IndexEntries: s.index.Len()}, nil
}

func (s *Service) validateEmbedding(emb []float32) error {
	if len(emb) != s.embedder.Dimension() {
		return fmt.Errorf("%w: embedding dimension %d does not match expected %d",
			ErrValidation, len(emb), s.embedder.Dimension())
	}
	if norm(emb) == 0 {
		return fmt.Errorf("%w: %w: embedding has zero norm", ErrValidation, ErrInvalidEmbedding)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
