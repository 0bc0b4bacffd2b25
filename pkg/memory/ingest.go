package memory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
	"github.com/unimem/unimem/pkg/embedding"
)

// IngestRequest describes one source document to chunk and store.
type IngestRequest struct {
	TenantID string
	Content  string
	Type     Type // defaults to TypeDocument
	Source   string
	Metadata map[string]string
	Tags     []string
}

// IngestResult reports what an ingestion produced. Every chunk is an
// independent searchable record; DocumentID is the grouping key they share.
type IngestResult struct {
	DocumentID string   `json:"document_id"`
	MemoryIDs  []string `json:"memory_ids"`
	Chunks     int      `json:"chunks"`
}

// Ingest splits a document into token-bounded chunks, embeds each chunk as a
// passage, and creates one record per chunk. Chunks share a document id and
// carry chunk_index/total_chunks provenance in their metadata. Chunks are
// created in document order; if a chunk fails, earlier chunks remain stored
// and the error reports how far ingestion got.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "unimem.memory", "memory.ingest",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("source", req.Source),
	)
	defer span.End()

	start := time.Now()

	if !s.available.Load() {
		return nil, fmt.Errorf("%w: store backend is degraded, writes rejected", ErrUnavailable)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if req.Type == "" {
		req.Type = TypeDocument
	}

	chunks := s.chunker.Split(req.Content)
	documentID := uuid.New().String()

	// One batched embedding call for the whole document.
	embeddings, err := s.embedder.EmbedBatch(ctx, chunks, embedding.PurposePassage)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: embedding provider: %v", ErrUnavailable, err)
	}

	result := &IngestResult{DocumentID: documentID, Chunks: len(chunks)}
	for i, chunk := range chunks {
		meta := make(map[string]string, len(req.Metadata)+2)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta["chunk_index"] = strconv.Itoa(i)
		meta["total_chunks"] = strconv.Itoa(len(chunks))

		id, err := s.Create(ctx, CreateRequest{
			TenantID:   req.TenantID,
			Content:    chunk,
			Type:       req.Type,
			Embedding:  embeddings[i],
			Metadata:   meta,
			Source:     req.Source,
			Tags:       req.Tags,
			DocumentID: documentID,
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		result.MemoryIDs = append(result.MemoryIDs, id)
	}

	observability.RecordIngest(len(chunks), time.Since(start))
	s.logger.Info().
		Str("tenant_id", req.TenantID).
		Str("document_id", documentID).
		Int("chunks", len(chunks)).
		Str("source", req.Source).
		Msg("Document ingested")

	return result, nil
}
