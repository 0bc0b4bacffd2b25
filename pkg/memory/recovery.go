package memory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
)

// Recover rebuilds the in-memory index from a full scan of the durable
// vector store. This is the only mechanism that restores index state after
// a restart. Malformed entries (wrong dimension, missing tenant, zero norm)
// are skipped and logged; one bad entry never aborts the rebuild. The new
// state is built aside and swapped in atomically, and the rebuild is
// mutually exclusive with concurrent create/delete index updates.
func (s *Service) Recover(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "unimem.memory", "memory.recover")
	defer span.End()

	start := time.Now()

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	dim := s.embedder.Dimension()
	var entries []*VectorEntry
	skipped := 0

	err := s.vectors.Scan(ctx, func(entry *VectorEntry) error {
		switch {
		case entry.TenantID == "":
			skipped++
			s.logger.Warn().Str("id", entry.ID).Msg("Skipping vector with missing tenant")
		case len(entry.Embedding) != dim:
			skipped++
			s.logger.Warn().Str("id", entry.ID).Int("dimension", len(entry.Embedding)).
				Msg("Skipping vector with wrong dimension")
		case norm(entry.Embedding) == 0:
			skipped++
			s.logger.Warn().Str("id", entry.ID).Msg("Skipping vector with zero norm")
		default:
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector store scan failed")
		return fmt.Errorf("%w: vector store scan: %v", ErrUnavailable, err)
	}

	s.index.Replace(entries)
	observability.SetMemoryEntries(s.index.Len())
	observability.RecordRecovery(len(entries), skipped, time.Since(start))
	s.available.Store(true)

	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("skipped", skipped),
	)
	s.logger.Info().
		Int("entries", len(entries)).
		Int("skipped", skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Index recovered from vector store")

	return nil
}

// VerifyConsistency compares the index against the durable vector store and
// re-runs recovery when they have drifted apart. It also doubles as the
// health probe that drives the operational state: store failures flip the
// service to degraded (writes rejected), a successful pass restores it.
func (s *Service) VerifyConsistency(ctx context.Context) error {
	count, err := s.vectors.Count(ctx)
	if err != nil {
		s.available.Store(false)
		observability.SetServiceAvailable(false)
		s.logger.Error().Err(err).Msg("Vector store unreachable, entering degraded state")
		return fmt.Errorf("%w: vector store: %v", ErrUnavailable, err)
	}
	if err := s.metadata.Ping(ctx); err != nil {
		s.available.Store(false)
		observability.SetServiceAvailable(false)
		s.logger.Error().Err(err).Msg("Metadata store unreachable, entering degraded state")
		return fmt.Errorf("%w: metadata store: %v", ErrUnavailable, err)
	}

	if !s.available.Load() {
		s.logger.Info().Msg("Store backends reachable again, leaving degraded state")
	}
	s.available.Store(true)
	observability.SetServiceAvailable(true)

	if indexed := s.index.Len(); indexed != count {
		observability.RecordInconsistency()
		s.logger.Warn().
			Int("indexed", indexed).
			Int("durable", count).
			Msg("Index drifted from vector store, rebuilding")
		if err := s.Recover(ctx); err != nil {
			return fmt.Errorf("%w: index holds %d entries, store holds %d, rebuild failed: %v",
				ErrInconsistent, indexed, count, err)
		}
	}

	return nil
}

// ComponentHealth reports one dependency's probe result.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health is the service health report.
type Health struct {
	Status       string                     `json:"status"` // healthy | degraded
	Components   map[string]ComponentHealth `json:"components"`
	IndexEntries int                        `json:"index_entries"`
}

// Health probes both durable stores and reports per-component status. It
// never errors; an unreachable dependency shows up as a degraded component.
func (s *Service) Health(ctx context.Context) *Health {
	h := &Health{
		Status:       "healthy",
		Components:   make(map[string]ComponentHealth),
		IndexEntries: s.index.Len(),
	}

	probe := func(name string, err error) {
		if err != nil {
			h.Status = "degraded"
			h.Components[name] = ComponentHealth{Status: "unavailable", Error: err.Error()}
			return
		}
		h.Components[name] = ComponentHealth{Status: "ok"}
	}

	probe("metadata_store", s.metadata.Ping(ctx))
	probe("vector_store", s.vectors.Ping(ctx))

	if !s.available.Load() {
		h.Status = "degraded"
	}
	return h
}

// Available reports the current operational state.
func (s *Service) Available() bool {
	return s.available.Load()
}
