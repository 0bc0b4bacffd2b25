package memory

import (
	"context"
	"time"
)

// ListFilter narrows a metadata store scan. Zero values mean "no filter";
// TenantID is mandatory because listing is always tenant-scoped.
type ListFilter struct {
	TenantID   string
	Type       Type
	Since      time.Time
	Until      time.Time
	DocumentID string
	Limit      int
	Offset     int
}

// MetadataStore is the durable key-value store for full memory records,
// keyed by record id. Implementations report missing ids as ErrNotFound and
// backend failures as errors wrapping ErrUnavailable.
type MetadataStore interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*Record, error)

	// CountByType returns per-type record counts for a tenant.
	CountByType(ctx context.Context, tenantID string) (map[Type]int, error)

	// Ping probes backend reachability.
	Ping(ctx context.Context) error
}

// VectorEntry is the durable form of one record's embedding. It carries just
// enough to rebuild the in-memory index: id, owner, vector and the creation
// time used for deterministic ranking ties.
type VectorEntry struct {
	ID        string
	TenantID  string
	Embedding []float32
	CreatedAt time.Time
}

// VectorStore is the durable key-value store for embeddings, keyed by record
// id. Scan visits every entry and exists only for startup recovery and
// consistency sweeps.
type VectorStore interface {
	Put(ctx context.Context, entry *VectorEntry) error
	Get(ctx context.Context, id string) (*VectorEntry, error)
	Delete(ctx context.Context, id string) error

	// Scan calls fn for each stored entry. A non-nil return from fn stops
	// the scan and is returned as-is.
	Scan(ctx context.Context, fn func(*VectorEntry) error) error

	// Count returns the total number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Ping probes backend reachability.
	Ping(ctx context.Context) error
}
