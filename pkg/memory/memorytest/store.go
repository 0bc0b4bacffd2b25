// Package memorytest provides in-memory store implementations for tests.
// They honor the same contracts as the SQLite stores, including not-found
// reporting, so service behavior can be exercised without a database file.
package memorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/unimem/unimem/pkg/memory"
)

// MetadataStore is an in-memory memory.MetadataStore.
type MetadataStore struct {
	mu      sync.RWMutex
	records map[string]*memory.Record

	// FailPut makes the next Put return this error, then clears it.
	FailPut error
	// FailPing makes Ping return this error.
	FailPing error
}

// NewMetadataStore creates an empty metadata store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{records: make(map[string]*memory.Record)}
}

func (m *MetadataStore) Put(_ context.Context, rec *memory.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		err := m.FailPut
		m.FailPut = nil
		return err
	}
	clone := *rec
	m.records[rec.ID] = &clone
	return nil
}

func (m *MetadataStore) Get(_ context.Context, id string) (*memory.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	clone := *rec
	return &clone, nil
}

func (m *MetadataStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}

func (m *MetadataStore) List(_ context.Context, filter memory.ListFilter) ([]*memory.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*memory.Record
	for _, rec := range m.records {
		if rec.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.DocumentID != "" && rec.DocumentID != filter.DocumentID {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.CreatedAt.After(filter.Until) {
			continue
		}
		clone := *rec
		records = append(records, &clone)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			return nil, nil
		}
		records = records[filter.Offset:]
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (m *MetadataStore) CountByType(_ context.Context, tenantID string) (map[memory.Type]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[memory.Type]int)
	for _, rec := range m.records {
		if rec.TenantID == tenantID {
			counts[rec.Type]++
		}
	}
	return counts, nil
}

func (m *MetadataStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailPing
}

// Len returns the number of stored records.
func (m *MetadataStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// VectorStore is an in-memory memory.VectorStore.
type VectorStore struct {
	mu      sync.RWMutex
	entries map[string]*memory.VectorEntry

	// FailPut makes the next Put return this error, then clears it.
	FailPut error
	// FailAfter, when positive, lets that many Puts succeed and fails every
	// Put thereafter.
	FailAfter int
	// FailPing makes Ping return this error.
	FailPing error
	// FailCount makes Count return this error.
	FailCount error

	puts int
}

// NewVectorStore creates an empty vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{entries: make(map[string]*memory.VectorEntry)}
}

func (v *VectorStore) Put(_ context.Context, entry *memory.VectorEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailPut != nil {
		err := v.FailPut
		v.FailPut = nil
		return err
	}
	if v.FailAfter > 0 && v.puts >= v.FailAfter {
		return fmt.Errorf("vector store write rejected after %d puts", v.FailAfter)
	}
	v.puts++
	clone := *entry
	v.entries[entry.ID] = &clone
	return nil
}

func (v *VectorStore) Get(_ context.Context, id string) (*memory.VectorEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	clone := *entry
	return &clone, nil
}

func (v *VectorStore) Delete(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[id]; !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	delete(v.entries, id)
	return nil
}

func (v *VectorStore) Scan(_ context.Context, fn func(*memory.VectorEntry) error) error {
	v.mu.RLock()
	entries := make([]*memory.VectorEntry, 0, len(v.entries))
	for _, entry := range v.entries {
		clone := *entry
		entries = append(entries, &clone)
	}
	v.mu.RUnlock()

	for _, entry := range entries {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorStore) Count(context.Context) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.FailCount != nil {
		return 0, v.FailCount
	}
	return len(v.entries), nil
}

func (v *VectorStore) Ping(context.Context) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.FailPing
}

// Drop removes an entry directly, simulating out-of-band store drift.
func (v *VectorStore) Drop(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, id)
}

var _ memory.MetadataStore = (*MetadataStore)(nil)
var _ memory.VectorStore = (*VectorStore)(nil)
