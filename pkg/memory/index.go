package memory

import "sync"

// Index is the process-local cache of every stored embedding, guarded by a
// reader-writer lock: search scans proceed concurrently, inserts and
// evictions are exclusive. It holds only id/tenant/embedding/created-at and
// is fully reconstructible from the durable vector store, so it is owned by
// the service and never persisted.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*VectorEntry
	tenants map[string]map[string]*VectorEntry
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]*VectorEntry),
		tenants: make(map[string]map[string]*VectorEntry),
	}
}

// Insert adds or replaces an entry.
func (ix *Index) Insert(entry *VectorEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.insertLocked(entry)
}

func (ix *Index) insertLocked(entry *VectorEntry) {
	if old, ok := ix.entries[entry.ID]; ok {
		delete(ix.tenants[old.TenantID], old.ID)
	}
	ix.entries[entry.ID] = entry
	bucket := ix.tenants[entry.TenantID]
	if bucket == nil {
		bucket = make(map[string]*VectorEntry)
		ix.tenants[entry.TenantID] = bucket
	}
	bucket[entry.ID] = entry
}

// Evict removes an entry by id. Removing an absent id is a no-op, so
// eviction can never fail and is safe to repeat.
func (ix *Index) Evict(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.entries[id]
	if !ok {
		return
	}
	delete(ix.entries, id)
	bucket := ix.tenants[entry.TenantID]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(ix.tenants, entry.TenantID)
	}
}

// Get returns the entry for id, or nil.
func (ix *Index) Get(id string) *VectorEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.entries[id]
}

// Scan calls fn for every entry owned by tenantID while holding the read
// lock. fn must not block on I/O.
func (ix *Index) Scan(tenantID string, fn func(*VectorEntry)) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, entry := range ix.tenants[tenantID] {
		fn(entry)
	}
}

// Len returns the total number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Replace atomically swaps the full index contents. Recovery builds the new
// state aside and installs it here, so readers never observe a half-built
// index.
func (ix *Index) Replace(entries []*VectorEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make(map[string]*VectorEntry, len(entries))
	ix.tenants = make(map[string]map[string]*VectorEntry)
	for _, entry := range entries {
		ix.insertLocked(entry)
	}
}
