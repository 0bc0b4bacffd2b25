// Package memory stores content units with semantic embeddings and answers
// tenant-scoped similarity queries over them.
//
// Invariants:
// - Every record has exactly one embedding of the configured dimension.
// - The in-memory index is a rebuildable cache; the durable stores are
//   always authoritative.
// - A record is never visible to a tenant that does not own it.
// - Index presence of a record is all-or-nothing at any observable instant.
//
// Usage:
//
//	svc, _ := memory.NewService(memory.Config{Metadata: meta, Vectors: vecs, Embedder: provider})
//	_ = svc.Recover(ctx)
//	id, _ := svc.Create(ctx, memory.CreateRequest{TenantID: "u1", Content: "note", Type: memory.TypeText})
//	hits, _ := svc.Search(ctx, memory.SearchRequest{TenantID: "u1", Query: "note"})
//	_ = hits
package memory
