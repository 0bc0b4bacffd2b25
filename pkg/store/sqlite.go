// Package store provides the SQLite-backed durable stores for memory
// records and their embedding vectors. Both stores share one database file;
// the id of a record keys both tables identically.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/unimem/unimem/pkg/memory"
)

func init() {
	// Auto-register the sqlite-vec extension on every new connection.
	sqlite_vec.Auto()
}

// DB owns the SQLite database backing both durable stores.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers during writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			document_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_memories_tenant ON memories(tenant_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_memories_tenant_type ON memories(tenant_id, memory_type);
		CREATE INDEX IF NOT EXISTS idx_memories_document ON memories(document_id);

		CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Metadata returns the durable metadata store view.
func (d *DB) Metadata() *MetadataStore {
	return &MetadataStore{db: d.db}
}

// Vectors returns the durable vector store view.
func (d *DB) Vectors() *VectorStore {
	return &VectorStore{db: d.db}
}

// MetadataStore implements memory.MetadataStore on SQLite.
type MetadataStore struct {
	db *sql.DB
}

// Put inserts or replaces a full record.
func (m *MetadataStore) Put(ctx context.Context, rec *memory.Record) error {
	metadata, err := json.Marshal(orEmptyMap(rec.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tags, err := json.Marshal(orEmptySlice(rec.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, tenant_id, content, memory_type, metadata, created_at, updated_at, source, summary, tags, document_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.Content, string(rec.Type), string(metadata),
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		rec.Source, rec.Summary, string(tags), rec.DocumentID,
	)
	return err
}

// Get returns the record for id, or memory.ErrNotFound.
func (m *MetadataStore) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, content, memory_type, metadata, created_at, updated_at, source, summary, tags, document_id
		FROM memories WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return rec, err
}

// Delete removes the record for id, reporting memory.ErrNotFound when no
// row existed.
func (m *MetadataStore) Delete(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return nil
}

// List returns records matching the filter, newest first.
func (m *MetadataStore) List(ctx context.Context, filter memory.ListFilter) ([]*memory.Record, error) {
	var where []string
	var args []any

	where = append(where, "tenant_id = ?")
	args = append(args, filter.TenantID)

	if filter.Type != "" {
		where = append(where, "memory_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := "SELECT id, tenant_id, content, memory_type, metadata, created_at, updated_at, source, summary, tags, document_id FROM memories WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByType returns per-type record counts for a tenant.
func (m *MetadataStore) CountByType(ctx context.Context, tenantID string) (map[memory.Type]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT memory_type, COUNT(*) FROM memories WHERE tenant_id = ? GROUP BY memory_type`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[memory.Type]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[memory.Type(typ)] = n
	}
	return counts, rows.Err()
}

// Ping probes database reachability.
func (m *MetadataStore) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var typ, metadata, tags string
	var createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Content, &typ, &metadata,
		&createdAt, &updatedAt, &rec.Source, &rec.Summary, &tags, &rec.DocumentID)
	if err != nil {
		return nil, err
	}

	rec.Type = memory.Type(typ)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
