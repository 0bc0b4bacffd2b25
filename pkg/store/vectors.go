package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/rs/zerolog/log"

	"github.com/unimem/unimem/pkg/memory"
)

// VectorStore implements memory.VectorStore on SQLite. Embeddings are kept
// as sqlite-vec float32 blobs so vec_* SQL functions can operate on them.
type VectorStore struct {
	db *sql.DB
}

// Put inserts or replaces the vector entry for entry.ID.
func (v *VectorStore) Put(ctx context.Context, entry *memory.VectorEntry) error {
	blob, err := sqlite_vec.SerializeFloat32(entry.Embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	_, err = v.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vectors (id, tenant_id, embedding, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.ID, entry.TenantID, blob, entry.CreatedAt.UnixNano(),
	)
	return err
}

// Get returns the vector entry for id, or memory.ErrNotFound.
func (v *VectorStore) Get(ctx context.Context, id string) (*memory.VectorEntry, error) {
	row := v.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, embedding, created_at FROM vectors WHERE id = ?`, id)

	entry, err := scanVectorEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return entry, err
}

// Delete removes the vector entry for id, reporting memory.ErrNotFound when
// no row existed.
func (v *VectorStore) Delete(ctx context.Context, id string) error {
	res, err := v.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id)
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

// Scan streams every vector entry to fn. Rows whose embedding blob cannot
// be decoded are logged and skipped so one corrupt row does not block a full
// rebuild. A non-nil error from fn stops the scan and is returned.
func (v *VectorStore) Scan(ctx context.Context, fn func(*memory.VectorEntry) error) error {
	rows, err := v.db.QueryContext(ctx,
		`SELECT id, tenant_id, embedding, created_at FROM vectors ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entry memory.VectorEntry
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.TenantID, &blob, &createdAt); err != nil {
			return err
		}

		embedding, err := deserializeFloat32(blob)
		if err != nil {
			log.Warn().Err(err).Str("id", entry.ID).
				Msg("Skipping vector row with undecodable embedding")
			continue
		}
		entry.Embedding = embedding
		entry.CreatedAt = time.Unix(0, createdAt).UTC()

		if err := fn(&entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the total number of stored vector entries.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n)
	return n, err
}

// Ping probes database reachability.
func (v *VectorStore) Ping(ctx context.Context) error {
	return v.db.PingContext(ctx)
}

func scanVectorEntry(row rowScanner) (*memory.VectorEntry, error) {
	var entry memory.VectorEntry
	var blob []byte
	var createdAt int64

	if err := row.Scan(&entry.ID, &entry.TenantID, &blob, &createdAt); err != nil {
		return nil, err
	}

	embedding, err := deserializeFloat32(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding for %s: %w", entry.ID, err)
	}
	entry.Embedding = embedding
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	return &entry, nil
}

// deserializeFloat32 decodes a sqlite-vec float32 blob (little-endian).
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}
