package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// hashOptions controls id minting for new hash rows.
type hashOptions struct {
	// mtime, when set, becomes the time component of the new id. Used so a
	// file's hash id sorts by the file's modification time rather than by
	// when it was indexed.
	mtime *time.Time
}

// fetchOrCreateHash returns the row for digest, inserting it first if it
// has never been seen. Hash rows are append-only; nothing in the domain API
// updates them.
func (b *Backend) fetchOrCreateHash(ctx context.Context, digest []byte, opts hashOptions) (types.Hash, error) {
	var existing string
	err := b.db.QueryRowContext(ctx,
		"SELECT id FROM hashes WHERE hash_data = ?", digest,
	).Scan(&existing)
	if err == nil {
		return types.Hash{ID: existing, Data: digest}, nil
	}
	if err != sql.ErrNoRows {
		return types.Hash{}, fmt.Errorf("look up hash: %w", err)
	}

	var id string
	if opts.mtime != nil {
		id = ids.NewAt(*opts.mtime)
	} else {
		id = ids.New()
	}
	if _, err := b.db.ExecContext(ctx,
		"INSERT INTO hashes (id, hash_data) VALUES (?, ?)", id, digest,
	); err != nil {
		return types.Hash{}, fmt.Errorf("insert hash: %w", err)
	}
	return types.Hash{ID: id, Data: digest}, nil
}

// FetchHash returns the hash row for id.
func (b *Backend) FetchHash(ctx context.Context, id string) (types.Hash, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT hash_data FROM hashes WHERE id = ?", id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return types.Hash{}, fmt.Errorf("hash %s: %w", id, types.ErrInconsistentIndex)
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("fetch hash %s: %w", id, err)
	}
	return types.Hash{ID: id, Data: data}, nil
}

// FetchHashID resolves a raw 32-byte digest to its id. ok is false when the
// digest has never been stored.
func (b *Backend) FetchHashID(ctx context.Context, digest []byte) (string, bool, error) {
	var id string
	err := b.db.QueryRowContext(ctx,
		"SELECT id FROM hashes WHERE hash_data = ?", digest,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve digest: %w", err)
	}
	return id, true, nil
}
