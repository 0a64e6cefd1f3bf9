package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// Size in bytes of the random identity material behind a pool.
const poolCoreDataSize = 64

// Pool is a handle over one ordered file collection.
type Pool struct {
	b *Backend

	Hash  types.Hash
	Title string
}

// CreatePool mints a pool identity from random bytes and inserts it under
// title.
func (b *Backend) CreatePool(ctx context.Context, title string) (*Pool, error) {
	coreData, err := ids.RandomBytes(poolCoreDataSize)
	if err != nil {
		return nil, fmt.Errorf("generate pool core data: %w", err)
	}
	digest := ids.Digest(coreData)

	var pool *Pool
	err = b.WithSavepoint(ctx, "create_pool", func() error {
		hash, err := b.fetchOrCreateHash(ctx, digest[:], hashOptions{})
		if err != nil {
			return err
		}
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO pools (pool_hash, pool_core_data, title) VALUES (?, ?, ?)",
			hash.ID, coreData, title,
		); err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}
		pool = &Pool{b: b, Hash: hash, Title: title}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// FetchPool returns the pool with the given hash id, or nil.
func (b *Backend) FetchPool(ctx context.Context, hashID string) (*Pool, error) {
	p := &Pool{b: b}
	err := b.db.QueryRowContext(ctx,
		`SELECT p.pool_hash, h.hash_data, p.title
		 FROM pools p JOIN hashes h ON h.id = p.pool_hash
		 WHERE p.pool_hash = ?`, hashID,
	).Scan(&p.Hash.ID, &p.Hash.Data, &p.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", hashID, err)
	}
	return p, nil
}

// AddFile appends the file with hash id fileID at the end of the pool.
func (p *Pool) AddFile(ctx context.Context, fileID string) error {
	_, err := p.b.db.ExecContext(ctx,
		`INSERT INTO pool_entries (file_hash, pool_hash, entry_index)
		 VALUES (?, ?, coalesce(
		     (SELECT max(entry_index) + 1 FROM pool_entries WHERE pool_hash = ?), 0))`,
		fileID, p.Hash.ID, p.Hash.ID,
	)
	if err != nil {
		return fmt.Errorf("append %s to pool %s: %w", fileID, p.Hash.ID, err)
	}
	return nil
}

// AddFileAtIndex inserts fileID at position index, renumbering the whole
// pool densely from 0. The rewrite happens under a savepoint so a failure
// leaves the previous order intact.
func (p *Pool) AddFileAtIndex(ctx context.Context, fileID string, index int) error {
	return p.b.WithSavepoint(ctx, "pool_insert_at", func() error {
		current, err := p.entryFileIDs(ctx)
		if err != nil {
			return err
		}
		if index < 0 {
			index = 0
		}
		if index > len(current) {
			index = len(current)
		}
		reordered := make([]string, 0, len(current)+1)
		reordered = append(reordered, current[:index]...)
		reordered = append(reordered, fileID)
		reordered = append(reordered, current[index:]...)

		if _, err := p.b.db.ExecContext(ctx,
			"DELETE FROM pool_entries WHERE pool_hash = ?", p.Hash.ID,
		); err != nil {
			return fmt.Errorf("clear pool entries: %w", err)
		}
		for i, id := range reordered {
			if _, err := p.b.db.ExecContext(ctx,
				"INSERT INTO pool_entries (file_hash, pool_hash, entry_index) VALUES (?, ?, ?)",
				id, p.Hash.ID, i,
			); err != nil {
				return fmt.Errorf("reinsert pool entry %d: %w", i, err)
			}
		}
		return nil
	})
}

// RemoveFile removes fileID from the pool. Remaining entries keep their
// indexes; readers rely on entry_index order, not density.
func (p *Pool) RemoveFile(ctx context.Context, fileID string) error {
	_, err := p.b.db.ExecContext(ctx,
		"DELETE FROM pool_entries WHERE pool_hash = ? AND file_hash = ?",
		p.Hash.ID, fileID,
	)
	if err != nil {
		return fmt.Errorf("remove %s from pool %s: %w", fileID, p.Hash.ID, err)
	}
	return nil
}

// FetchFiles returns the pool's files in entry order.
func (p *Pool) FetchFiles(ctx context.Context) ([]*File, error) {
	fileIDs, err := p.entryFileIDs(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]*File, 0, len(fileIDs))
	for _, id := range fileIDs {
		f, err := p.b.FetchFile(ctx, id)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("pool entry %s: %w", id, types.ErrUnknownFile)
		}
		files = append(files, f)
	}
	return files, nil
}

func (p *Pool) entryFileIDs(ctx context.Context) ([]string, error) {
	rows, err := p.b.db.QueryContext(ctx,
		"SELECT file_hash FROM pool_entries WHERE pool_hash = ? ORDER BY entry_index ASC",
		p.Hash.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pool entries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool entry: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool entries: %w", err)
	}
	return out, nil
}

// Delete removes the pool, its entries, and its hash row.
func (p *Pool) Delete(ctx context.Context) error {
	return p.b.WithSavepoint(ctx, "delete_pool", func() error {
		if _, err := p.b.db.ExecContext(ctx,
			"DELETE FROM pool_entries WHERE pool_hash = ?", p.Hash.ID,
		); err != nil {
			return fmt.Errorf("delete pool entries: %w", err)
		}
		if err := p.b.deleteExactlyOne(ctx,
			"DELETE FROM pools WHERE pool_hash = ?", p.Hash.ID,
		); err != nil {
			return fmt.Errorf("delete pool: %w", err)
		}
		if err := p.b.deleteExactlyOne(ctx,
			"DELETE FROM hashes WHERE id = ?", p.Hash.ID,
		); err != nil {
			return fmt.Errorf("delete pool hash: %w", err)
		}
		return nil
	})
}
