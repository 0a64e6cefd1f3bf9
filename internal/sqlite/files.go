package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// File is a handle over one files row. It borrows the backend's connection
// and is only valid while the backend is open.
type File struct {
	b *Backend

	Hash      types.Hash
	LocalPath string
}

// CreateFileOptions controls indexing of a new file.
type CreateFileOptions struct {
	// UseFileMtime makes the hash id encode the file's mtime instead of
	// the indexing time.
	UseFileMtime bool
}

// TagSourceRef attributes an AddTag call. A nil ref means manual insertion.
type TagSourceRef struct {
	Source         types.TagSource
	ParentSourceID *int64
}

func (r *TagSourceRef) isTagParenting() bool {
	return r.Source.Kind == types.TagSourceSystem && r.Source.ID == types.SystemSourceTagParenting
}

// CreateFileFromPath indexes the file at path, resolving it to an absolute
// path first. If the path is already indexed the existing row is returned;
// otherwise the file's content is hashed in streaming fashion and a new
// files row is inserted.
func (b *Backend) CreateFileFromPath(ctx context.Context, path string, opts CreateFileOptions) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	if f, err := b.FetchFileByPath(ctx, abs); err != nil {
		return nil, err
	} else if f != nil {
		return f, nil
	}

	fh, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", abs, err)
	}
	defer fh.Close()

	digest, err := ids.DigestReader(fh)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", abs, err)
	}

	var hopts hashOptions
	if opts.UseFileMtime {
		st, err := fh.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}
		mtime := st.ModTime()
		hopts.mtime = &mtime
	}

	var file *File
	err = b.WithSavepoint(ctx, "create_file", func() error {
		hash, err := b.fetchOrCreateHash(ctx, digest[:], hopts)
		if err != nil {
			return err
		}
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO files (file_hash, local_path) VALUES (?, ?)", hash.ID, abs,
		); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		file = &File{b: b, Hash: hash, LocalPath: abs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// FetchFile returns any file carrying the given hash id, or nil when none
// does. When the same content is indexed under several paths an arbitrary
// one is returned; use FetchFileExact to pin the path.
func (b *Backend) FetchFile(ctx context.Context, hashID string) (*File, error) {
	return b.fetchFileWhere(ctx, "f.file_hash = ?", hashID)
}

// FetchFileExact returns the file at (hash id, path), or nil.
func (b *Backend) FetchFileExact(ctx context.Context, hashID, localPath string) (*File, error) {
	return b.fetchFileWhere(ctx, "f.file_hash = ? AND f.local_path = ?", hashID, localPath)
}

// FetchFileByPath returns the file indexed at path, or nil.
func (b *Backend) FetchFileByPath(ctx context.Context, localPath string) (*File, error) {
	return b.fetchFileWhere(ctx, "f.local_path = ?", localPath)
}

// FetchFileByDigest returns a file whose content has the given raw 32-byte
// digest, or nil.
func (b *Backend) FetchFileByDigest(ctx context.Context, digest []byte) (*File, error) {
	return b.fetchFileWhere(ctx, "h.hash_data = ?", digest)
}

func (b *Backend) fetchFileWhere(ctx context.Context, where string, args ...any) (*File, error) {
	f := &File{b: b}
	err := b.db.QueryRowContext(ctx,
		`SELECT f.file_hash, h.hash_data, f.local_path
		 FROM files f JOIN hashes h ON h.id = f.file_hash
		 WHERE `+where, args...,
	).Scan(&f.Hash.ID, &f.Hash.Data, &f.LocalPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	return f, nil
}

// AddTag links core to the file. A nil ref records manual insertion. A
// parent source id is required exactly when the ref is the tag parenting
// system source. Linking an already-linked core is a silent no-op, which
// also settles races between implication edges: the first insert wins.
func (f *File) AddTag(ctx context.Context, core types.Hash, ref *TagSourceRef) error {
	sourceType := int(types.TagSourceSystem)
	sourceID := types.SystemSourceManualInsertion
	var parentSourceID *int64

	if ref != nil {
		if ref.isTagParenting() {
			if ref.ParentSourceID == nil {
				return types.ErrParentSourceRequired
			}
		} else if ref.ParentSourceID != nil {
			return types.ErrParentSourceForbidden
		}
		sourceType = int(ref.Source.Kind)
		sourceID = ref.Source.ID
		parentSourceID = ref.ParentSourceID
	}

	_, err := f.b.db.ExecContext(ctx,
		`INSERT INTO tag_files (file_hash, core_hash, tag_source_type, tag_source_id, parent_source_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (file_hash, core_hash) DO NOTHING`,
		f.Hash.ID, core.ID, sourceType, sourceID, parentSourceID,
	)
	if err != nil {
		return fmt.Errorf("add tag %s to %s: %w", core.ID, f.Hash.ID, err)
	}
	return nil
}

// RemoveTag unlinks core from the file.
func (f *File) RemoveTag(ctx context.Context, core types.Hash) error {
	_, err := f.b.db.ExecContext(ctx,
		"DELETE FROM tag_files WHERE file_hash = ? AND core_hash = ?",
		f.Hash.ID, core.ID,
	)
	if err != nil {
		return fmt.Errorf("remove tag %s from %s: %w", core.ID, f.Hash.ID, err)
	}
	return nil
}

// FetchTags returns the cores linked to the file.
func (f *File) FetchTags(ctx context.Context) ([]types.Hash, error) {
	rows, err := f.b.db.QueryContext(ctx,
		`SELECT tf.core_hash, h.hash_data
		 FROM tag_files tf JOIN hashes h ON h.id = tf.core_hash
		 WHERE tf.file_hash = ?`,
		f.Hash.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch tags of %s: %w", f.Hash.ID, err)
	}
	defer rows.Close()

	var cores []types.Hash
	for rows.Next() {
		var h types.Hash
		if err := rows.Scan(&h.ID, &h.Data); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		cores = append(cores, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return cores, nil
}

// SetLocalPath renames the file row to newPath (resolved to absolute). The
// rename keys on the old (hash, path) pair so a concurrent rename loses
// cleanly instead of clobbering.
func (f *File) SetLocalPath(ctx context.Context, newPath string) error {
	abs, err := filepath.Abs(newPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", newPath, err)
	}
	_, err = f.b.db.ExecContext(ctx,
		"UPDATE files SET local_path = ? WHERE file_hash = ? AND local_path = ?",
		abs, f.Hash.ID, f.LocalPath,
	)
	if err != nil {
		return fmt.Errorf("rename %s: %w", f.LocalPath, err)
	}
	f.LocalPath = abs
	return nil
}

// Delete removes the files row. The hash row stays behind; sweeping hashes
// no longer referenced by anything is the janitor's job.
func (f *File) Delete(ctx context.Context) error {
	_, err := f.b.db.ExecContext(ctx,
		"DELETE FROM files WHERE file_hash = ? AND local_path = ?",
		f.Hash.ID, f.LocalPath,
	)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", f.LocalPath, err)
	}
	return nil
}
