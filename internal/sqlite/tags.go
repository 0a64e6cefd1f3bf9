package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// Size in bytes of the random identity material behind a tag core.
const tagCoreDataSize = 128

// Tag is a named tag: one (text, language) pair bound to a core. Several
// tags may share a core; they are then synonyms of one concept.
type Tag struct {
	b *Backend

	Core     types.Hash
	Text     string
	Language string
}

// CreateNamedTag binds (text, language) to a core. When core is nil a new
// core is synthesised from random bytes. The text is validated against the
// configured tag name pattern first; on failure the returned error is a
// *types.InvalidTagNameError, also copied into out when out is non-nil.
func (b *Backend) CreateNamedTag(ctx context.Context, text, language string, core *types.Hash, out *types.InvalidTagNameError) (*Tag, error) {
	if err := b.verifyTagName(ctx, text, out); err != nil {
		return nil, err
	}

	var tag *Tag
	err := b.WithSavepoint(ctx, "create_named_tag", func() error {
		coreHash, err := b.resolveOrCreateCore(ctx, core)
		if err != nil {
			return err
		}
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO tag_names (tag_text, tag_language, core_hash) VALUES (?, ?, ?)",
			text, language, coreHash.ID,
		); err != nil {
			return fmt.Errorf("insert tag name: %w", err)
		}
		tag = &Tag{b: b, Core: coreHash, Text: text, Language: language}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (b *Backend) resolveOrCreateCore(ctx context.Context, core *types.Hash) (types.Hash, error) {
	if core != nil {
		return *core, nil
	}
	coreData, err := ids.RandomBytes(tagCoreDataSize)
	if err != nil {
		return types.Hash{}, fmt.Errorf("generate core data: %w", err)
	}
	digest := ids.Digest(coreData)
	hash, err := b.fetchOrCreateHash(ctx, digest[:], hashOptions{})
	if err != nil {
		return types.Hash{}, err
	}
	if _, err := b.db.ExecContext(ctx,
		"INSERT INTO tag_cores (core_hash, core_data) VALUES (?, ?)", hash.ID, coreData,
	); err != nil {
		return types.Hash{}, fmt.Errorf("insert tag core: %w", err)
	}
	return hash, nil
}

// FetchNamedTag resolves (text, language) to its tag. Returns
// types.ErrUnknownTag when no such name exists.
func (b *Backend) FetchNamedTag(ctx context.Context, text, language string) (*Tag, error) {
	t := &Tag{b: b, Text: text, Language: language}
	err := b.db.QueryRowContext(ctx,
		`SELECT tn.core_hash, h.hash_data
		 FROM tag_names tn JOIN hashes h ON h.id = tn.core_hash
		 WHERE tn.tag_text = ? AND tn.tag_language = ?`,
		text, language,
	).Scan(&t.Core.ID, &t.Core.Data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q (%s): %w", text, language, types.ErrUnknownTag)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch tag %q: %w", text, err)
	}
	return t, nil
}

// FetchTagsFromCore returns every name bound to core.
func (b *Backend) FetchTagsFromCore(ctx context.Context, core types.Hash) ([]*Tag, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT tag_text, tag_language FROM tag_names WHERE core_hash = ?",
		core.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch names of core %s: %w", core.ID, err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		t := &Tag{b: b, Core: core}
		if err := rows.Scan(&t.Text, &t.Language); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag names: %w", err)
	}
	return tags, nil
}

// DeleteAll removes every name sharing this tag's core, then the core and
// its hash row. Links to files go with the core through the cascade.
func (t *Tag) DeleteAll(ctx context.Context) error {
	return t.b.WithSavepoint(ctx, "delete_tag", func() error {
		if _, err := t.b.db.ExecContext(ctx,
			"DELETE FROM tag_names WHERE core_hash = ?", t.Core.ID,
		); err != nil {
			return fmt.Errorf("delete tag names: %w", err)
		}
		if err := t.b.deleteExactlyOne(ctx,
			"DELETE FROM tag_cores WHERE core_hash = ?", t.Core.ID,
		); err != nil {
			return fmt.Errorf("delete tag core: %w", err)
		}
		if err := t.b.deleteExactlyOne(ctx,
			"DELETE FROM hashes WHERE id = ?", t.Core.ID,
		); err != nil {
			return fmt.Errorf("delete core hash: %w", err)
		}
		return nil
	})
}

// deleteExactlyOne runs a DELETE that must affect exactly one row.
func (b *Backend) deleteExactlyOne(ctx context.Context, query string, args ...any) error {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected 1 affected row, got %d", n)
	}
	return nil
}

// CreateTagParent records the implication "child implies parent" and
// returns the edge's id, which inferred links will carry as their parent
// source id.
func (b *Backend) CreateTagParent(ctx context.Context, child, parent *Tag) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		"INSERT INTO tag_implications (child_tag, parent_tag) VALUES (?, ?)",
		child.Core.ID, parent.Core.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("create tag parent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read edge id: %w", err)
	}
	return id, nil
}
