package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// TagSourceHandle is a handle over one tag_sources row.
type TagSourceHandle struct {
	b *Backend

	Source types.TagSource
}

// CreateTagSource allocates the next external source id (max + 1, starting
// at 0) and inserts it under name. System sources are seeded by migration
// and never created here.
func (b *Backend) CreateTagSource(ctx context.Context, name string) (*TagSourceHandle, error) {
	var handle *TagSourceHandle
	err := b.WithSavepoint(ctx, "create_tag_source", func() error {
		var next int64
		err := b.db.QueryRowContext(ctx,
			"SELECT coalesce(max(id) + 1, 0) FROM tag_sources WHERE type = ?",
			int(types.TagSourceExternal),
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("allocate source id: %w", err)
		}
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO tag_sources (type, id, name) VALUES (?, ?, ?)",
			int(types.TagSourceExternal), next, name,
		); err != nil {
			return fmt.Errorf("insert tag source: %w", err)
		}
		handle = &TagSourceHandle{b: b, Source: types.TagSource{
			Kind: types.TagSourceExternal, ID: next, Name: name,
		}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// FetchTagSource returns the source at (kind, id). For the system kind the
// id is validated against the known system sources before hitting the
// table.
func (b *Backend) FetchTagSource(ctx context.Context, kind types.TagSourceKind, id int64) (*TagSourceHandle, error) {
	if kind == types.TagSourceSystem {
		switch id {
		case types.SystemSourceManualInsertion, types.SystemSourceTagParenting:
		default:
			return nil, fmt.Errorf("system source id %d: %w", id, types.ErrSystemSourceImmutable)
		}
	}

	handle := &TagSourceHandle{b: b, Source: types.TagSource{Kind: kind, ID: id}}
	err := b.db.QueryRowContext(ctx,
		"SELECT name FROM tag_sources WHERE type = ? AND id = ?", int(kind), id,
	).Scan(&handle.Source.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch tag source (%d, %d): %w", kind, id, err)
	}
	return handle, nil
}

// Delete removes the source. Only external sources may be deleted.
func (s *TagSourceHandle) Delete(ctx context.Context) error {
	if s.Source.Kind != types.TagSourceExternal {
		return types.ErrSystemSourceImmutable
	}
	_, err := s.b.db.ExecContext(ctx,
		"DELETE FROM tag_sources WHERE type = ? AND id = ?",
		int(s.Source.Kind), s.Source.ID,
	)
	if err != nil {
		return fmt.Errorf("delete tag source (%d, %d): %w", s.Source.Kind, s.Source.ID, err)
	}
	return nil
}
