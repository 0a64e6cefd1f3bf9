package sqlite

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/awtfdb/internal/query"
)

// Tag texts in queries resolve through this language.
const queryTagLanguage = "en"

// hash ids are 26 characters, so a single dash can never collide with a
// real id; binding it makes a query over an unknown digest return nothing
// instead of failing.
const unknownHashPlaceholder = "-"

// SearchFiles compiles q, resolves its arguments, and executes it. A tag
// the index has never seen is an error (types.ErrUnknownTag); an unknown
// file digest just makes the query match nothing.
func (b *Backend) SearchFiles(ctx context.Context, q string) ([]*File, error) {
	compiled, err := query.Compile(q)
	if err != nil {
		return nil, err
	}

	args, err := b.resolveQueryArgs(ctx, compiled.Args)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, compiled.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	var fileIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		fileIDs = append(fileIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	files := make([]*File, 0, len(fileIDs))
	for _, id := range fileIDs {
		f, err := b.FetchFile(ctx, id)
		if err != nil {
			return nil, err
		}
		if f != nil {
			files = append(files, f)
		}
	}
	return files, nil
}

func (b *Backend) resolveQueryArgs(ctx context.Context, args []query.Arg) ([]any, error) {
	resolved := make([]any, 0, len(args))
	for _, a := range args {
		switch a.Kind {
		case query.ArgTag:
			tag, err := b.FetchNamedTag(ctx, a.Text, queryTagLanguage)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, tag.Core.ID)
		case query.ArgFileHash:
			id, ok, err := b.FetchHashID(ctx, a.Hash)
			if err != nil {
				return nil, err
			}
			if !ok {
				id = unknownHashPlaceholder
			}
			resolved = append(resolved, id)
		default:
			return nil, fmt.Errorf("unhandled argument kind %d", a.Kind)
		}
	}
	return resolved, nil
}
