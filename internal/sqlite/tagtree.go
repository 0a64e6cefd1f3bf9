package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// implicationEdge is one tag_implications row, loaded into memory for the
// closure pass.
type implicationEdge struct {
	rowID  int64
	parent string
}

// inferredLink keys the working set of the closure: which parent core a
// file should gain, and which edge caused it.
type inferredLink struct {
	parent string
	rowID  int64
}

// ProcessTagTree materialises parent implications onto files: for every
// file in scope and every implication edge reachable from its tags, the
// parent core is linked to the file with the tag parenting source and the
// causing edge's id. With no files given, every file is processed.
//
// The working set only grows and is bounded by the edge set, so the loop
// reaches a fixed point even on cyclic implication graphs.
func (b *Backend) ProcessTagTree(ctx context.Context, files ...*File) error {
	edges, err := b.loadImplicationEdges(ctx)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	if len(files) == 0 {
		files, err = b.allFiles(ctx)
		if err != nil {
			return err
		}
	}

	for _, f := range files {
		if err := b.processFileTree(ctx, f, edges); err != nil {
			return fmt.Errorf("process tag tree of %s: %w", f.Hash.ID, err)
		}
	}
	return nil
}

func (b *Backend) processFileTree(ctx context.Context, f *File, edges map[string][]implicationEdge) error {
	tags, err := f.FetchTags(ctx)
	if err != nil {
		return err
	}

	existing := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		existing[t.ID] = struct{}{}
	}

	working := make(map[inferredLink]struct{})
	for {
		before := len(working)
		var additions []inferredLink
		for _, t := range tags {
			for _, e := range edges[t.ID] {
				additions = append(additions, inferredLink{parent: e.parent, rowID: e.rowID})
			}
		}
		for link := range working {
			for _, e := range edges[link.parent] {
				additions = append(additions, inferredLink{parent: e.parent, rowID: e.rowID})
			}
		}
		for _, a := range additions {
			working[a] = struct{}{}
		}
		if len(working) == before {
			break
		}
	}

	// Stable insertion order keeps the winning edge deterministic when two
	// edges imply the same parent: lowest edge id inserts first, later ones
	// hit the primary key and no-op.
	links := make([]inferredLink, 0, len(working))
	for link := range working {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].rowID != links[j].rowID {
			return links[i].rowID < links[j].rowID
		}
		return links[i].parent < links[j].parent
	})

	for _, link := range links {
		if _, ok := existing[link.parent]; ok {
			continue
		}
		rowID := link.rowID
		err := f.AddTag(ctx, types.Hash{ID: link.parent}, &TagSourceRef{
			Source: types.TagSource{
				Kind: types.TagSourceSystem,
				ID:   types.SystemSourceTagParenting,
			},
			ParentSourceID: &rowID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) loadImplicationEdges(ctx context.Context) (map[string][]implicationEdge, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT id, child_tag, parent_tag FROM tag_implications",
	)
	if err != nil {
		return nil, fmt.Errorf("load implication edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]implicationEdge)
	for rows.Next() {
		var rowID int64
		var child, parent string
		if err := rows.Scan(&rowID, &child, &parent); err != nil {
			return nil, fmt.Errorf("scan implication edge: %w", err)
		}
		edges[child] = append(edges[child], implicationEdge{rowID: rowID, parent: parent})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate implication edges: %w", err)
	}
	return edges, nil
}

func (b *Backend) allFiles(ctx context.Context) ([]*File, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT f.file_hash, h.hash_data, f.local_path
		 FROM files f JOIN hashes h ON h.id = f.file_hash`,
	)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{b: b}
		if err := rows.Scan(&f.Hash.ID, &f.Hash.Data, &f.LocalPath); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}
