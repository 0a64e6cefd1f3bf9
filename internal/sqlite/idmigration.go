package sqlite

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
)

// Migration 8 rewrites hash identity from integer rowids to 26-character
// time-ordered identifiers. Every table that references a hash is rebuilt
// with text columns, renumbered through a temporary old->new map.
//
// PRAGMA foreign_keys is a no-op inside a transaction, so this step runs
// outside the engine's exclusive transaction: it switches the pragma off,
// does the whole rebuild in its own exclusive transaction, verifies
// foreign_key_check and integrity_check before commit, and switches the
// pragma back on.

const schemaUlidRebuild = `
CREATE TABLE id_migration_map (
    old INTEGER PRIMARY KEY,
    new TEXT NOT NULL UNIQUE
);

CREATE TABLE hashes_new (
    id TEXT PRIMARY KEY,
    hash_data BLOB NOT NULL
        CONSTRAINT hashes_length CHECK (length(hash_data) == 32)
        CONSTRAINT hashes_unique UNIQUE
) STRICT;

CREATE TABLE tag_cores_new (
    core_hash TEXT PRIMARY KEY
        CONSTRAINT tag_cores_hash_fk REFERENCES hashes_new (id) ON DELETE RESTRICT,
    core_data BLOB NOT NULL
) STRICT;

CREATE TABLE tag_names_new (
    tag_text TEXT NOT NULL,
    tag_language TEXT NOT NULL,
    core_hash TEXT NOT NULL
        CONSTRAINT tag_names_core_fk REFERENCES tag_cores_new (core_hash) ON DELETE CASCADE,
    CONSTRAINT tag_names_pk PRIMARY KEY (tag_text, tag_language, core_hash)
) STRICT;

CREATE TABLE files_new (
    file_hash TEXT NOT NULL
        CONSTRAINT files_hash_fk REFERENCES hashes_new (id) ON DELETE RESTRICT,
    local_path TEXT NOT NULL
        CONSTRAINT files_path_unique UNIQUE,
    CONSTRAINT files_pk PRIMARY KEY (file_hash, local_path)
) STRICT;

CREATE TABLE tag_files_new (
    file_hash TEXT NOT NULL
        CONSTRAINT tag_files_file_fk REFERENCES hashes_new (id) ON DELETE CASCADE,
    core_hash TEXT NOT NULL
        CONSTRAINT tag_files_core_fk REFERENCES tag_cores_new (core_hash) ON DELETE CASCADE,
    tag_source_type INTEGER NOT NULL DEFAULT 0,
    tag_source_id INTEGER NOT NULL DEFAULT 0,
    parent_source_id INTEGER,
    CONSTRAINT tag_files_pk PRIMARY KEY (file_hash, core_hash),
    CONSTRAINT tag_files_source_fk FOREIGN KEY (tag_source_type, tag_source_id)
        REFERENCES tag_sources (type, id) ON DELETE RESTRICT
) STRICT;

CREATE TABLE tag_implications_new (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    child_tag TEXT NOT NULL
        CONSTRAINT tag_implications_child_fk REFERENCES tag_cores_new (core_hash) ON DELETE CASCADE,
    parent_tag TEXT NOT NULL
        CONSTRAINT tag_implications_parent_fk REFERENCES tag_cores_new (core_hash) ON DELETE CASCADE,
    CONSTRAINT tag_implications_edge_unique UNIQUE (child_tag, parent_tag)
) STRICT;

CREATE TABLE pools_new (
    pool_hash TEXT PRIMARY KEY
        CONSTRAINT pools_hash_fk REFERENCES hashes_new (id) ON DELETE RESTRICT,
    pool_core_data BLOB NOT NULL,
    title TEXT NOT NULL
) STRICT;

CREATE TABLE pool_entries_new (
    file_hash TEXT NOT NULL
        CONSTRAINT pool_entries_file_fk REFERENCES hashes_new (id) ON DELETE CASCADE,
    pool_hash TEXT NOT NULL
        CONSTRAINT pool_entries_pool_fk REFERENCES pools_new (pool_hash) ON DELETE CASCADE,
    entry_index INTEGER NOT NULL,
    CONSTRAINT pool_entries_pk PRIMARY KEY (file_hash, pool_hash),
    CONSTRAINT pool_entries_index_unique UNIQUE (pool_hash, entry_index)
) STRICT;

CREATE TABLE metrics_tag_usage_values_new (
    timestamp INTEGER NOT NULL
        CONSTRAINT metrics_tag_usage_ts_fk
        REFERENCES metrics_tag_usage_timestamps (timestamp) ON DELETE CASCADE,
    core_hash TEXT NOT NULL,
    relationship_count INTEGER NOT NULL,
    CONSTRAINT metrics_tag_usage_pk PRIMARY KEY (timestamp, core_hash)
) STRICT;
`

const schemaUlidCopy = `
INSERT INTO hashes_new (id, hash_data)
    SELECT m.new, h.hash_data FROM hashes h JOIN id_migration_map m ON m.old = h.id;
INSERT INTO tag_cores_new (core_hash, core_data)
    SELECT m.new, tc.core_data FROM tag_cores tc JOIN id_migration_map m ON m.old = tc.core_hash;
INSERT INTO tag_names_new (tag_text, tag_language, core_hash)
    SELECT tn.tag_text, tn.tag_language, m.new
    FROM tag_names tn JOIN id_migration_map m ON m.old = tn.core_hash;
INSERT INTO files_new (file_hash, local_path)
    SELECT m.new, f.local_path FROM files f JOIN id_migration_map m ON m.old = f.file_hash;
INSERT INTO tag_files_new (file_hash, core_hash, tag_source_type, tag_source_id, parent_source_id)
    SELECT mf.new, mc.new, tf.tag_source_type, tf.tag_source_id, tf.parent_source_id
    FROM tag_files tf
    JOIN id_migration_map mf ON mf.old = tf.file_hash
    JOIN id_migration_map mc ON mc.old = tf.core_hash;
INSERT INTO tag_implications_new (id, child_tag, parent_tag)
    SELECT ti.id, mc.new, mp.new
    FROM tag_implications ti
    JOIN id_migration_map mc ON mc.old = ti.child_tag
    JOIN id_migration_map mp ON mp.old = ti.parent_tag;
INSERT INTO pools_new (pool_hash, pool_core_data, title)
    SELECT m.new, p.pool_core_data, p.title FROM pools p JOIN id_migration_map m ON m.old = p.pool_hash;
INSERT INTO pool_entries_new (file_hash, pool_hash, entry_index)
    SELECT mf.new, mp.new, pe.entry_index
    FROM pool_entries pe
    JOIN id_migration_map mf ON mf.old = pe.file_hash
    JOIN id_migration_map mp ON mp.old = pe.pool_hash;
INSERT INTO metrics_tag_usage_values_new (timestamp, core_hash, relationship_count)
    SELECT mv.timestamp, m.new, mv.relationship_count
    FROM metrics_tag_usage_values mv JOIN id_migration_map m ON m.old = mv.core_hash;
`

const schemaUlidSwap = `
DROP TABLE metrics_tag_usage_values;
DROP TABLE pool_entries;
DROP TABLE pools;
DROP TABLE tag_implications;
DROP TABLE tag_files;
DROP TABLE files;
DROP TABLE tag_names;
DROP TABLE tag_cores;
DROP TABLE hashes;
ALTER TABLE hashes_new RENAME TO hashes;
ALTER TABLE tag_cores_new RENAME TO tag_cores;
ALTER TABLE tag_names_new RENAME TO tag_names;
ALTER TABLE files_new RENAME TO files;
ALTER TABLE tag_files_new RENAME TO tag_files;
ALTER TABLE tag_implications_new RENAME TO tag_implications;
ALTER TABLE pools_new RENAME TO pools;
ALTER TABLE pool_entries_new RENAME TO pool_entries;
ALTER TABLE metrics_tag_usage_values_new RENAME TO metrics_tag_usage_values;
DROP TABLE id_migration_map;
`

func migrateHashIdentifiers(ctx context.Context, b *Backend) error {
	if _, err := b.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		_, _ = b.db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	}()

	if _, err := b.db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("begin id migration: %w", err)
	}
	if err := rebuildWithUlids(ctx, b); err != nil {
		_, _ = b.db.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := b.db.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = b.db.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("commit id migration: %w", err)
	}
	return nil
}

func rebuildWithUlids(ctx context.Context, b *Backend) error {
	if _, err := b.db.ExecContext(ctx, schemaUlidRebuild); err != nil {
		return fmt.Errorf("create rebuilt tables: %w", err)
	}

	oldIDs, err := b.legacyHashIDs(ctx)
	if err != nil {
		return err
	}
	// Minted in ascending rowid order so relative insertion order survives
	// into the lexicographic order of the new identifiers.
	for _, old := range oldIDs {
		if _, err := b.db.ExecContext(ctx,
			"INSERT INTO id_migration_map (old, new) VALUES (?, ?)", old, ids.New(),
		); err != nil {
			return fmt.Errorf("map hash id %d: %w", old, err)
		}
	}

	if _, err := b.db.ExecContext(ctx, schemaUlidCopy); err != nil {
		return fmt.Errorf("copy rows into rebuilt tables: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, schemaUlidSwap); err != nil {
		return fmt.Errorf("swap rebuilt tables in: %w", err)
	}

	// Both checks must pass while the transaction is still open; a dangling
	// reference here means the rebuild is wrong and must not land.
	if err := b.CheckForeignKeys(ctx); err != nil {
		return err
	}
	if err := b.CheckIntegrity(ctx); err != nil {
		return err
	}
	return nil
}

func (b *Backend) legacyHashIDs(ctx context.Context) ([]int64, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id FROM hashes ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("read legacy hash ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan legacy hash id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy hash ids: %w", err)
	}
	return out, nil
}
