package sqlite

// DDL for each migration step. Earlier steps describe historical schema
// states: hash identifiers start life as integer rowids and become text
// identifiers in the id migration, so a fresh database replays the same
// history an old one lived through.

// Migration 1: initial schema.
const schemaInitial = `
CREATE TABLE hashes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash_data BLOB NOT NULL
        CONSTRAINT hashes_length CHECK (length(hash_data) == 32)
        CONSTRAINT hashes_unique UNIQUE
) STRICT;

CREATE TABLE tag_cores (
    core_hash INTEGER PRIMARY KEY
        CONSTRAINT tag_cores_hash_fk REFERENCES hashes (id) ON DELETE RESTRICT,
    core_data BLOB NOT NULL
) STRICT;

CREATE TABLE tag_names (
    tag_text TEXT NOT NULL,
    tag_language TEXT NOT NULL,
    core_hash INTEGER NOT NULL
        CONSTRAINT tag_names_core_fk REFERENCES tag_cores (core_hash) ON DELETE CASCADE,
    CONSTRAINT tag_names_pk PRIMARY KEY (tag_text, tag_language, core_hash)
) STRICT;

CREATE TABLE files (
    file_hash INTEGER NOT NULL
        CONSTRAINT files_hash_fk REFERENCES hashes (id) ON DELETE RESTRICT,
    local_path TEXT NOT NULL,
    CONSTRAINT files_pk PRIMARY KEY (file_hash, local_path)
) STRICT;

CREATE TABLE tag_files (
    file_hash INTEGER NOT NULL
        CONSTRAINT tag_files_file_fk REFERENCES hashes (id) ON DELETE CASCADE,
    core_hash INTEGER NOT NULL
        CONSTRAINT tag_files_core_fk REFERENCES tag_cores (core_hash) ON DELETE CASCADE,
    CONSTRAINT tag_files_pk PRIMARY KEY (file_hash, core_hash)
) STRICT;
`

// Migration 2: local_path becomes unique on its own. SQLite cannot add a
// unique constraint in place, so the table is rebuilt.
const schemaUniquePaths = `
CREATE TABLE files_new (
    file_hash INTEGER NOT NULL
        CONSTRAINT files_hash_fk REFERENCES hashes (id) ON DELETE RESTRICT,
    local_path TEXT NOT NULL
        CONSTRAINT files_path_unique UNIQUE,
    CONSTRAINT files_pk PRIMARY KEY (file_hash, local_path)
) STRICT;
INSERT INTO files_new SELECT file_hash, local_path FROM files;
DROP TABLE files;
ALTER TABLE files_new RENAME TO files;
`

// Migration 3: directed child-implies-parent edges between tag cores. The
// integer id is what inferred tag-file links point back at.
const schemaTagImplications = `
CREATE TABLE tag_implications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    child_tag INTEGER NOT NULL
        CONSTRAINT tag_implications_child_fk REFERENCES tag_cores (core_hash) ON DELETE CASCADE,
    parent_tag INTEGER NOT NULL
        CONSTRAINT tag_implications_parent_fk REFERENCES tag_cores (core_hash) ON DELETE CASCADE,
    CONSTRAINT tag_implications_edge_unique UNIQUE (child_tag, parent_tag)
) STRICT;
`

// Migration 4: ordered file collections.
const schemaPools = `
CREATE TABLE pools (
    pool_hash INTEGER PRIMARY KEY
        CONSTRAINT pools_hash_fk REFERENCES hashes (id) ON DELETE RESTRICT,
    pool_core_data BLOB NOT NULL,
    title TEXT NOT NULL
) STRICT;

CREATE TABLE pool_entries (
    file_hash INTEGER NOT NULL
        CONSTRAINT pool_entries_file_fk REFERENCES hashes (id) ON DELETE CASCADE,
    pool_hash INTEGER NOT NULL
        CONSTRAINT pool_entries_pool_fk REFERENCES pools (pool_hash) ON DELETE CASCADE,
    entry_index INTEGER NOT NULL,
    CONSTRAINT pool_entries_pk PRIMARY KEY (file_hash, pool_hash),
    CONSTRAINT pool_entries_index_unique UNIQUE (pool_hash, entry_index)
) STRICT;
`

// Migration 5: timestamped entity counters.
const schemaMetricsCounts = `
CREATE TABLE metrics_count_files (
    timestamp INTEGER PRIMARY KEY,
    value INTEGER NOT NULL
) STRICT;
CREATE TABLE metrics_count_tag_cores (
    timestamp INTEGER PRIMARY KEY,
    value INTEGER NOT NULL
) STRICT;
CREATE TABLE metrics_count_tag_names (
    timestamp INTEGER PRIMARY KEY,
    value INTEGER NOT NULL
) STRICT;
CREATE TABLE metrics_count_tag_files (
    timestamp INTEGER PRIMARY KEY,
    value INTEGER NOT NULL
) STRICT;
`

// Migration 6: tag sources, and tag_files extended to record them. The two
// system sources are seeded here; external sources number their ids
// separately, within their own type, starting at 0.
const schemaTagSources = `
CREATE TABLE tag_sources (
    type INTEGER NOT NULL,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    CONSTRAINT tag_sources_pk PRIMARY KEY (type, id)
) STRICT;
INSERT INTO tag_sources (type, id, name) VALUES
    (0, 0, 'manual insertion'),
    (0, 1, 'tag parenting');

CREATE TABLE tag_files_new (
    file_hash INTEGER NOT NULL
        CONSTRAINT tag_files_file_fk REFERENCES hashes (id) ON DELETE CASCADE,
    core_hash INTEGER NOT NULL
        CONSTRAINT tag_files_core_fk REFERENCES tag_cores (core_hash) ON DELETE CASCADE,
    tag_source_type INTEGER NOT NULL DEFAULT 0,
    tag_source_id INTEGER NOT NULL DEFAULT 0,
    parent_source_id INTEGER,
    CONSTRAINT tag_files_pk PRIMARY KEY (file_hash, core_hash),
    CONSTRAINT tag_files_source_fk FOREIGN KEY (tag_source_type, tag_source_id)
        REFERENCES tag_sources (type, id) ON DELETE RESTRICT
) STRICT;
INSERT INTO tag_files_new (file_hash, core_hash)
    SELECT file_hash, core_hash FROM tag_files;
DROP TABLE tag_files;
ALTER TABLE tag_files_new RENAME TO tag_files;
`

// Migration 7: per-core usage counts, grouped under shared timestamps.
const schemaMetricsTagUsage = `
CREATE TABLE metrics_tag_usage_timestamps (
    timestamp INTEGER PRIMARY KEY
) STRICT;
CREATE TABLE metrics_tag_usage_values (
    timestamp INTEGER NOT NULL
        CONSTRAINT metrics_tag_usage_ts_fk
        REFERENCES metrics_tag_usage_timestamps (timestamp) ON DELETE CASCADE,
    core_hash INTEGER NOT NULL,
    relationship_count INTEGER NOT NULL,
    CONSTRAINT metrics_tag_usage_pk PRIMARY KEY (timestamp, core_hash)
) STRICT;
`

// Migration 9: key/value library configuration.
const schemaLibraryConfiguration = `
CREATE TABLE library_configuration (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) STRICT;
`

// Migration 11: secondary indexes for the hot lookups.
const schemaSecondaryIndexes = `
CREATE INDEX idx_tag_files_file_hash ON tag_files (file_hash);
CREATE INDEX idx_tag_files_core_hash ON tag_files (core_hash);
CREATE INDEX idx_tag_names_core_hash ON tag_names (core_hash);
CREATE INDEX idx_metrics_tag_usage_values_core_hash ON metrics_tag_usage_values (core_hash);
`
