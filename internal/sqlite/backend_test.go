package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/awtfdb/internal/paths"
)

// testBackend opens a fresh database in a temporary directory, fully
// migrated and closed with the test.
func testBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), filepath.Join(t.TempDir(), "awtf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	b, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	version, err := b.currentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	// The in-memory store is fully usable without touching disk.
	tag, err := b.CreateNamedTag(ctx, "memory_tag", "en", nil, nil)
	require.NoError(t, err)
	fetched, err := b.FetchNamedTag(ctx, "memory_tag", "en")
	require.NoError(t, err)
	assert.Equal(t, tag.Core.ID, fetched.Core.ID)
}

func TestOpenMigratesToCurrentVersion(t *testing.T) {
	b := testBackend(t)

	version, err := b.currentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	var logged int
	err = b.DB().QueryRow("SELECT count(*) FROM migration_logs").Scan(&logged)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, logged, "one log row per migration step")
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "awtf.db")

	b, err := Open(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// Reopening an already-current database applies nothing.
	b, err = Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var logged int
	err = b.DB().QueryRow("SELECT count(*) FROM migration_logs").Scan(&logged)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, logged)
}

func TestOpenWritesMigrationBackup(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "awtf.db")

	b, err := Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = os.Stat(paths.BackupPath(dbPath))
	assert.NoError(t, err, "sibling backup should exist after migrating")
}

func TestMigratedSchemaPassesChecks(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	assert.NoError(t, b.CheckIntegrity(ctx))
	assert.NoError(t, b.CheckForeignKeys(ctx))
}

func TestSystemSourcesAreSeeded(t *testing.T) {
	b := testBackend(t)

	var names []string
	rows, err := b.DB().Query("SELECT name FROM tag_sources WHERE type = 0 ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"manual insertion", "tag parenting"}, names)
}

func TestWithSavepointRollsBack(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	boom := assert.AnError
	err := b.WithSavepoint(ctx, "test", func() error {
		_, err := b.DB().Exec(
			"INSERT INTO library_configuration (key, value) VALUES ('doomed', 'x')")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, b.DB().QueryRow(
		"SELECT count(*) FROM library_configuration WHERE key = 'doomed'",
	).Scan(&count))
	assert.Zero(t, count)
}
