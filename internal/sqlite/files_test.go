package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// writeTestFile drops content into a fresh file and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateFileFromPath(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "test.txt", "awooga")

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)

	assert.Equal(t, path, f.LocalPath)
	expected := ids.Digest([]byte("awooga"))
	assert.Equal(t, expected[:], f.Hash.Data)

	// Indexing the same path again returns the existing row.
	again, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)
	assert.Equal(t, f.Hash.ID, again.Hash.ID)
}

func TestCreateFileFromPathUsesMtime(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "old.txt", "content from the past")

	mtime := time.Date(2019, 3, 20, 16, 58, 11, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{UseFileMtime: true})
	require.NoError(t, err)

	parsed, err := ulid.Parse(f.Hash.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(mtime), parsed.Time())
}

func TestFileTagging(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "test.txt", "awooga")

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)
	tag, err := b.CreateNamedTag(ctx, "test_tag", "en", nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.AddTag(ctx, tag.Core, nil))
	// Re-adding is a silent no-op.
	require.NoError(t, f.AddTag(ctx, tag.Core, nil))

	tags, err := f.FetchTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, tag.Core.ID, tags[0].ID)

	require.NoError(t, f.RemoveTag(ctx, tag.Core))
	tags, err = f.FetchTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestAddTagParentSourceRules(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "test.txt", "awooga")

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)
	tag, err := b.CreateNamedTag(ctx, "test_tag", "en", nil, nil)
	require.NoError(t, err)

	parenting := types.TagSource{Kind: types.TagSourceSystem, ID: types.SystemSourceTagParenting}
	manual := types.TagSource{Kind: types.TagSourceSystem, ID: types.SystemSourceManualInsertion}
	edgeID := int64(1)

	err = f.AddTag(ctx, tag.Core, &TagSourceRef{Source: parenting})
	assert.ErrorIs(t, err, types.ErrParentSourceRequired)

	err = f.AddTag(ctx, tag.Core, &TagSourceRef{Source: manual, ParentSourceID: &edgeID})
	assert.ErrorIs(t, err, types.ErrParentSourceForbidden)
}

func TestFetchFileVariants(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "test.txt", "awooga")

	created, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)

	byID, err := b.FetchFile(ctx, created.Hash.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, path, byID.LocalPath)

	byExact, err := b.FetchFileExact(ctx, created.Hash.ID, path)
	require.NoError(t, err)
	require.NotNil(t, byExact)

	byPath, err := b.FetchFileByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, created.Hash.ID, byPath.Hash.ID)

	byDigest, err := b.FetchFileByDigest(ctx, created.Hash.Data)
	require.NoError(t, err)
	require.NotNil(t, byDigest)
	assert.Equal(t, created.Hash.ID, byDigest.Hash.ID)

	missing, err := b.FetchFileByPath(ctx, "/does/not/exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetLocalPath(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "before.txt", "awooga")

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)

	newPath := filepath.Join(filepath.Dir(path), "after.txt")
	require.NoError(t, f.SetLocalPath(ctx, newPath))
	assert.Equal(t, newPath, f.LocalPath)

	moved, err := b.FetchFileByPath(ctx, newPath)
	require.NoError(t, err)
	require.NotNil(t, moved)

	stale, err := b.FetchFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestDeleteLeavesHashBehind(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()
	path := writeTestFile(t, "test.txt", "awooga")

	f, err := b.CreateFileFromPath(ctx, path, CreateFileOptions{})
	require.NoError(t, err)
	require.NoError(t, f.Delete(ctx))

	gone, err := b.FetchFileByPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// The hash row stays until the janitor sweeps it.
	var count int
	require.NoError(t, b.DB().QueryRow(
		"SELECT count(*) FROM hashes WHERE id = ?", f.Hash.ID).Scan(&count))
	assert.Equal(t, 1, count)
}
