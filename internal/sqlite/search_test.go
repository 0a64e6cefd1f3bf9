package sqlite

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// searchFixture indexes two files: one tagged a, one tagged a and b.
func searchFixture(t *testing.T, b *Backend) (onlyA, both *File) {
	t.Helper()
	ctx := context.Background()

	tagA, err := b.CreateNamedTag(ctx, "a", "en", nil, nil)
	require.NoError(t, err)
	tagB, err := b.CreateNamedTag(ctx, "b", "en", nil, nil)
	require.NoError(t, err)

	onlyA, err = b.CreateFileFromPath(ctx, writeTestFile(t, "only_a.txt", "only a"), CreateFileOptions{})
	require.NoError(t, err)
	both, err = b.CreateFileFromPath(ctx, writeTestFile(t, "both.txt", "a and b"), CreateFileOptions{})
	require.NoError(t, err)

	require.NoError(t, onlyA.AddTag(ctx, tagA.Core, nil))
	require.NoError(t, both.AddTag(ctx, tagA.Core, nil))
	require.NoError(t, both.AddTag(ctx, tagB.Core, nil))
	return onlyA, both
}

func searchIDs(t *testing.T, b *Backend, q string) []string {
	t.Helper()
	files, err := b.SearchFiles(context.Background(), q)
	require.NoError(t, err)
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.Hash.ID
	}
	return ids
}

func TestSearchFiles(t *testing.T) {
	b := testBackend(t)
	onlyA, both := searchFixture(t, b)

	assert.ElementsMatch(t, []string{onlyA.Hash.ID, both.Hash.ID}, searchIDs(t, b, "a"))
	assert.ElementsMatch(t, []string{both.Hash.ID}, searchIDs(t, b, "a b"))
	assert.ElementsMatch(t, []string{onlyA.Hash.ID}, searchIDs(t, b, "a -b"))
	assert.ElementsMatch(t, []string{onlyA.Hash.ID, both.Hash.ID}, searchIDs(t, b, "a | b"))
	assert.ElementsMatch(t, []string{onlyA.Hash.ID, both.Hash.ID}, searchIDs(t, b, ""))
}

func TestSearchFilesByHash(t *testing.T) {
	b := testBackend(t)
	onlyA, _ := searchFixture(t, b)

	q := "hash:" + hex.EncodeToString(onlyA.Hash.Data)
	assert.Equal(t, []string{onlyA.Hash.ID}, searchIDs(t, b, q))

	// An unknown digest matches nothing rather than failing.
	unknown := "hash:" + strings.Repeat("00", 32)
	assert.Empty(t, searchIDs(t, b, unknown))
}

func TestSearchFilesUnknownTag(t *testing.T) {
	b := testBackend(t)
	searchFixture(t, b)

	_, err := b.SearchFiles(context.Background(), "a never_created")
	assert.ErrorIs(t, err, types.ErrUnknownTag)
}

func TestSearchFilesLowTags(t *testing.T) {
	b := testBackend(t)
	onlyA, both := searchFixture(t, b)

	assert.ElementsMatch(t, []string{onlyA.Hash.ID}, searchIDs(t, b, "system:low_tags:2"))
	assert.ElementsMatch(t, []string{onlyA.Hash.ID, both.Hash.ID}, searchIDs(t, b, "system:low_tags:3"))
}
