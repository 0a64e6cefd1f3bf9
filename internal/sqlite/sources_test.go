package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

func TestCreateTagSourceAllocatesMonotonicIDs(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	first, err := b.CreateTagSource(ctx, "booru import")
	require.NoError(t, err)
	second, err := b.CreateTagSource(ctx, "exif extractor")
	require.NoError(t, err)

	assert.Equal(t, types.TagSourceExternal, first.Source.Kind)
	assert.Equal(t, first.Source.ID+1, second.Source.ID)
}

func TestFetchTagSource(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	manual, err := b.FetchTagSource(ctx, types.TagSourceSystem, types.SystemSourceManualInsertion)
	require.NoError(t, err)
	require.NotNil(t, manual)
	assert.Equal(t, "manual insertion", manual.Source.Name)

	parenting, err := b.FetchTagSource(ctx, types.TagSourceSystem, types.SystemSourceTagParenting)
	require.NoError(t, err)
	require.NotNil(t, parenting)
	assert.Equal(t, "tag parenting", parenting.Source.Name)

	// Ids outside the system enum are rejected before hitting the table.
	_, err = b.FetchTagSource(ctx, types.TagSourceSystem, 99)
	assert.ErrorIs(t, err, types.ErrSystemSourceImmutable)

	missing, err := b.FetchTagSource(ctx, types.TagSourceExternal, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTagSourceDelete(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	external, err := b.CreateTagSource(ctx, "short lived")
	require.NoError(t, err)
	require.NoError(t, external.Delete(ctx))

	gone, err := b.FetchTagSource(ctx, types.TagSourceExternal, external.Source.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	system, err := b.FetchTagSource(ctx, types.TagSourceSystem, types.SystemSourceManualInsertion)
	require.NoError(t, err)
	assert.ErrorIs(t, system.Delete(ctx), types.ErrSystemSourceImmutable)
}
