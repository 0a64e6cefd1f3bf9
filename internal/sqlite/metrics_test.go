package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetrics(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	tag, err := b.CreateNamedTag(ctx, "metric_tag", "en", nil, nil)
	require.NoError(t, err)
	f, err := b.CreateFileFromPath(ctx, writeTestFile(t, "m.txt", "metrics"), CreateFileOptions{})
	require.NoError(t, err)
	require.NoError(t, f.AddTag(ctx, tag.Core, nil))

	now := time.Now()
	require.NoError(t, b.RecordMetrics(ctx, now))

	var fileCount int
	require.NoError(t, b.DB().QueryRow(
		"SELECT value FROM metrics_count_files WHERE timestamp = ?", now.Unix(),
	).Scan(&fileCount))
	assert.Equal(t, 1, fileCount)

	var usage int
	require.NoError(t, b.DB().QueryRow(
		`SELECT relationship_count FROM metrics_tag_usage_values
		 WHERE timestamp = ? AND core_hash = ?`, now.Unix(), tag.Core.ID,
	).Scan(&usage))
	assert.Equal(t, 1, usage)

	// Recording within the same second overwrites rather than failing.
	require.NoError(t, b.RecordMetrics(ctx, now))
}
