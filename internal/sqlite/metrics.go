package sqlite

import (
	"context"
	"fmt"
	"time"
)

// countMetricTables maps each count-metric table to the entity table it
// snapshots.
var countMetricTables = map[string]string{
	"metrics_count_files":     "files",
	"metrics_count_tag_cores": "tag_cores",
	"metrics_count_tag_names": "tag_names",
	"metrics_count_tag_files": "tag_files",
}

// RecordMetrics snapshots entity counts and per-core usage counts under the
// given instant. Re-recording within the same second overwrites the counts
// for that second.
func (b *Backend) RecordMetrics(ctx context.Context, now time.Time) error {
	ts := now.Unix()
	return b.WithSavepoint(ctx, "record_metrics", func() error {
		for metricTable, entityTable := range countMetricTables {
			query := fmt.Sprintf(
				`INSERT INTO %s (timestamp, value)
				 VALUES (?, (SELECT count(*) FROM %s))
				 ON CONFLICT (timestamp) DO UPDATE SET value = excluded.value`,
				metricTable, entityTable,
			)
			if _, err := b.db.ExecContext(ctx, query, ts); err != nil {
				return fmt.Errorf("record %s: %w", metricTable, err)
			}
		}

		if _, err := b.db.ExecContext(ctx,
			`INSERT INTO metrics_tag_usage_timestamps (timestamp) VALUES (?)
			 ON CONFLICT (timestamp) DO NOTHING`, ts,
		); err != nil {
			return fmt.Errorf("record tag usage timestamp: %w", err)
		}
		if _, err := b.db.ExecContext(ctx,
			`INSERT INTO metrics_tag_usage_values (timestamp, core_hash, relationship_count)
			 SELECT ?, core_hash, count(*) FROM tag_files GROUP BY core_hash
			 ON CONFLICT (timestamp, core_hash) DO UPDATE
			     SET relationship_count = excluded.relationship_count`, ts,
		); err != nil {
			return fmt.Errorf("record tag usage values: %w", err)
		}
		return nil
	})
}
