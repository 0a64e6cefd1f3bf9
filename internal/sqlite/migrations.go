package sqlite

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mesh-intelligence/awtfdb/internal/paths"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// migration is one step of schema history. Exactly one of sql and run is
// set. Steps with transaction false cannot live inside the engine's
// exclusive transaction (journal mode and foreign key pragmas are no-ops
// there) and are executed bare, managing their own atomicity.
type migration struct {
	version     int
	name        string
	transaction bool
	sql         string
	run         func(ctx context.Context, b *Backend) error
}

var migrations = []migration{
	{1, "initial schema", true, schemaInitial, nil},
	{2, "unique local paths", true, schemaUniquePaths, nil},
	{3, "tag implications", true, schemaTagImplications, nil},
	{4, "pools", true, schemaPools, nil},
	{5, "metrics count tables", true, schemaMetricsCounts, nil},
	{6, "tag sources", true, schemaTagSources, nil},
	{7, "tag usage metrics", true, schemaMetricsTagUsage, nil},
	{8, "ulid hash identifiers", false, "", migrateHashIdentifiers},
	{9, "library configuration", true, schemaLibraryConfiguration, nil},
	{10, "journal mode wal", false, "", migrateJournalModeWAL},
	{11, "secondary indexes", true, schemaSecondaryIndexes, nil},
}

// migrateJournalModeWAL switches the database to write-ahead logging. The
// pragma reports the resulting mode; anything but wal means the switch did
// not take. An in-memory database always keeps its memory journal, so it is
// left as it is.
func migrateJournalModeWAL(ctx context.Context, b *Backend) error {
	if strings.Contains(b.path, ":memory:") {
		return nil
	}
	var mode string
	if err := b.db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return fmt.Errorf("switch journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal mode is %q, expected wal", mode)
	}
	return nil
}

// SchemaVersion is the version a fully migrated database reports.
const SchemaVersion = 11

// runMigrations applies every migration past the database's current
// version. The database file is copied to a sibling backup first, each
// transactional step runs under its own savepoint inside one exclusive
// transaction, and the run finishes with integrity and foreign key checks.
// A database that is already current is left untouched.
func (b *Backend) runMigrations(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migration_logs (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	) STRICT`)
	if err != nil {
		return fmt.Errorf("create migration_logs: %w", err)
	}

	current, err := b.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	if err := b.backupDatabase(ctx); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}

	if _, err := b.db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	inTx := true
	abort := func() {
		if inTx {
			_, _ = b.db.ExecContext(ctx, "ROLLBACK")
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if !m.transaction {
			if _, err := b.db.ExecContext(ctx, "COMMIT"); err != nil {
				abort()
				return fmt.Errorf("commit before migration %d: %w", m.version, err)
			}
			inTx = false
			if err := b.applyMigration(ctx, m); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			if err := b.logMigration(ctx, m); err != nil {
				return fmt.Errorf("log migration %d: %w", m.version, err)
			}
			if _, err := b.db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
				return fmt.Errorf("reopen migration transaction: %w", err)
			}
			inTx = true
			continue
		}

		sp := fmt.Sprintf("migration_%d", m.version)
		if _, err := b.db.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			abort()
			return fmt.Errorf("open savepoint for migration %d: %w", m.version, err)
		}
		if err := b.applyMigration(ctx, m); err != nil {
			_, _ = b.db.ExecContext(ctx, "ROLLBACK TO "+sp)
			_, _ = b.db.ExecContext(ctx, "RELEASE "+sp)
			abort()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := b.logMigration(ctx, m); err != nil {
			_, _ = b.db.ExecContext(ctx, "ROLLBACK TO "+sp)
			_, _ = b.db.ExecContext(ctx, "RELEASE "+sp)
			abort()
			return fmt.Errorf("log migration %d: %w", m.version, err)
		}
		if _, err := b.db.ExecContext(ctx, "RELEASE "+sp); err != nil {
			abort()
			return fmt.Errorf("release savepoint for migration %d: %w", m.version, err)
		}
	}

	if inTx {
		if _, err := b.db.ExecContext(ctx, "COMMIT"); err != nil {
			abort()
			return fmt.Errorf("commit migrations: %w", err)
		}
	}

	if err := b.CheckIntegrity(ctx); err != nil {
		return err
	}
	return b.CheckForeignKeys(ctx)
}

func (b *Backend) applyMigration(ctx context.Context, m migration) error {
	if m.run != nil {
		return m.run(ctx, b)
	}
	_, err := b.db.ExecContext(ctx, m.sql)
	return err
}

func (b *Backend) logMigration(ctx context.Context, m migration) error {
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO migration_logs (version, applied_at, description) VALUES (?, ?, ?)",
		m.version, time.Now().Unix(), m.name,
	)
	return err
}

// currentVersion returns the highest applied migration version, 0 for a
// fresh database.
func (b *Backend) currentVersion(ctx context.Context) (int, error) {
	var v int
	err := b.db.QueryRowContext(ctx,
		"SELECT coalesce(max(version), 0) FROM migration_logs",
	).Scan(&v)
	return v, err
}

// backupDatabase copies the database file to its sibling backup path. The
// WAL is checkpointed first so the copy is self-contained.
func (b *Backend) backupDatabase(ctx context.Context) error {
	if strings.Contains(b.path, ":memory:") {
		return nil
	}
	var busy, logged, checkpointed int
	_ = b.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").
		Scan(&busy, &logged, &checkpointed)

	src, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(paths.BackupPath(b.path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// CheckIntegrity runs PRAGMA integrity_check and fails unless it reports
// exactly "ok".
func (b *Backend) CheckIntegrity(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("scan integrity_check row: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate integrity_check rows: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrFailedIntegrityCheck, strings.Join(problems, "; "))
	}
	return nil
}

// CheckForeignKeys runs PRAGMA foreign_key_check; any returned row is a
// dangling reference and fails the check.
func (b *Backend) CheckForeignKeys(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign_key_check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var table, parent string
		var rowid, fkid any
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("scan foreign_key_check row: %w", err)
		}
		problems = append(problems, fmt.Sprintf("%s row %v -> %s", table, rowid, parent))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign_key_check rows: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrFailedForeignKeyCheck, strings.Join(problems, "; "))
	}
	return nil
}
