// Package sqlite implements the storage core of the index: the schema and
// its migrations, the content-addressed domain API, and the tag-tree
// propagation engine, all over a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// Backend owns the process's connection to one database file. Entity
// handles returned by its methods borrow the connection and must not be
// used after Close.
type Backend struct {
	db   *sql.DB
	path string

	mu         sync.Mutex
	savepoints int

	regexMu      sync.Mutex
	regexLoaded  bool
	tagNameGuard *tagNameGuard
}

// Open opens (or creates) the database at path and brings its schema up to
// date. The connection is limited to a single underlying handle: the core
// is a single-writer design and savepoints must all land on one session.
func Open(ctx context.Context, path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfigFail, err)
	}
	db.SetMaxOpenConns(1)

	// Fail now, with the config error kind, rather than on first use.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrConfigFail, err)
	}

	b := &Backend{db: db, path: path}
	if err := b.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

// OpenMemory opens a fresh in-memory database, fully migrated. The single
// connection keeps it alive until Close. No migration backup is written:
// there is no file to copy.
func OpenMemory(ctx context.Context) (*Backend, error) {
	return Open(ctx, ":memory:")
}

// Close releases the connection. Query planner statistics are refreshed
// first so the next process starts with usable indexes.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	var limit int
	_ = b.db.QueryRow("PRAGMA analysis_limit = 1000").Scan(&limit)
	_, _ = b.db.Exec("PRAGMA optimize")
	err := b.db.Close()
	b.db = nil
	return err
}

// DB returns the underlying *sql.DB for direct queries. Use sparingly;
// prefer adding methods to Backend.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Path returns the database file path this backend was opened with.
func (b *Backend) Path() string {
	return b.path
}

// WithSavepoint runs fn inside a named savepoint. The savepoint is released
// on success and rolled back when fn returns an error, leaving the database
// as it was before the call. Savepoints nest.
func (b *Backend) WithSavepoint(ctx context.Context, name string, fn func() error) error {
	b.mu.Lock()
	b.savepoints++
	sp := fmt.Sprintf("%s_%d", name, b.savepoints)
	b.mu.Unlock()

	if _, err := b.db.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("open savepoint %s: %w", sp, err)
	}
	if err := fn(); err != nil {
		_, _ = b.db.ExecContext(ctx, "ROLLBACK TO "+sp)
		_, _ = b.db.ExecContext(ctx, "RELEASE "+sp)
		return err
	}
	if _, err := b.db.ExecContext(ctx, "RELEASE "+sp); err != nil {
		return fmt.Errorf("release savepoint %s: %w", sp, err)
	}
	return nil
}

// tagNameGuard caches the compiled tag name pattern in both full-span and
// unanchored forms. The unanchored form reports the offending subspan when
// validation fails.
type tagNameGuard struct {
	pattern string
	full    *regexp.Regexp
	loose   *regexp.Regexp
}
