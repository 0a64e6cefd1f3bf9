// Package janitor audits the index offline: database-level checks, file
// existence and content hashes, tag core hashes, unused hash rows, and tag
// name validity, with an optional repair mode.
package janitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mesh-intelligence/awtfdb/internal/ids"
	"github.com/mesh-intelligence/awtfdb/internal/sqlite"
	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// Options configures one janitor run.
type Options struct {
	// Full recomputes file content hashes, not just existence.
	Full bool
	// Only limits Full re-hashing to files under any of these path
	// prefixes. Empty means every file.
	Only []string
	// Repair fixes what can be fixed. A missing file with no other row
	// sharing its hash, or an invalid tag name, aborts the run and rolls
	// everything back; tag core mismatches are only counted.
	Repair bool
	// HashFilesSmallerThan skips Full re-hashing of files at or above
	// this many bytes. Zero means no cap.
	HashFilesSmallerThan uint64
	// FromReport revisits only the rows recorded in a previous run's
	// report. Problems that appeared after the report was taken are not
	// seen until a full run.
	FromReport string
	// SkipDB skips the database integrity and foreign key checks.
	SkipDB bool
	// SkipTagCores skips re-hashing tag core data.
	SkipTagCores bool
	// Verbose logs each problem as it is found.
	Verbose bool
}

// Janitor audits one open backend.
type Janitor struct {
	b      *sqlite.Backend
	opts   Options
	loaded *Report
}

// New builds a janitor. When opts.FromReport is set, the report is loaded
// (and its age validated) here.
func New(b *sqlite.Backend, opts Options) (*Janitor, error) {
	j := &Janitor{b: b, opts: opts}
	if opts.FromReport != "" {
		loaded, err := LoadReport(opts.FromReport, time.Now())
		if err != nil {
			return nil, fmt.Errorf("load report %s: %w", opts.FromReport, err)
		}
		j.loaded = loaded
	}
	return j, nil
}

// Run executes every phase and returns the report. In repair mode all
// repairs happen under one savepoint; a file needing manual intervention or
// an invalid tag name rolls every repair back and surfaces as the returned
// error.
func (j *Janitor) Run(ctx context.Context) (*Report, error) {
	report := newReport(time.Now())

	if !j.opts.SkipDB {
		if err := j.b.CheckIntegrity(ctx); err != nil {
			return nil, err
		}
		if err := j.b.CheckForeignKeys(ctx); err != nil {
			return nil, err
		}
	}

	phases := func() error {
		if err := j.checkFiles(ctx, report); err != nil {
			return err
		}
		if !j.opts.SkipTagCores {
			if err := j.checkTagCores(ctx, report); err != nil {
				return err
			}
		}
		if err := j.checkUnusedHashes(ctx, report); err != nil {
			return err
		}
		return j.checkTagNames(ctx, report)
	}

	var err error
	if j.opts.Repair {
		err = j.b.WithSavepoint(ctx, "janitor_repair", phases)
	} else {
		err = phases()
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// checkFiles verifies each files row: the path must exist, and under Full
// the content must still hash to the stored digest. In from-report mode
// only the report's rows are revisited.
func (j *Janitor) checkFiles(ctx context.Context, report *Report) error {
	rows, err := j.fileRowsInScope(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if j.loaded != nil {
			// A report row may have been repaired or removed since the
			// report was taken; only live rows are rechecked.
			var present int
			err := j.b.DB().QueryRowContext(ctx,
				"SELECT count(*) FROM files WHERE file_hash = ? AND local_path = ?",
				row.FileHash, row.LocalPath,
			).Scan(&present)
			if err != nil {
				return fmt.Errorf("recheck report row %s: %w", row.LocalPath, err)
			}
			if present == 0 {
				continue
			}
		}

		st, err := os.Stat(row.LocalPath)
		if os.IsNotExist(err) {
			if err := j.fileNotFound(ctx, report, row); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", row.LocalPath, err)
		}

		if !j.opts.Full || !j.pathInScope(row.LocalPath) {
			continue
		}
		if j.opts.HashFilesSmallerThan > 0 && uint64(st.Size()) >= j.opts.HashFilesSmallerThan {
			continue
		}
		if err := j.checkFileHash(ctx, report, row); err != nil {
			return err
		}
	}
	return nil
}

func (j *Janitor) fileRowsInScope(ctx context.Context) ([]FileRow, error) {
	if j.loaded != nil {
		rows := make([]FileRow, 0, len(j.loaded.FilesNotFound)+len(j.loaded.IncorrectHashes))
		rows = append(rows, j.loaded.FilesNotFound...)
		rows = append(rows, j.loaded.IncorrectHashes...)
		return rows, nil
	}

	dbRows, err := j.b.DB().QueryContext(ctx, "SELECT file_hash, local_path FROM files")
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer dbRows.Close()

	var rows []FileRow
	for dbRows.Next() {
		var row FileRow
		if err := dbRows.Scan(&row.FileHash, &row.LocalPath); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return rows, nil
}

func (j *Janitor) pathInScope(path string) bool {
	if len(j.opts.Only) == 0 {
		return true
	}
	for _, prefix := range j.opts.Only {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// fileNotFound handles a files row whose path no longer exists. More than
// one row sharing the hash means the file moved and this row is stale;
// exactly one means the content is gone and only a human can decide what
// to do.
func (j *Janitor) fileNotFound(ctx context.Context, report *Report, row FileRow) error {
	var sharing int
	err := j.b.DB().QueryRowContext(ctx,
		"SELECT count(*) FROM files WHERE file_hash = ?", row.FileHash,
	).Scan(&sharing)
	if err != nil {
		return fmt.Errorf("count files sharing %s: %w", row.FileHash, err)
	}

	repairable := sharing > 1
	report.count(KindFileNotFound, !repairable)
	report.FilesNotFound = append(report.FilesNotFound, row)
	j.logf("file not found: %s (%s)", row.LocalPath, row.FileHash)

	if !j.opts.Repair {
		return nil
	}
	if !repairable {
		return fmt.Errorf("%s: %w", row.LocalPath, types.ErrManualInterventionRequired)
	}
	if _, err := j.b.DB().ExecContext(ctx,
		"DELETE FROM files WHERE file_hash = ? AND local_path = ?",
		row.FileHash, row.LocalPath,
	); err != nil {
		return fmt.Errorf("delete stale file row %s: %w", row.LocalPath, err)
	}
	return nil
}

// checkFileHash recomputes the file's content digest and compares it with
// the stored one.
func (j *Janitor) checkFileHash(ctx context.Context, report *Report, row FileRow) error {
	var stored []byte
	err := j.b.DB().QueryRowContext(ctx,
		"SELECT hash_data FROM hashes WHERE id = ?", row.FileHash,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return fmt.Errorf("file %s: %w", row.FileHash, types.ErrInconsistentIndex)
	}
	if err != nil {
		return fmt.Errorf("load hash %s: %w", row.FileHash, err)
	}

	fh, err := os.Open(row.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", row.LocalPath, err)
	}
	computed, err := ids.DigestReader(fh)
	_ = fh.Close()
	if err != nil {
		return fmt.Errorf("hash %s: %w", row.LocalPath, err)
	}
	if string(computed[:]) == string(stored) {
		return nil
	}

	report.count(KindIncorrectHashFiles, false)
	report.IncorrectHashes = append(report.IncorrectHashes, row)
	j.logf("incorrect hash: %s (%s)", row.LocalPath, row.FileHash)

	if !j.opts.Repair {
		return nil
	}
	return j.repairFileHash(ctx, row, computed[:])
}

// repairFileHash reconciles a files row whose content no longer matches its
// digest. When the new digest already has a hash row, the file is repointed
// at it; when it does not, the existing row's hash_data is rewritten in
// place, which silently changes the content identity of that id.
func (j *Janitor) repairFileHash(ctx context.Context, row FileRow, computed []byte) error {
	var existingID string
	err := j.b.DB().QueryRowContext(ctx,
		"SELECT id FROM hashes WHERE hash_data = ?", computed,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := j.b.DB().ExecContext(ctx,
			"UPDATE files SET file_hash = ? WHERE file_hash = ? AND local_path = ?",
			existingID, row.FileHash, row.LocalPath,
		); err != nil {
			return fmt.Errorf("repoint %s: %w", row.LocalPath, err)
		}
	case err == sql.ErrNoRows:
		if _, err := j.b.DB().ExecContext(ctx,
			"UPDATE hashes SET hash_data = ? WHERE id = ?", computed, row.FileHash,
		); err != nil {
			return fmt.Errorf("rewrite hash %s: %w", row.FileHash, err)
		}
	default:
		return fmt.Errorf("look up computed hash: %w", err)
	}
	return nil
}

// checkTagCores re-derives each core's digest from its random bytes. A
// mismatch cannot be repaired: the core's identity is its digest.
func (j *Janitor) checkTagCores(ctx context.Context, report *Report) error {
	rows, err := j.b.DB().QueryContext(ctx,
		`SELECT tc.core_hash, tc.core_data, h.hash_data
		 FROM tag_cores tc JOIN hashes h ON h.id = tc.core_hash`,
	)
	if err != nil {
		return fmt.Errorf("load tag cores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var coreData, stored []byte
		if err := rows.Scan(&id, &coreData, &stored); err != nil {
			return fmt.Errorf("scan tag core: %w", err)
		}
		computed := ids.Digest(coreData)
		if string(computed[:]) != string(stored) {
			report.count(KindIncorrectHashCores, true)
			j.logf("incorrect core hash: %s", id)
		}
	}
	return rows.Err()
}

// checkUnusedHashes finds hash rows nothing references any more. Deleting
// them is always safe.
func (j *Janitor) checkUnusedHashes(ctx context.Context, report *Report) error {
	rows, err := j.b.DB().QueryContext(ctx,
		`SELECT id FROM hashes
		 WHERE id NOT IN (SELECT core_hash FROM tag_cores)
		   AND id NOT IN (SELECT file_hash FROM files)
		   AND id NOT IN (SELECT pool_hash FROM pools)`,
	)
	if err != nil {
		return fmt.Errorf("load unused hashes: %w", err)
	}
	defer rows.Close()

	var unused []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan unused hash: %w", err)
		}
		unused = append(unused, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate unused hashes: %w", err)
	}

	for _, id := range unused {
		report.count(KindUnusedHash, false)
		j.logf("unused hash: %s", id)
		if !j.opts.Repair {
			continue
		}
		if _, err := j.b.DB().ExecContext(ctx,
			"DELETE FROM hashes WHERE id = ?", id,
		); err != nil {
			return fmt.Errorf("delete unused hash %s: %w", id, err)
		}
	}
	return nil
}

// checkTagNames verifies every stored name against the configured pattern.
// Names that no longer pass cannot be repaired mechanically.
func (j *Janitor) checkTagNames(ctx context.Context, report *Report) error {
	rows, err := j.b.DB().QueryContext(ctx,
		"SELECT tag_text, tag_language FROM tag_names",
	)
	if err != nil {
		return fmt.Errorf("load tag names: %w", err)
	}
	defer rows.Close()

	type name struct{ text, language string }
	var names []name
	for rows.Next() {
		var n name
		if err := rows.Scan(&n.text, &n.language); err != nil {
			return fmt.Errorf("scan tag name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tag names: %w", err)
	}

	for _, n := range names {
		err := j.b.VerifyTagName(ctx, n.text)
		if err == nil {
			continue
		}
		var verr *types.InvalidTagNameError
		if !errors.As(err, &verr) {
			return err
		}
		report.count(KindInvalidTagName, true)
		j.logf("invalid tag name: %q (%s)", n.text, n.language)
		if j.opts.Repair {
			return fmt.Errorf("%q: %w", n.text, types.ErrUnrepairableTagName)
		}
	}
	return nil
}

func (j *Janitor) logf(format string, args ...any) {
	if j.opts.Verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
