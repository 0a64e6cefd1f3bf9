package janitor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// reportVersion is the only report format this code reads or writes.
const reportVersion = 1

// maxReportAge is how old a loaded report may be before it is rejected;
// anything staler would revisit rows the world has long moved past.
const maxReportAge = time.Hour

// Problem kinds, in the order they are checked.
const (
	KindFileNotFound       = "file_not_found"
	KindIncorrectHashFiles = "incorrect_hash_files"
	KindIncorrectHashCores = "incorrect_hash_cores"
	KindUnusedHash         = "unused_hash"
	KindInvalidTagName     = "invalid_tag_name"
)

// Kinds lists every problem kind a report counts.
func Kinds() []string {
	return []string{
		KindFileNotFound,
		KindIncorrectHashFiles,
		KindIncorrectHashCores,
		KindUnusedHash,
		KindInvalidTagName,
	}
}

// Counter tallies one problem kind.
type Counter struct {
	Total        int `json:"total"`
	Unrepairable int `json:"unrepairable"`
}

// FileRow identifies a files row in a report.
type FileRow struct {
	FileHash  string `json:"file_hash"`
	LocalPath string `json:"local_path"`
}

// Report summarises one janitor run. It round-trips through JSON so a later
// run can revisit exactly the rows this one flagged.
type Report struct {
	Version         int                `json:"version"`
	Counters        map[string]Counter `json:"counters"`
	Timestamp       int64              `json:"timestamp"`
	FilesNotFound   []FileRow          `json:"files_not_found"`
	IncorrectHashes []FileRow          `json:"incorrect_hashes"`
}

func newReport(now time.Time) *Report {
	counters := make(map[string]Counter, len(Kinds()))
	for _, k := range Kinds() {
		counters[k] = Counter{}
	}
	return &Report{
		Version:         reportVersion,
		Counters:        counters,
		Timestamp:       now.Unix(),
		FilesNotFound:   []FileRow{},
		IncorrectHashes: []FileRow{},
	}
}

func (r *Report) count(kind string, unrepairable bool) {
	c := r.Counters[kind]
	c.Total++
	if unrepairable {
		c.Unrepairable++
	}
	r.Counters[kind] = c
}

// TotalProblems sums every counter.
func (r *Report) TotalProblems() int {
	total := 0
	for _, c := range r.Counters {
		total += c.Total
	}
	return total
}

// Write serialises the report into a fresh file under the system temp
// directory and returns its path.
func (r *Report) Write() (string, error) {
	f, err := os.CreateTemp("", "awtfdb-janitor_")
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return f.Name(), nil
}

// LoadReport reads a report back. Unknown versions and reports older than
// maxReportAge are rejected.
func LoadReport(path string, now time.Time) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.Version != reportVersion {
		return nil, fmt.Errorf("report version %d is not supported", r.Version)
	}
	if now.Sub(time.Unix(r.Timestamp, 0)) > maxReportAge {
		return nil, types.ErrStaleReport
	}
	if r.Counters == nil {
		r.Counters = make(map[string]Counter)
	}
	return &r, nil
}
