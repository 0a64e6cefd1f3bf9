package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// Library configuration keys. Unknown keys are reserved.
const ConfigKeyTagNameRegex = "tag_name_regex"

// loadTagNameGuard compiles the configured tag name pattern, caching the
// result until SetTagNameRegex invalidates it. Returns nil when no pattern
// is configured.
func (b *Backend) loadTagNameGuard(ctx context.Context) (*tagNameGuard, error) {
	b.regexMu.Lock()
	defer b.regexMu.Unlock()

	if b.regexLoaded {
		return b.tagNameGuard, nil
	}

	var pattern string
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM library_configuration WHERE key = ?", ConfigKeyTagNameRegex,
	).Scan(&pattern)
	if err == sql.ErrNoRows {
		b.regexLoaded = true
		b.tagNameGuard = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ConfigKeyTagNameRegex, err)
	}

	guard, err := compileTagNameGuard(pattern)
	if err != nil {
		return nil, err
	}
	b.regexLoaded = true
	b.tagNameGuard = guard
	return guard, nil
}

func compileTagNameGuard(pattern string) (*tagNameGuard, error) {
	full, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ConfigKeyTagNameRegex, err)
	}
	loose, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ConfigKeyTagNameRegex, err)
	}
	return &tagNameGuard{pattern: pattern, full: full, loose: loose}, nil
}

// SetTagNameRegex stores pattern as the tag name guard and drops the cached
// compiled form. The pattern must compile; the whole tag text has to match
// it for a name to be accepted.
func (b *Backend) SetTagNameRegex(ctx context.Context, pattern string) error {
	if _, err := compileTagNameGuard(pattern); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO library_configuration (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		ConfigKeyTagNameRegex, pattern,
	)
	if err != nil {
		return fmt.Errorf("store %s: %w", ConfigKeyTagNameRegex, err)
	}

	b.regexMu.Lock()
	b.regexLoaded = false
	b.tagNameGuard = nil
	b.regexMu.Unlock()
	return nil
}

// VerifyTagName checks text against the configured pattern. The returned
// error is a *types.InvalidTagNameError when the text fails the pattern.
func (b *Backend) VerifyTagName(ctx context.Context, text string) error {
	return b.verifyTagName(ctx, text, nil)
}

// verifyTagName checks text against the configured pattern. When the full
// text does not match, the error reports the subspan the pattern did
// accept; out, when non-nil, receives a copy.
func (b *Backend) verifyTagName(ctx context.Context, text string, out *types.InvalidTagNameError) error {
	guard, err := b.loadTagNameGuard(ctx)
	if err != nil {
		return err
	}
	if guard == nil || guard.full.MatchString(text) {
		return nil
	}

	verr := &types.InvalidTagNameError{
		Pattern: guard.pattern,
		Text:    text,
		Matched: guard.loose.FindString(text),
	}
	if out != nil {
		*out = *verr
	}
	return verr
}
