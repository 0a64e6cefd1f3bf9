package query

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

func tagTexts(args []Arg) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.Text
	}
	return out
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSQL  string
		wantTags []string
	}{
		{
			name:    "empty query selects everything",
			input:   "",
			wantSQL: "select distinct file_hash from tag_files",
		},
		{
			name:     "single tag",
			input:    "a",
			wantSQL:  "select distinct file_hash from tag_files where core_hash = ?",
			wantTags: []string{"a"},
		},
		{
			name:  "and or and raw tags",
			input: `a b | "cd"|e`,
			wantSQL: "select distinct file_hash from tag_files where core_hash = ?" +
				" intersect select file_hash from tag_files where core_hash = ?" +
				" or core_hash = ? or core_hash = ?",
			wantTags: []string{"a", "b", "cd", "e"},
		},
		{
			name:  "negation",
			input: "a -b",
			wantSQL: "select distinct file_hash from tag_files where core_hash = ?" +
				" except select file_hash from tag_files where core_hash = ?",
			wantTags: []string{"a", "b"},
		},
		{
			// The not operator is " -"; a leading dash is tag text.
			name:     "leading dash is part of the tag",
			input:    "-a",
			wantSQL:  "select distinct file_hash from tag_files where core_hash = ?",
			wantTags: []string{"-a"},
		},
		{
			name:  "negation with nothing before it emits true",
			input: " -a",
			wantSQL: "select distinct file_hash from tag_files where true" +
				" except select file_hash from tag_files where core_hash = ?",
			wantTags: []string{"a"},
		},
		{
			name:  "low tags filter",
			input: "system:low_tags:5",
			wantSQL: "select distinct file_hash from tag_files where" +
				" (select count(*) from tag_files tf2 where tf2.file_hash = tag_files.file_hash) < 5",
		},
		{
			name:  "random core",
			input: "system:random",
			wantSQL: "select distinct file_hash from tag_files where" +
				" core_hash = (select core_hash from tag_names order by random() limit 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, q.SQL)
			if tt.wantTags == nil {
				assert.Empty(t, q.Args)
			} else {
				assert.Equal(t, tt.wantTags, tagTexts(q.Args))
			}
		})
	}
}

func TestCompileHashScopedTag(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	q, err := Compile("hash:" + digest)
	require.NoError(t, err)

	assert.Equal(t, "select distinct file_hash from tag_files where file_hash = ?", q.SQL)
	require.Len(t, q.Args, 1)
	assert.Equal(t, ArgFileHash, q.Args[0].Kind)
	raw, err := hex.DecodeString(digest)
	require.NoError(t, err)
	assert.Equal(t, raw, q.Args[0].Hash)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOffset int
		wantKind   types.QueryErrorKind
	}{
		{
			name:       "unterminated raw tag",
			input:      `a "cd`,
			wantOffset: 2,
			wantKind:   types.UnexpectedCharacter,
		},
		{
			name:       "malformed hash scoped tag",
			input:      "asd hash:AaaAAaaAaaA",
			wantOffset: 20,
			wantKind:   types.InvalidHashScopedTag,
		},
		{
			name:       "hash with wrong length hex",
			input:      "hash:abcd",
			wantOffset: 9,
			wantKind:   types.InvalidHashScopedTag,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.input)
			require.Error(t, err)

			var serr *types.QuerySyntaxError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.wantOffset, serr.Offset)
			assert.Equal(t, tt.wantKind, serr.Kind)
		})
	}
}
