// Package query compiles the tag-query mini-language into a parameterised
// SQL statement over tag_files. The compiler only produces SQL and an
// argument list; resolving tag texts to core ids is the caller's business.
package query

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/awtfdb/pkg/types"
)

// ArgKind says how a positional argument must be resolved before the SQL
// can run.
type ArgKind int

const (
	// ArgTag is a tag text, resolved to a core id.
	ArgTag ArgKind = iota
	// ArgFileHash is a raw 32-byte digest, resolved to a hash id.
	ArgFileHash
)

// Arg is one positional argument of a compiled query.
type Arg struct {
	Kind ArgKind
	Text string
	Hash []byte
}

// Query is the compiled form: SQL with ? placeholders and the arguments to
// bind, in order.
type Query struct {
	SQL  string
	Args []Arg
}

// Token patterns, tried in this order at every scan position. The order
// matters: " | " must win over the bare-space and operator, and " -" over
// it as well.
var (
	reRawTag = regexp.MustCompile(`^"([^"]*)"`)
	reOr     = regexp.MustCompile(`^ *\| *`)
	reNot    = regexp.MustCompile(`^ -`)
	reAnd    = regexp.MustCompile(`^ `)
	reTag    = regexp.MustCompile(`^[a-zA-Z0-9_\-:;&*()]+`)
)

const (
	prefixHashScoped = "hash:"
	prefixLowTags    = "system:low_tags:"
	tagSystemRandom  = "system:random"
)

// Compile scans input left to right and translates it. Errors are
// *types.QuerySyntaxError carrying the failing character offset.
func Compile(input string) (*Query, error) {
	var sb strings.Builder
	sb.WriteString("select distinct file_hash from tag_files")

	q := &Query{}
	if input == "" {
		q.SQL = sb.String()
		return q, nil
	}
	sb.WriteString(" where")

	pos := 0
	emitted := false
	for pos < len(input) {
		rest := input[pos:]

		if m := reRawTag.FindStringSubmatch(rest); m != nil {
			sb.WriteString(" core_hash = ?")
			q.Args = append(q.Args, Arg{Kind: ArgTag, Text: m[1]})
			emitted = true
			pos += len(m[0])
			continue
		}
		if m := reOr.FindString(rest); m != "" {
			sb.WriteString(" or")
			pos += len(m)
			continue
		}
		if m := reNot.FindString(rest); m != "" {
			// An except with an empty left side would be invalid SQL;
			// "true" makes it subtract from everything.
			if !emitted {
				sb.WriteString(" true")
				emitted = true
			}
			sb.WriteString(" except select file_hash from tag_files where")
			pos += len(m)
			continue
		}
		if m := reAnd.FindString(rest); m != "" {
			sb.WriteString(" intersect select file_hash from tag_files where")
			pos += len(m)
			continue
		}
		if m := reTag.FindString(rest); m != "" {
			if err := emitTag(&sb, q, m, pos); err != nil {
				return nil, err
			}
			emitted = true
			pos += len(m)
			continue
		}

		return nil, &types.QuerySyntaxError{Offset: pos, Kind: types.UnexpectedCharacter}
	}

	q.SQL = sb.String()
	return q, nil
}

// emitTag translates one bare tag token, handling the hash: and system:
// special forms. pos is the token's start offset, used for error reporting.
func emitTag(sb *strings.Builder, q *Query, token string, pos int) error {
	switch {
	case strings.HasPrefix(token, prefixHashScoped):
		raw, err := hex.DecodeString(token[len(prefixHashScoped):])
		if err != nil || len(raw) != 32 {
			return &types.QuerySyntaxError{
				Offset: pos + len(token),
				Kind:   types.InvalidHashScopedTag,
			}
		}
		sb.WriteString(" file_hash = ?")
		q.Args = append(q.Args, Arg{Kind: ArgFileHash, Hash: raw})

	case token == tagSystemRandom:
		sb.WriteString(" core_hash = (select core_hash from tag_names order by random() limit 1)")

	case strings.HasPrefix(token, prefixLowTags):
		n, err := strconv.Atoi(token[len(prefixLowTags):])
		if err != nil {
			return &types.QuerySyntaxError{Offset: pos, Kind: types.UnexpectedCharacter}
		}
		fmt.Fprintf(sb,
			" (select count(*) from tag_files tf2 where tf2.file_hash = tag_files.file_hash) < %d", n)

	default:
		sb.WriteString(" core_hash = ?")
		q.Args = append(q.Args, Arg{Kind: ArgTag, Text: token})
	}
	return nil
}
