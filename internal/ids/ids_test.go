package ids

import (
	"bytes"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New()
	b := New()

	assert.Len(t, a, 26)
	assert.Len(t, b, 26)
	assert.NotEqual(t, a, b)
	// Later ids sort after earlier ones.
	assert.LessOrEqual(t, a, b)
}

func TestNewAt(t *testing.T) {
	mtime := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(mtime)

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(mtime), parsed.Time())
}

func TestDigest(t *testing.T) {
	input := []byte("awooga")

	first := Digest(input)
	second := Digest(input)
	other := Digest([]byte("not awooga"))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, first[:], DigestSize)
}

func TestDigestReader(t *testing.T) {
	// Longer than one 8 KiB chunk so the streaming path is exercised.
	input := bytes.Repeat([]byte("awtfdb"), 4096)

	streamed, err := DigestReader(bytes.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Digest(input), streamed)
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(128)
	require.NoError(t, err)
	b, err := RandomBytes(128)
	require.NoError(t, err)

	assert.Len(t, a, 128)
	assert.NotEqual(t, a, b)
}
