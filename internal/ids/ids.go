// Package ids provides the identity scheme shared by every entity in the
// index: 26-character time-ordered identifiers and keyed Blake3 digests.
package ids

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// HashContext keys every digest produced by this package. Changing it
// changes the identity of all stored content.
const HashContext = "awtfdb Sun Mar 20 16:58:11 AM +00 2022 main hash key"

// DigestSize is the length in bytes of every digest.
const DigestSize = 32

// New returns a fresh identifier whose time component is the current
// millisecond. Identifiers sort lexicographically by creation time.
func New() string {
	return ulid.MustNew(ulid.Now(), ulid.DefaultEntropy()).String()
}

// NewAt returns an identifier whose time component encodes t instead of the
// current time. Used when a file's mtime should become the id's timestamp.
// A timestamp past the year 10889 (2^48-1 milliseconds) panics.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Digest returns the keyed Blake3 digest of b.
func Digest(b []byte) [DigestSize]byte {
	var out [DigestSize]byte
	blake3.DeriveKey(HashContext, b, out[:])
	return out
}

// DigestReader streams r through the keyed hash in 8 KiB chunks and returns
// the digest.
func DigestReader(r io.Reader) ([DigestSize]byte, error) {
	var out [DigestSize]byte
	h := blake3.NewDeriveKey(HashContext)
	var buf [8192]byte
	if _, err := io.CopyBuffer(h, r, buf[:]); err != nil {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// RandomBytes returns n cryptographically random bytes. Tag cores are built
// from 128 of these, pool cores from 64.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
