package digest

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"go.dedis.ch/kyber/v4/suites"
)

// Size is the length in characters of a hex encoded Fingerprint.
const Size = 64

// ErrMalformed is returned by Parse when the input is not a fingerprint.
var ErrMalformed = errors.New("malformed fingerprint")

var suite suites.Suite = suites.MustFind("Ed25519")

// Fingerprint is the lower-case hex encoding of a SHA-256 digest.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 characters, for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

func newHash() hash.Hash {
	return suite.Hash()
}

func encode(h hash.Hash) Fingerprint {
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Sum hashes an ordered tuple of fields. Every field is prefixed with its
// length as an 8 byte big-endian integer, so no two distinct tuples share
// the same hash input.
func Sum(fields ...string) Fingerprint {
	h := newHash()
	var length [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(length[:], uint64(len(f)))
		h.Write(length[:])
		io.WriteString(h, f)
	}
	return encode(h)
}

// Record fingerprints a student record.
func Record(name, roll, gpa string) Fingerprint {
	return Sum(name, roll, gpa)
}

// File fingerprints raw file content. The result equals the plain SHA-256 of
// b, so it can be checked with standard tools.
func File(b []byte) Fingerprint {
	h := newHash()
	h.Write(b)
	return encode(h)
}

// Reader is the streaming form of File.
func Reader(r io.Reader) (Fingerprint, error) {
	h := newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return encode(h), nil
}

// Parse validates s as a fingerprint, accepting upper-case hex.
func Parse(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != Size {
		return "", fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformed, Size, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Fingerprint(s), nil
}
