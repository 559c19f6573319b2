// Package crypto provides the hash primitives used throughout the Merkle
// tree: a fixed-size Hash type and the keyed two-argument digest H(a, b)
// that the structural engine builds on.
package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashLength is the size in bytes of a Hash.
const HashLength = 32

// Hash is an opaque 32-byte digest. The zero value represents "absent"
// wherever the data model calls for an optional hash.
type Hash [HashLength]byte

// ZeroHash is the absent/unset hash value.
var ZeroHash = Hash{}

// BytesToHash converts b to a Hash, left-padding with zeroes if shorter
// than HashLength and truncating from the left if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the "0x"-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the absent hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// H is the keyed, associative-by-position digest the structural engine
// relies on: H(a, b) != H(b, a) in general, and two calls with the same
// (a, b) pair always yield the same output.
func H(a, b []byte) Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(a)
	d.Write(b)
	var out Hash
	d.Sum(out[:0])
	return out
}

// HashKeyValue computes the leaf hash for a (key, value) record.
func HashKeyValue(key, value []byte) Hash {
	return H(key, value)
}
