// Package checksum computes deterministic fingerprints of migration effects.
//
// A migration's checksum is derived from the structural operations it issues
// against the storage interface, not from its source text, so structurally
// identical migrations hash identically regardless of authorship, and
// code-defined migrations stay backend-agnostic. The Recorder type implements
// the storage interface without executing anything: every operation is
// serialized into a canonical byte sequence and fed into a running hash.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a checksum in bytes.
const Size = sha256.Size

// Sum is a 32-byte migration checksum.
type Sum [Size]byte

// Of returns the checksum of raw data. It is used for text-based migrations,
// where the checksum is simply the digest of the migration text.
func Of(data []byte) Sum {
	return sha256.Sum256(data)
}

// Hex returns the lowercase hexadecimal representation of the checksum.
func (s Sum) Hex() string {
	return hex.EncodeToString(s[:])
}

// Bytes returns the checksum as a byte slice.
func (s Sum) Bytes() []byte {
	return s[:]
}

// FromHex parses a 64-character lowercase hex string into a Sum.
func FromHex(h string) (Sum, error) {
	var s Sum
	b, err := hex.DecodeString(h)
	if err != nil {
		return s, err
	}
	if len(b) != Size {
		return s, hex.ErrLength
	}
	copy(s[:], b)
	return s, nil
}
