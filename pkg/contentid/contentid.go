// Package contentid derives stable identifiers from raw bytes.
//
// A ContentID is the hex-encoded SHA-256 digest of the exact byte sequence
// it identifies. It is created once at ingestion and used as the storage
// and retrieval key everywhere else in the system. Plaintext and ciphertext
// get separate ids: nondeterministic encryption means two semantically
// different payloads could otherwise become ambiguous.
package contentid

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length in bytes of the digest backing a ContentID.
const Size = sha256.Size

// ContentID identifies a byte payload. The zero value is invalid.
type ContentID string

// Identify returns the ContentID for data. Identical input always yields
// an identical id.
func Identify(data []byte) ContentID {
	sum := sha256.Sum256(data)
	return ContentID(hex.EncodeToString(sum[:]))
}

// String returns the hex form of the id.
func (c ContentID) String() string {
	return string(c)
}

// Bytes returns the raw digest. Returns nil if the id is malformed.
func (c ContentID) Bytes() []byte {
	b, err := hex.DecodeString(string(c))
	if err != nil || len(b) != Size {
		return nil
	}
	return b
}

// Valid reports whether the id is a well-formed hex digest.
func (c ContentID) Valid() bool {
	return c.Bytes() != nil
}

// Short returns a truncated form for log output.
func (c ContentID) Short() string {
	if len(c) < 12 {
		return string(c)
	}
	return string(c[:12])
}
