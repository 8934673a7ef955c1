// Package peerid defines the opaque 32-byte peer identity used as the
// primary key across sessions, the address book, and validation state.
package peerid

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length in bytes of a PeerIdentity (the opaque public-key hash
// the overlay's cryptographic identity layer hands us).
const Size = 32

// ErrWrongLength indicates a byte slice was not exactly Size bytes.
var ErrWrongLength = errors.New("peer identity must be exactly 32 bytes")

// ID is an opaque 32-byte peer identity. Equality is byte equality; the
// cryptographic identity layer that produces and verifies these values is
// an external collaborator and out of scope here.
type ID [Size]byte

// FromBytes copies b into a new ID. Returns ErrWrongLength if len(b) != Size.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("peerid.FromBytes: %d bytes: %w", len(b), ErrWrongLength)
	}
	copy(id[:], b)
	return id, nil
}

// Parse reverses String, decoding an unpadded base32 identity string back
// into an ID.
func Parse(s string) (ID, error) {
	b, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("peerid.Parse: %w", err)
	}
	return FromBytes(b)
}

// Equal reports whether two identities are byte-identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsZero reports whether id is the all-zero identity, used as a sentinel
// for "no identity" in code paths that cannot return an error.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String renders the identity as unpadded base32 (the RFC 4648 standard
// alphabet), suitable for logs and the human-readable address format in
// §6.
func (id ID) String() string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
}

// Hex renders the identity as lowercase hex, useful for wire-level debug
// logging where base32's variable character width is inconvenient.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the identity's underlying bytes as a fresh slice.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}
