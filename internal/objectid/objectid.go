// Package objectid generates and parses the 128-bit identifiers used
// throughout the engine for content objects and directory records: a
// fresh random ID per created file or directory, hex-encoded wherever it
// appears in an ObjectStore key.
//
// New uses uuid.NewRandom() as the random-128-bit source rather than
// hand-rolling one from crypto/rand, and re-encodes its raw bytes as
// plain lowercase hex (never the dashed canonical UUID string) to match
// the wire format. These IDs are opaque lookup keys, not cryptographic
// material, so the handful of bits a UUIDv4 fixes for its version/variant
// nibble cost nothing here.
package objectid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/axiomvault/vault/internal/vaulterr"
)

// Size is the length of an ID in raw bytes.
const Size = 16

// ID is a 128-bit object identifier.
type ID [Size]byte

// New generates a fresh cryptographically random ID.
func New() (ID, error) {
	var id ID
	raw, err := uuid.NewRandom()
	if err != nil {
		return id, fmt.Errorf("%w: generate object id: %v", vaulterr.ErrStoreTransport, err)
	}
	copy(id[:], raw[:])
	return id, nil
}

// Parse decodes a 32-character lowercase hex string into an ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("%w: id must be %d hex characters", vaulterr.ErrInvalidInput, Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: invalid id encoding: %v", vaulterr.ErrInvalidInput, err)
	}
	for _, c := range s {
		if c >= 'A' && c <= 'F' {
			return id, fmt.Errorf("%w: id must be lowercase hex", vaulterr.ErrInvalidInput)
		}
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex encoding of id.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the all-zero value (never assigned by New).
func (id ID) IsZero() bool { return id == ID{} }
