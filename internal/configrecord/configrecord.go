// Package configrecord encodes and decodes the vault's plaintext-readable
// outer envelope. The outer envelope is self-describing: any
// implementation can parse it with zero prior knowledge and decide
// whether it can attempt to decrypt, before ever deriving a key.
package configrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/vaulterr"
)

// Magic is the 4-byte format identifier at the start of every config record.
var Magic = [4]byte{'A', 'X', 'V', 'C'}

// FormatVersion is the format_version this implementation writes and reads.
const FormatVersion uint16 = 1

// KDFArgon2id is the sole supported kdf_id value in this implementation.
const KDFArgon2id byte = 1

// sealedTagLen is the fixed size of the inner blob's trailing AEAD tag,
// carried as its own wire field rather than bundled into sealed_inner.
const sealedTagLen = 16

// Record is the fully-parsed config record: the plaintext-visible outer
// envelope fields plus the still-sealed inner blob bytes. Unwrapping the
// inner blob is keyring.Derive's job, not this package's: this package only
// knows the wire format, never a password. SealedInner is the inner blob's
// ciphertext alone; SealedTag is its AEAD authentication tag, a distinct
// fixed-width trailing field on the wire.
type Record struct {
	FormatVersion uint16
	VaultID       [16]byte
	KDFID         byte
	KDFParams     crypto.Argon2Params
	KDFSalt       [16]byte
	SealedInner   []byte
	SealedTag     [sealedTagLen]byte
}

// argon2ParamsWireLen is the fixed encoded length of crypto.Argon2Params:
// memory(u32) || iterations(u32) || parallelism(u8).
const argon2ParamsWireLen = 4 + 4 + 1

func encodeArgon2Params(p crypto.Argon2Params) []byte {
	b := make([]byte, argon2ParamsWireLen)
	binary.BigEndian.PutUint32(b[0:4], p.MemoryKiB)
	binary.BigEndian.PutUint32(b[4:8], p.Iterations)
	b[8] = p.Parallelism
	return b
}

func decodeArgon2Params(b []byte) (crypto.Argon2Params, error) {
	if len(b) != argon2ParamsWireLen {
		return crypto.Argon2Params{}, fmt.Errorf("%w: bad kdf_params length", vaulterr.ErrCorrupt)
	}
	return crypto.Argon2Params{
		MemoryKiB:   binary.BigEndian.Uint32(b[0:4]),
		Iterations:  binary.BigEndian.Uint32(b[4:8]),
		Parallelism: b[8],
	}, nil
}

// Encode serializes r to the bit-exact outer envelope:
// magic(4) || version(u16,LE) || vault_id(16) || kdf_id(1) ||
// kdf_params(u16-length-prefixed) || kdf_salt(16) ||
// sealed_inner(u32-length-prefixed) || sealed_tag(16)
func Encode(r Record) []byte {
	params := encodeArgon2Params(r.KDFParams)

	out := make([]byte, 0, 4+2+16+1+2+len(params)+16+4+len(r.SealedInner)+sealedTagLen)
	out = append(out, Magic[:]...)

	var v [2]byte
	binary.LittleEndian.PutUint16(v[:], r.FormatVersion)
	out = append(out, v[:]...)

	out = append(out, r.VaultID[:]...)
	out = append(out, r.KDFID)

	var pl [2]byte
	binary.BigEndian.PutUint16(pl[:], uint16(len(params)))
	out = append(out, pl[:]...)
	out = append(out, params...)

	out = append(out, r.KDFSalt[:]...)

	var sl [4]byte
	binary.BigEndian.PutUint32(sl[:], uint32(len(r.SealedInner)))
	out = append(out, sl[:]...)
	out = append(out, r.SealedInner...)
	out = append(out, r.SealedTag[:]...)

	return out
}

// Decode parses raw into a Record without attempting any decryption.
// Returns vaulterr.ErrCorrupt for any structural problem: bad magic,
// truncated fields, or an unrecognized kdf_id.
func Decode(raw []byte) (Record, error) {
	var r Record
	if len(raw) < 4+2+16+1+2 {
		return r, fmt.Errorf("%w: config record too short", vaulterr.ErrCorrupt)
	}
	if [4]byte(raw[0:4]) != Magic {
		return r, fmt.Errorf("%w: bad config magic", vaulterr.ErrCorrupt)
	}
	off := 4
	r.FormatVersion = binary.LittleEndian.Uint16(raw[off : off+2])
	off += 2
	copy(r.VaultID[:], raw[off:off+16])
	off += 16
	r.KDFID = raw[off]
	off++
	if r.KDFID != KDFArgon2id {
		return r, fmt.Errorf("%w: unsupported kdf_id %d", vaulterr.ErrCorrupt, r.KDFID)
	}

	if len(raw) < off+2 {
		return r, fmt.Errorf("%w: truncated kdf_params length", vaulterr.ErrCorrupt)
	}
	paramsLen := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2
	if len(raw) < off+paramsLen {
		return r, fmt.Errorf("%w: truncated kdf_params", vaulterr.ErrCorrupt)
	}
	params, err := decodeArgon2Params(raw[off : off+paramsLen])
	if err != nil {
		return r, err
	}
	r.KDFParams = params
	off += paramsLen

	if len(raw) < off+16 {
		return r, fmt.Errorf("%w: truncated kdf_salt", vaulterr.ErrCorrupt)
	}
	copy(r.KDFSalt[:], raw[off:off+16])
	off += 16

	if len(raw) < off+4 {
		return r, fmt.Errorf("%w: truncated sealed_inner length", vaulterr.ErrCorrupt)
	}
	sealedLen := int(binary.BigEndian.Uint32(raw[off : off+4]))
	off += 4
	if len(raw) < off+sealedLen {
		return r, fmt.Errorf("%w: truncated sealed_inner", vaulterr.ErrCorrupt)
	}
	r.SealedInner = append([]byte{}, raw[off:off+sealedLen]...)
	off += sealedLen

	if len(raw) < off+sealedTagLen {
		return r, fmt.Errorf("%w: truncated sealed_tag", vaulterr.ErrCorrupt)
	}
	copy(r.SealedTag[:], raw[off:off+sealedTagLen])
	off += sealedTagLen

	if off != len(raw) {
		return r, fmt.Errorf("%w: trailing bytes in config record", vaulterr.ErrCorrupt)
	}
	return r, nil
}
