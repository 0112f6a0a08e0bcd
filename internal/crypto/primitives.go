// Package crypto wraps the vetted primitives the vault engine builds on:
// an AEAD for file content, Argon2id for password-based key derivation,
// HKDF-SHA-256 for directory-id derivation, a CSPRNG, and a
// constant-time comparator. Nothing in this package panics on
// attacker-controlled input, and nothing in this package logs key material.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/axiomvault/vault/internal/vaulterr"
)

// KeySize is the size in bytes of every key used by the engine: the master
// key, each subkey, and the content/name AEAD keys.
const KeySize = 32

// ContentNonceSize is the nonce size of the content AEAD (XChaCha20-Poly1305).
const ContentNonceSize = chacha20poly1305.NonceSizeX

// TagSize is the AEAD authentication tag size.
const TagSize = 16

// RandomBytes fills and returns a new slice of n cryptographically random
// bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: random bytes: %v", vaulterr.ErrInvalidInput, err)
	}
	return b, nil
}

// ConstantTimeEqual reports whether a and b are byte-for-byte equal, in time
// independent of where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Argon2Params are the tunable costs of the Argon2id KDF, persisted
// plaintext-visible in the vault's config record so any implementation can
// decide, with zero prior knowledge, whether it can attempt to derive the
// master key.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params returns conservative interactive-unlock defaults.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 1}
}

// Validate rejects parameters that would make derivation free, which is a
// distinct failure from "wrong password".
func (p Argon2Params) Validate() error {
	if p.MemoryKiB < 8*1024 {
		return fmt.Errorf("%w: argon2 memory too low: %d KiB", vaulterr.ErrInvalidInput, p.MemoryKiB)
	}
	if p.Iterations == 0 {
		return fmt.Errorf("%w: argon2 iterations must be > 0", vaulterr.ErrInvalidInput)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: argon2 parallelism must be > 0", vaulterr.ErrInvalidInput)
	}
	return nil
}

// DeriveMasterKey runs Argon2id(password, salt, params) and returns the
// 32-byte master key as SecretBytes. password is zeroed by the caller, not
// here: DeriveMasterKey only reads it.
func DeriveMasterKey(password []byte, salt []byte, params Argon2Params) (*SecretBytes, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) != 16 {
		return nil, fmt.Errorf("%w: kdf salt must be 16 bytes", vaulterr.ErrInvalidInput)
	}
	key := argon2.IDKey(password, salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(KeySize))
	return NewSecretBytes(key), nil
}

// HKDFExpand derives outLen bytes from key using HKDF-SHA-256 with the given
// info string, using single-extract-then-expand for directory ids (no
// separate salt: the input key is already uniformly random).
func HKDFExpand(key []byte, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", vaulterr.ErrCorrupt, err)
	}
	return out, nil
}

// SealAEAD encrypts plaintext under key (XChaCha20-Poly1305), with the given
// nonce and associated data, and returns ciphertext||tag.
func SealAEAD(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aead init: %v", vaulterr.ErrInvalidInput, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", vaulterr.ErrInvalidInput)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// OpenAEAD decrypts and verifies ciphertext||tag under key, nonce, and aad.
// Any tag mismatch, truncated input, or bad nonce size surfaces as
// vaulterr.ErrUnauthentic; a bad key size surfaces as
// vaulterr.ErrInvalidInput. Callers must never branch on the underlying
// library error and must never surface partial plaintext on failure.
func OpenAEAD(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aead init: %v", vaulterr.ErrInvalidInput, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, vaulterr.ErrUnauthentic
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, vaulterr.ErrUnauthentic
	}
	return pt, nil
}
