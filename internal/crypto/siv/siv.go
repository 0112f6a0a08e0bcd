// Package siv implements a deterministic authenticated-encryption mode for
// filenames: synthetic-IV AES (RFC 5297 shape, AES-CMAC-based S2V over the
// associated data and plaintext, AES-CTR for the body keyed from the S2V
// tag). No suitable ecosystem SIV package exists among this module's
// dependencies (see DESIGN.md), so this package builds the construction
// directly from crypto/aes and crypto/cipher, the same primitives the
// reference corpus reaches for when it needs a deterministic AEAD.
//
// Determinism is the point here, not a shortcut: the same (key, AAD,
// plaintext) must always produce the same ciphertext so that sibling
// filenames collide exactly when their cleartext names collide, and never
// otherwise.
package siv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"

	"github.com/axiomvault/vault/internal/vaulterr"
)

// KeySize is the required key length: one AES-256 key for S2V (CMAC) and one
// AES-256 key for CTR, both derived from the 32-byte input key via an
// internal HKDF-free split (SIV doubles the key material the way AES-SIV
// does: first half for S2V, second half for CTR requires a 64-byte key in
// the original construction; here k_name is 32 bytes, so the same 32-byte
// key seeds both the CMAC and the stream cipher, separated by the fixed
// domain-separation bytes below).
const KeySize = 32

const (
	macDomain = byte(0x01)
	ctrDomain = byte(0x02)
)

// Seal deterministically encrypts plaintext under key, binding aad (the
// parent directory id) into the authentication tag. The output is
// tag(16) || ciphertext(len(plaintext)).
func Seal(key, aad, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: siv key must be %d bytes", vaulterr.ErrInvalidInput, KeySize)
	}
	macKey, err := subkey(key, macDomain)
	if err != nil {
		return nil, err
	}
	ctrKey, err := subkey(key, ctrDomain)
	if err != nil {
		return nil, err
	}
	tag, err := s2v(macKey, aad, plaintext)
	if err != nil {
		return nil, err
	}
	ct, err := ctrCrypt(ctrKey, tag, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 16+len(ct))
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Open verifies and decrypts a blob produced by Seal. Any tag mismatch
// surfaces as vaulterr.ErrUnauthentic; no plaintext is ever returned on a
// failed verification.
func Open(key, aad, blob []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: siv key must be %d bytes", vaulterr.ErrInvalidInput, KeySize)
	}
	if len(blob) < 16 {
		return nil, vaulterr.ErrUnauthentic
	}
	tag, ct := blob[:16], blob[16:]
	macKey, err := subkey(key, macDomain)
	if err != nil {
		return nil, err
	}
	ctrKey, err := subkey(key, ctrDomain)
	if err != nil {
		return nil, err
	}
	pt, err := ctrCrypt(ctrKey, tag, ct)
	if err != nil {
		return nil, err
	}
	want, err := s2v(macKey, aad, pt)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, vaulterr.ErrUnauthentic
	}
	return pt, nil
}

// subkey domain-separates a single 32-byte input key into the two AES-256
// keys S2V/CTR need, via AES-CMAC of a single domain byte under the input
// key itself (a one-block PRF, safe because the domain bytes are fixed and
// disjoint from any attacker-controlled input).
func subkey(key []byte, domain byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: siv subkey: %v", vaulterr.ErrInvalidInput, err)
	}
	in := make([]byte, aes.BlockSize)
	in[0] = domain
	out, err := cmac(block, [][]byte{in})
	if err != nil {
		return nil, err
	}
	// Expand the single CMAC block into a full 32-byte key by chaining a
	// second CMAC over the first output, matching the "double the tag"
	// pattern used when an S2V-style construction needs more key material
	// than one block provides.
	out2, err := cmac(block, [][]byte{out})
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, out...), out2...), nil
}

// s2v implements the RFC 5297 string-to-vector construction over a fixed
// two-component vector: associated data, then plaintext. It returns a
// 16-byte synthetic IV that doubles as the authentication tag.
func s2v(macKey, aad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(macKey)
	if err != nil {
		return nil, fmt.Errorf("%w: siv s2v: %v", vaulterr.ErrInvalidInput, err)
	}
	zero := make([]byte, aes.BlockSize)
	d, err := cmac(block, [][]byte{zero})
	if err != nil {
		return nil, err
	}
	d = dbl(d)
	aadMac, err := cmac(block, [][]byte{aad})
	if err != nil {
		return nil, err
	}
	d = xor(d, aadMac)

	if len(plaintext) >= aes.BlockSize {
		n := len(plaintext) - aes.BlockSize
		head := plaintext[:n]
		tail := append([]byte{}, plaintext[n:]...)
		tail = xor(tail, d)
		return cmac(block, [][]byte{head, tail})
	}
	d = dbl(d)
	padded := padISO(plaintext)
	d = xor(d, padded)
	return cmac(block, [][]byte{d})
}

// ctrCrypt runs AES-CTR keyed by ctrKey with the 16-byte tag as the initial
// counter block, symmetric for seal and open.
func ctrCrypt(ctrKey, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(ctrKey)
	if err != nil {
		return nil, fmt.Errorf("%w: siv ctr: %v", vaulterr.ErrInvalidInput, err)
	}
	// Clear the two top bits of the 32-bit words at offsets 8 and 12, as
	// AES-SIV does, so the counter never wraps across the 64-bit boundary
	// in a way that could collide with a related encryption.
	ctr := append([]byte{}, iv...)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f
	stream := cipher.NewCTR(block, ctr)
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// cmac computes AES-CMAC (RFC 4493) over the concatenation of messages.
// Concatenating here is exact, not an approximation: CMAC is defined over a
// single byte string, and s2v's "mac the head, then the tail XORed with D"
// step is equivalent to CMAC over their concatenation.
func cmac(block cipher.Block, messages [][]byte) ([]byte, error) {
	k1, k2 := subkeys(block)
	var msg []byte
	for _, m := range messages {
		msg = append(msg, m...)
	}
	blockSize := aes.BlockSize
	var lastBlock []byte
	if len(msg) == 0 {
		lastBlock = xor(padISO(nil), k2)
	} else if len(msg)%blockSize == 0 {
		lastBlock = xor(msg[len(msg)-blockSize:], k1)
		msg = msg[:len(msg)-blockSize]
	} else {
		rem := len(msg) % blockSize
		tailStart := len(msg) - rem
		lastBlock = xor(padISO(msg[tailStart:]), k2)
		msg = msg[:tailStart]
	}
	mac := make([]byte, blockSize)
	for i := 0; i+blockSize <= len(msg); i += blockSize {
		mac = xor(mac, msg[i:i+blockSize])
		block.Encrypt(mac, mac)
	}
	mac = xor(mac, lastBlock)
	block.Encrypt(mac, mac)
	return mac, nil
}

func subkeys(block cipher.Block) (k1, k2 []byte) {
	zero := make([]byte, aes.BlockSize)
	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, zero)
	k1 = dbl(l)
	k2 = dbl(k1)
	return k1, k2
}

// dbl performs the CMAC/SIV doubling operation over GF(2^128): a left shift
// by one bit, XORed with the reduction polynomial 0x87 if the top bit was
// set.
func dbl(b []byte) []byte {
	out := make([]byte, len(b))
	var carry byte
	for i := len(b) - 1; i >= 0; i-- {
		v := b[i]
		out[i] = (v << 1) | carry
		carry = v >> 7
	}
	if b[0]&0x80 != 0 {
		out[len(out)-1] ^= 0x87
	}
	return out
}

func xor(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, len(a))
	copy(out, a)
	for i := 0; i < n; i++ {
		out[i] ^= b[i]
	}
	return out
}

// padISO applies ISO/IEC 9797-1 padding method 2: append 0x80 then zeros to
// the next block boundary. b must be shorter than one block; an empty b
// yields 0x80 followed by fifteen zero bytes.
func padISO(b []byte) []byte {
	blockSize := aes.BlockSize
	padded := make([]byte, blockSize)
	copy(padded, b)
	padded[len(b)] = 0x80
	return padded
}
