package configrecord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/vaulterr"
)

func sampleRecord() Record {
	var vaultID [16]byte
	copy(vaultID[:], []byte("vault-id-1234567"))
	var salt [16]byte
	copy(salt[:], []byte("salt-bytes-12345"))
	var tag [sealedTagLen]byte
	copy(tag[:], []byte("sealed-tag-bytes"))
	return Record{
		FormatVersion: FormatVersion,
		VaultID:       vaultID,
		KDFID:         KDFArgon2id,
		KDFParams:     crypto.Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 1},
		KDFSalt:       salt,
		SealedInner:   make([]byte, 4*crypto.KeySize),
		SealedTag:     tag,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord()
	for i := range rec.SealedInner {
		rec.SealedInner[i] = byte(i)
	}

	raw := Encode(rec)
	got, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, rec.FormatVersion, got.FormatVersion)
	assert.Equal(t, rec.VaultID, got.VaultID)
	assert.Equal(t, rec.KDFID, got.KDFID)
	assert.Equal(t, rec.KDFParams, got.KDFParams)
	assert.Equal(t, rec.KDFSalt, got.KDFSalt)
	assert.Equal(t, rec.SealedInner, got.SealedInner)
	assert.Equal(t, rec.SealedTag, got.SealedTag)
}

func TestEncodeStartsWithMagic(t *testing.T) {
	raw := Encode(sampleRecord())
	assert.Equal(t, Magic[:], raw[0:4])
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := Encode(sampleRecord())
	raw[0] = 'X'
	_, err := Decode(raw)
	assert.ErrorIs(t, err, vaulterr.ErrCorrupt)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	raw := Encode(sampleRecord())
	for cut := 0; cut < 4+2+16+1+2; cut++ {
		_, err := Decode(raw[:cut])
		assert.ErrorIsf(t, err, vaulterr.ErrCorrupt, "truncation at %d bytes should be rejected", cut)
	}
}

func TestDecodeRejectsUnsupportedKDFID(t *testing.T) {
	rec := sampleRecord()
	rec.KDFID = 0xFF
	raw := Encode(rec)
	_, err := Decode(raw)
	assert.ErrorIs(t, err, vaulterr.ErrCorrupt)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	raw := Encode(sampleRecord())
	raw = append(raw, 0x00)
	_, err := Decode(raw)
	assert.ErrorIs(t, err, vaulterr.ErrCorrupt)
}

func TestDecodeRejectsTruncatedSealedInner(t *testing.T) {
	rec := sampleRecord()
	raw := Encode(rec)
	// Cut into the sealed_inner region while the declared length still
	// claims the full original size.
	truncated := raw[:len(raw)-sealedTagLen-2]
	_, err := Decode(truncated)
	assert.ErrorIs(t, err, vaulterr.ErrCorrupt)
}

func TestDecodeRejectsTruncatedSealedTag(t *testing.T) {
	rec := sampleRecord()
	raw := Encode(rec)
	// Cut into the trailing fixed-width sealed_tag field.
	truncated := raw[:len(raw)-2]
	_, err := Decode(truncated)
	assert.ErrorIs(t, err, vaulterr.ErrCorrupt)
}
