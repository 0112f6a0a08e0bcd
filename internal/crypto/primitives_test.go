package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomvault/vault/internal/vaulterr"
)

func TestRandomBytesLengthAndUniqueness(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
	assert.True(t, ConstantTimeEqual(nil, []byte{}))
}

func TestArgon2ParamsValidate(t *testing.T) {
	valid := Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
	assert.NoError(t, valid.Validate())

	cases := []Argon2Params{
		{MemoryKiB: 1024, Iterations: 1, Parallelism: 1},
		{MemoryKiB: 8 * 1024, Iterations: 0, Parallelism: 1},
		{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 0},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate())
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	params := Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
	salt, err := RandomBytes(16)
	require.NoError(t, err)

	k1, err := DeriveMasterKey([]byte("password"), salt, params)
	require.NoError(t, err)
	k2, err := DeriveMasterKey([]byte("password"), salt, params)
	require.NoError(t, err)
	assert.Equal(t, k1.Bytes(), k2.Bytes())
	assert.Len(t, k1.Bytes(), KeySize)

	k3, err := DeriveMasterKey([]byte("different"), salt, params)
	require.NoError(t, err)
	assert.NotEqual(t, k1.Bytes(), k3.Bytes())
}

func TestDeriveMasterKeyBadSaltLength(t *testing.T) {
	params := Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
	_, err := DeriveMasterKey([]byte("pw"), []byte("short"), params)
	assert.Error(t, err)
}

func TestHKDFExpandDeterministicAndInfoSeparated(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)

	out1, err := HKDFExpand(key, []byte("content-key"), 32)
	require.NoError(t, err)
	out2, err := HKDFExpand(key, []byte("content-key"), 32)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)

	out3, err := HKDFExpand(key, []byte("name-key"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out3)
}

func TestSealOpenAEADRoundTrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	nonce, err := RandomBytes(ContentNonceSize)
	require.NoError(t, err)
	aad := []byte("header-hash||chunk-index")
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := SealAEAD(key, nonce, aad, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	pt, err := OpenAEAD(key, nonce, aad, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestOpenAEADRejectsTamperedCiphertext(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	nonce, err := RandomBytes(ContentNonceSize)
	require.NoError(t, err)
	aad := []byte("aad")

	ct, err := SealAEAD(key, nonce, aad, []byte("secret"))
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = OpenAEAD(key, nonce, aad, ct)
	assert.ErrorIs(t, err, vaulterr.ErrUnauthentic)
}

func TestOpenAEADRejectsWrongAAD(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	nonce, err := RandomBytes(ContentNonceSize)
	require.NoError(t, err)

	ct, err := SealAEAD(key, nonce, []byte("aad-a"), []byte("secret"))
	require.NoError(t, err)

	_, err = OpenAEAD(key, nonce, []byte("aad-b"), ct)
	assert.Error(t, err)
}

func TestOpenAEADRejectsBadNonceSize(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	_, err = OpenAEAD(key, []byte("short"), nil, []byte("x"))
	assert.Error(t, err)
}

func TestSecretBytesZeroAndClone(t *testing.T) {
	s := NewSecretBytes([]byte{1, 2, 3, 4})
	clone := s.Clone()
	require.Equal(t, 4, clone.Len())

	s.Zero()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []byte{1, 2, 3, 4}, clone.Bytes(), "zeroing the original must not affect an independent clone")
}
