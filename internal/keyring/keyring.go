// Package keyring holds the in-memory bundle of master key and subkeys for
// an unlocked vault session: derivation from a password, and password
// rotation (rekey) that re-wraps the existing subkeys under a new master
// key without touching file content.
package keyring

import (
	"fmt"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/vaulterr"
)

// subkeyCount is the number of independent 32-byte subkeys wrapped inside a
// config record's inner blob, in on-disk order.
const subkeyCount = 4

// Subkey indices, fixed by the on-disk format.
const (
	idxContent = iota
	idxName
	idxDir
	idxWrap
)

// innerAAD binds the inner blob's AEAD to the vault it belongs to and the
// format version, so a sealed inner blob can never be swapped between
// vaults.
func innerAAD(formatVersion uint16, vaultID [16]byte) []byte {
	aad := make([]byte, 0, 3+2+16)
	aad = append(aad, 'c', 'f', 'g')
	aad = append(aad, byte(formatVersion>>8), byte(formatVersion))
	aad = append(aad, vaultID[:]...)
	return aad
}

// Keyring is the full set of key material for an unlocked vault.
type Keyring struct {
	Master     *crypto.SecretBytes
	Content    *crypto.SecretBytes
	Name       *crypto.SecretBytes
	Dir        *crypto.SecretBytes
	Wrap       *crypto.SecretBytes
	Generation uint32
}

// Zero wipes every secret held by the keyring. Call on lock.
func (k *Keyring) Zero() {
	if k == nil {
		return
	}
	k.Master.Zero()
	k.Content.Zero()
	k.Name.Zero()
	k.Dir.Zero()
	k.Wrap.Zero()
}

// Generate creates a brand-new keyring for vault creation: a fresh master
// key derived from password, and four freshly-random subkeys.
func Generate(password []byte, salt []byte, params crypto.Argon2Params) (*Keyring, error) {
	master, err := crypto.DeriveMasterKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	subkeys := make([]*crypto.SecretBytes, subkeyCount)
	for i := range subkeys {
		b, err := crypto.RandomBytes(crypto.KeySize)
		if err != nil {
			master.Zero()
			return nil, err
		}
		subkeys[i] = crypto.NewSecretBytes(b)
	}
	return &Keyring{
		Master:     master,
		Content:    subkeys[idxContent],
		Name:       subkeys[idxName],
		Dir:        subkeys[idxDir],
		Wrap:       subkeys[idxWrap],
		Generation: 0,
	}, nil
}

// innerNonce is the fixed all-zero nonce used to seal a config record's
// inner blob. This is safe specifically because the inner blob is sealed
// exactly once per master key (a freshly-derived master key at create
// time, or a freshly-derived one per Rotate), so the (key, nonce) pair
// this AEAD call consumes is never reused.
func innerNonce() []byte { return make([]byte, crypto.ContentNonceSize) }

// WrapSubkeys seals the four subkeys under the master key, for storage in
// the config record's inner blob.
func (k *Keyring) WrapSubkeys(formatVersion uint16, vaultID [16]byte) (sealed []byte, err error) {
	plain := make([]byte, 0, subkeyCount*crypto.KeySize)
	plain = append(plain, k.Content.Bytes()...)
	plain = append(plain, k.Name.Bytes()...)
	plain = append(plain, k.Dir.Bytes()...)
	plain = append(plain, k.Wrap.Bytes()...)
	sealed, err = crypto.SealAEAD(k.Master.Bytes(), innerNonce(), innerAAD(formatVersion, vaultID), plain)
	for i := range plain {
		plain[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// Derive re-derives the master key from password against the given KDF
// parameters and salt, then unwraps the four subkeys from the config
// record's sealed inner blob. A wrong password surfaces as
// vaulterr.ErrUnauthorized (AEAD open failure), never a distinct "wrong
// password" signal computed separately — there is nothing to distinguish
// without first attempting to open.
func Derive(password []byte, salt []byte, params crypto.Argon2Params, formatVersion uint16, vaultID [16]byte, sealed []byte) (*Keyring, error) {
	master, err := crypto.DeriveMasterKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.OpenAEAD(master.Bytes(), innerNonce(), innerAAD(formatVersion, vaultID), sealed)
	if err != nil {
		master.Zero()
		return nil, vaulterr.ErrUnauthorized
	}
	defer func() {
		for i := range plain {
			plain[i] = 0
		}
	}()
	if len(plain) != subkeyCount*crypto.KeySize {
		master.Zero()
		return nil, fmt.Errorf("%w: inner blob has wrong length", vaulterr.ErrCorrupt)
	}
	kr := &Keyring{
		Master:  master,
		Content: crypto.NewSecretBytes(append([]byte{}, plain[idxContent*crypto.KeySize:(idxContent+1)*crypto.KeySize]...)),
		Name:    crypto.NewSecretBytes(append([]byte{}, plain[idxName*crypto.KeySize:(idxName+1)*crypto.KeySize]...)),
		Dir:     crypto.NewSecretBytes(append([]byte{}, plain[idxDir*crypto.KeySize:(idxDir+1)*crypto.KeySize]...)),
		Wrap:    crypto.NewSecretBytes(append([]byte{}, plain[idxWrap*crypto.KeySize:(idxWrap+1)*crypto.KeySize]...)),
	}
	return kr, nil
}

// Rotate re-derives a master key from newPassword, keeping the existing
// subkeys (content/name/dir/wrap) untouched, and returns a keyring ready to
// be re-wrapped via WrapSubkeys for persistence as a new config record.
// Rekey is cheap because no file content is ever re-encrypted; true key
// rotation that forces re-encryption of every file is out of scope.
func (k *Keyring) Rotate(newPassword []byte, newSalt []byte, params crypto.Argon2Params) (*Keyring, error) {
	newMaster, err := crypto.DeriveMasterKey(newPassword, newSalt, params)
	if err != nil {
		return nil, err
	}
	return &Keyring{
		Master:     newMaster,
		Content:    k.Content.Clone(),
		Name:       k.Name.Clone(),
		Dir:        k.Dir.Clone(),
		Wrap:       k.Wrap.Clone(),
		Generation: k.Generation + 1,
	}, nil
}
