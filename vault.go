package vault

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/axiomvault/vault/internal/config"
	"github.com/axiomvault/vault/internal/configrecord"
	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/dirstore"
	"github.com/axiomvault/vault/internal/keyring"
	"github.com/axiomvault/vault/internal/objectid"
	"github.com/axiomvault/vault/internal/objectstore"
	"github.com/axiomvault/vault/internal/pathmap"
	"github.com/axiomvault/vault/internal/session"
)

// Mode selects the access mode a handle is opened with.
type Mode = session.Mode

const (
	ModeRead  = session.ModeRead
	ModeWrite = session.ModeWrite
)

// Handle identifies an open file within a Vault (an open-file table entry).
type Handle = session.Handle

// Entry describes one directory listing entry.
type Entry = session.Entry

// Vault is an opened or freshly-created AxiomVault instance, wrapping the
// engine's session and the object store it is backed by. The zero value is
// not usable; construct with Create or Unlock.
type Vault struct {
	mu    sync.Mutex
	store objectstore.Store
	sess  *session.Session
}

// Create initializes a brand-new, empty vault on store: derives a fresh
// keyring from password, writes the config record and an empty root
// directory record, and returns an Unlocked Vault. Fails with
// vaulterr.ErrAlreadyExists if store already holds a config record.
func Create(ctx context.Context, store objectstore.Store, password []byte, params crypto.Argon2Params) (*Vault, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	vaultID, err := objectid.New()
	if err != nil {
		return nil, err
	}
	salt, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	var saltArr [16]byte
	copy(saltArr[:], salt)

	kr, err := keyring.Generate(password, salt, params)
	if err != nil {
		return nil, err
	}
	sealed, err := kr.WrapSubkeys(configrecord.FormatVersion, [16]byte(vaultID))
	if err != nil {
		kr.Zero()
		return nil, err
	}
	sealedInner, sealedTag, err := splitSealed(sealed)
	if err != nil {
		kr.Zero()
		return nil, err
	}
	rec := configrecord.Record{
		FormatVersion: configrecord.FormatVersion,
		VaultID:       [16]byte(vaultID),
		KDFID:         configrecord.KDFArgon2id,
		KDFParams:     params,
		KDFSalt:       saltArr,
		SealedInner:   sealedInner,
		SealedTag:     sealedTag,
	}
	raw := configrecord.Encode(rec)
	createOnly := objectstore.NewRevision("")
	if _, err := store.Put(ctx, config.ConfigObjectKey(), bytes.NewReader(raw), &createOnly); err != nil {
		kr.Zero()
		if objectstore.IsPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: vault config record already present", ErrAlreadyExists)
		}
		return nil, err
	}

	rootDirID, err := pathmap.RootDirID(kr.Dir.Bytes())
	if err != nil {
		kr.Zero()
		return nil, err
	}
	dirs := dirstore.New(store, kr.Dir.Bytes())
	if err := dirs.Create(ctx, rootDirID, dirstore.Record{}); err != nil {
		kr.Zero()
		return nil, err
	}

	return &Vault{store: store, sess: session.New(store, kr)}, nil
}

// Unlock opens an existing vault on store, deriving its keyring from
// password. A wrong password surfaces as vaulterr.ErrUnauthorized.
func Unlock(ctx context.Context, store objectstore.Store, password []byte) (*Vault, error) {
	rc, _, err := store.Get(ctx, config.ConfigObjectKey())
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("%w: read config record: %v", ErrStoreTransport, err)
	}
	rec, err := configrecord.Decode(buf.Bytes())
	if err != nil {
		return nil, err
	}

	kr, err := keyring.Derive(password, rec.KDFSalt[:], rec.KDFParams, rec.FormatVersion, rec.VaultID, joinSealed(rec.SealedInner, rec.SealedTag))
	if err != nil {
		return nil, err
	}

	rootDirID, err := pathmap.RootDirID(kr.Dir.Bytes())
	if err != nil {
		kr.Zero()
		return nil, err
	}
	dirs := dirstore.New(store, kr.Dir.Bytes())
	if _, _, err := dirs.Read(ctx, rootDirID); err != nil {
		kr.Zero()
		return nil, err
	}

	return &Vault{store: store, sess: session.New(store, kr)}, nil
}

// splitSealed splits a combined ciphertext||tag AEAD output (as produced by
// crypto.SealAEAD) into the wire format's separate sealed_inner and
// sealed_tag fields.
func splitSealed(sealed []byte) ([]byte, [16]byte, error) {
	var tag [16]byte
	if len(sealed) < crypto.TagSize {
		return nil, tag, fmt.Errorf("%w: sealed blob shorter than AEAD tag", ErrCorrupt)
	}
	split := len(sealed) - crypto.TagSize
	copy(tag[:], sealed[split:])
	return append([]byte{}, sealed[:split]...), tag, nil
}

// joinSealed reassembles the wire format's separate sealed_inner and
// sealed_tag fields into the combined ciphertext||tag form crypto.OpenAEAD
// expects.
func joinSealed(inner []byte, tag [16]byte) []byte {
	out := make([]byte, 0, len(inner)+len(tag))
	out = append(out, inner...)
	out = append(out, tag[:]...)
	return out
}

// Lock closes every open handle, zeroes the in-memory keyring, and
// transitions the vault to Locked. Every subsequent data operation returns
// an error wrapping vaulterr.ErrInvalidInput (vaulterr.ErrCancelled for a
// handle that was open at Lock time) until the caller constructs a fresh Vault via
// Unlock. Lock is idempotent and safe to call more than once.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sess.Lock()
}

// CreateFile creates an empty file at path.
func (v *Vault) CreateFile(ctx context.Context, path string) error {
	return v.sess.CreateFile(ctx, path)
}

// CreateDir creates an empty directory at path.
func (v *Vault) CreateDir(ctx context.Context, path string) error {
	return v.sess.CreateDir(ctx, path)
}

// Open resolves path and returns a handle in the given mode. Callers
// must Close every handle they open.
func (v *Vault) Open(ctx context.Context, path string, mode Mode) (Handle, error) {
	return v.sess.Open(ctx, path, mode)
}

// Read reads up to length bytes from h starting at offset.
func (v *Vault) Read(ctx context.Context, h Handle, offset int64, length int) ([]byte, error) {
	return v.sess.Read(ctx, h, offset, length)
}

// Write appends p to a write-mode handle h at the given offset. Only
// sequential append-at-end is supported; any other offset surfaces
// vaulterr.ErrUnsupported.
func (v *Vault) Write(ctx context.Context, h Handle, p []byte, offset int64) (int, error) {
	return v.sess.Write(ctx, h, p, offset)
}

// Close finalizes h. For a write-mode handle, commit selects whether the
// staged content replaces the file (true) or is discarded (false).
func (v *Vault) Close(ctx context.Context, h Handle, commit bool) error {
	return v.sess.Close(ctx, h, commit)
}

// List returns the entries of the directory at path.
func (v *Vault) List(ctx context.Context, path string) ([]Entry, error) {
	return v.sess.List(ctx, path)
}

// Stat returns the entry describing path itself.
func (v *Vault) Stat(ctx context.Context, path string) (Entry, error) {
	return v.sess.Stat(ctx, path)
}

// Remove deletes the file or empty directory at path.
func (v *Vault) Remove(ctx context.Context, path string) error {
	return v.sess.Remove(ctx, path)
}

// Rename moves src to dst.
func (v *Vault) Rename(ctx context.Context, src, dst string) error {
	return v.sess.Rename(ctx, src, dst)
}

// ChangePassword re-derives the master key under newPassword, re-wraps the
// vault's existing subkeys, persists the new config record via
// compare-and-swap against the currently stored one, and rebinds the vault
// to the new keyring. The old password
// stops working only once this call returns successfully; on any failure
// the vault remains unlocked under the old password.
func (v *Vault) ChangePassword(ctx context.Context, newPassword []byte, params crypto.Argon2Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	rev, err := v.store.Head(ctx, config.ConfigObjectKey())
	if err != nil {
		return err
	}
	rc, _, err := v.store.Get(ctx, config.ConfigObjectKey())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("%w: read config record: %v", ErrStoreTransport, err)
	}
	rec, err := configrecord.Decode(buf.Bytes())
	if err != nil {
		return err
	}

	newSalt, err := crypto.RandomBytes(16)
	if err != nil {
		return err
	}
	var newSaltArr [16]byte
	copy(newSaltArr[:], newSalt)

	newKr, sealed, err := v.sess.ChangePassword(ctx, newPassword, newSalt, params, rec.FormatVersion, rec.VaultID)
	if err != nil {
		return err
	}
	sealedInner, sealedTag, err := splitSealed(sealed)
	if err != nil {
		newKr.Zero()
		return err
	}

	rec.KDFParams = params
	rec.KDFSalt = newSaltArr
	rec.SealedInner = sealedInner
	rec.SealedTag = sealedTag
	raw := configrecord.Encode(rec)

	if _, err := v.store.Put(ctx, config.ConfigObjectKey(), bytes.NewReader(raw), &rev); err != nil {
		newKr.Zero()
		return err
	}

	v.sess.Lock()
	v.sess = session.New(v.store, newKr)
	return nil
}
