// Package dirstore implements encrypted directory-listing records: the
// AEAD-sealed serialization of a directory's child table, and the
// compare-and-swap mutation loop used to keep that serialization consistent
// with concurrent writers.
package dirstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/objectstore"
	"github.com/axiomvault/vault/internal/vaulterr"
)


// FormatVersion is bound into every directory record's AAD so a record
// sealed under one format can never silently be accepted by another.
const FormatVersion uint16 = 1

// Kind distinguishes file entries from subdirectory entries within a
// directory record.
type Kind byte

const (
	KindFile Kind = 0
	KindDir  Kind = 1
)

// Entry is one child of a directory: either a file (ChildRef is its
// content_id) or a subdirectory (ChildRef is its dir_id).
type Entry struct {
	Name     string
	Kind     Kind
	ChildRef [16]byte
	SizeHint uint64
}

// Record is a directory's full child table, the plaintext body of a sealed
// directory record.
type Record struct {
	Entries []Entry
}

// Find returns the entry named name, if present.
func (r Record) Find(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// ObjectKey returns the storage key for the directory record with id.
func ObjectKey(dirID [16]byte) string {
	return "dirs/" + hex.EncodeToString(dirID[:])
}

func aad(dirID [16]byte) []byte {
	out := make([]byte, 0, 3+2+16)
	out = append(out, 'd', 'i', 'r')
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], FormatVersion)
	out = append(out, v[:]...)
	out = append(out, dirID[:]...)
	return out
}

// encode serializes a Record's child table to its plaintext body:
// a sequence of kind(1) || name_len(u16) || name || child_ref(16) || size_hint(u64).
func encode(r Record) []byte {
	var out []byte
	for _, e := range r.Entries {
		out = append(out, byte(e.Kind))
		var nl [2]byte
		binary.BigEndian.PutUint16(nl[:], uint16(len(e.Name)))
		out = append(out, nl[:]...)
		out = append(out, e.Name...)
		out = append(out, e.ChildRef[:]...)
		var sh [8]byte
		binary.BigEndian.PutUint64(sh[:], e.SizeHint)
		out = append(out, sh[:]...)
	}
	return out
}

func decode(body []byte) (Record, error) {
	var r Record
	off := 0
	for off < len(body) {
		if off+1+2 > len(body) {
			return Record{}, fmt.Errorf("%w: truncated directory entry header", vaulterr.ErrCorrupt)
		}
		kind := Kind(body[off])
		off++
		nl := int(binary.BigEndian.Uint16(body[off : off+2]))
		off += 2
		if off+nl+16+8 > len(body) {
			return Record{}, fmt.Errorf("%w: truncated directory entry body", vaulterr.ErrCorrupt)
		}
		name := string(body[off : off+nl])
		off += nl
		var ref [16]byte
		copy(ref[:], body[off:off+16])
		off += 16
		sizeHint := binary.BigEndian.Uint64(body[off : off+8])
		off += 8
		r.Entries = append(r.Entries, Entry{Name: name, Kind: kind, ChildRef: ref, SizeHint: sizeHint})
	}
	return r, nil
}

// seal encrypts a Record under kDir for storage: a random nonce followed by
// ciphertext||tag.
func seal(kDir []byte, dirID [16]byte, r Record) ([]byte, error) {
	nonce, err := crypto.RandomBytes(crypto.ContentNonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := crypto.SealAEAD(kDir, nonce, aad(dirID), encode(r))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ct))
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

func open(kDir []byte, dirID [16]byte, blob []byte) (Record, error) {
	if len(blob) < crypto.ContentNonceSize {
		return Record{}, vaulterr.ErrUnauthentic
	}
	nonce, ct := blob[:crypto.ContentNonceSize], blob[crypto.ContentNonceSize:]
	pt, err := crypto.OpenAEAD(kDir, nonce, aad(dirID), ct)
	if err != nil {
		return Record{}, err
	}
	return decode(pt)
}

// Store reads and mutates directory records through an ObjectStore, using
// compare-and-swap so concurrent updates to the same directory never
// silently clobber one another.
type Store struct {
	os   objectstore.Store
	kDir []byte
}

// New returns a directory record store backed by os, using kDir both to
// seal/open records and (by the caller, via pathmap.RootDirID and
// pathmap.ChildDirID) to derive ids.
func New(os objectstore.Store, kDir []byte) *Store {
	return &Store{os: os, kDir: kDir}
}

// Read fetches and decrypts the directory record for dirID, returning its
// current revision for use in a subsequent CAS write.
func (s *Store) Read(ctx context.Context, dirID [16]byte) (Record, objectstore.Revision, error) {
	rc, rev, err := s.os.Get(ctx, ObjectKey(dirID))
	if err != nil {
		return Record{}, objectstore.Revision{}, err
	}
	defer rc.Close()
	blob, err := io.ReadAll(rc)
	if err != nil {
		return Record{}, objectstore.Revision{}, fmt.Errorf("%w: read directory record: %v", vaulterr.ErrStoreTransport, err)
	}
	rec, err := open(s.kDir, dirID, blob)
	if err != nil {
		return Record{}, objectstore.Revision{}, err
	}
	return rec, rev, nil
}

// Create writes a brand-new (typically empty) directory record unconditionally.
func (s *Store) Create(ctx context.Context, dirID [16]byte, rec Record) error {
	blob, err := seal(s.kDir, dirID, rec)
	if err != nil {
		return err
	}
	_, err = s.os.Put(ctx, ObjectKey(dirID), bytes.NewReader(blob), nil)
	return err
}

// maxCASRetries bounds the compare-and-swap retry loop for directory
// mutations: retry a bounded number of times with re-read, and surface
// vaulterr.ErrConflict on persistent conflict.
const maxCASRetries = 3

// Mutate reads the current record for dirID, applies mutate to produce the
// new record, and writes it back with CAS against the revision it read.
// On PreconditionFailed it re-reads and retries up to maxCASRetries times;
// on persistent conflict it returns vaulterr.ErrConflict. The engine never
// silently clobbers a concurrent writer's update.
func (s *Store) Mutate(ctx context.Context, dirID [16]byte, mutate func(Record) (Record, error)) error {
	var lastErr error
	for attempt := 0; attempt <= maxCASRetries; attempt++ {
		rec, rev, err := s.Read(ctx, dirID)
		if err != nil {
			return err
		}
		newRec, err := mutate(rec)
		if err != nil {
			return err
		}
		blob, err := seal(s.kDir, dirID, newRec)
		if err != nil {
			return err
		}
		_, err = s.os.Put(ctx, ObjectKey(dirID), bytes.NewReader(blob), &rev)
		if err == nil {
			return nil
		}
		if !objectstore.IsPreconditionFailed(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", vaulterr.ErrConflict, lastErr)
}
