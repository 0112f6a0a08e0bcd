// Package memstore is an in-memory objectstore.Store used by tests across
// the engine. It supports deterministic fault injection so crash and
// tamper behavior can be exercised without a real backend.
package memstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/axiomvault/vault/internal/objectstore"
)

type object struct {
	body []byte
	rev  objectstore.Revision
}

// FailFunc, if set, is consulted before every operation; returning a
// non-nil error aborts the operation as that error (used to simulate
// crashes between specific ObjectStore calls for the atomic-commit
// property tests).
type FailFunc func(op, key string) error

// Store is a goroutine-safe in-memory object store.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
	fail    FailFunc
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// SetFailFunc installs (or clears, with nil) a fault-injection hook.
func (s *Store) SetFailFunc(f FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

func revisionFor(body []byte) objectstore.Revision {
	sum := sha256.Sum256(body)
	return objectstore.NewRevision(hex.EncodeToString(sum[:]))
}

func (s *Store) checkFail(op, key string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op, key)
}

// Put implements objectstore.Store.
func (s *Store) Put(_ context.Context, key string, r io.Reader, expected *objectstore.Revision) (objectstore.Revision, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("put", key); err != nil {
		return objectstore.Revision{}, err
	}
	cur, exists := s.objects[key]
	if expected != nil {
		if !exists && !expected.IsZero() {
			return objectstore.Revision{}, objectstore.PreconditionFailedError("put", key)
		}
		if exists && cur.rev.Tag() != expected.Tag() {
			return objectstore.Revision{}, objectstore.PreconditionFailedError("put", key)
		}
	}
	rev := revisionFor(body)
	s.objects[key] = object{body: append([]byte{}, body...), rev: rev}
	return rev, nil
}

// Get implements objectstore.Store.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, objectstore.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("get", key); err != nil {
		return nil, objectstore.Revision{}, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, objectstore.Revision{}, objectstore.NotFoundError("get", key)
	}
	return io.NopCloser(bytes.NewReader(obj.body)), obj.rev, nil
}

// Head implements objectstore.Store.
func (s *Store) Head(_ context.Context, key string) (objectstore.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("head", key); err != nil {
		return objectstore.Revision{}, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return objectstore.Revision{}, objectstore.NotFoundError("head", key)
	}
	return obj.rev, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(_ context.Context, key string, expected *objectstore.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("delete", key); err != nil {
		return err
	}
	obj, ok := s.objects[key]
	if !ok {
		return objectstore.NotFoundError("delete", key)
	}
	if expected != nil && obj.rev.Tag() != expected.Tag() {
		return objectstore.PreconditionFailedError("delete", key)
	}
	delete(s.objects, key)
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("list", prefix); err != nil {
		return nil, err
	}
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// TamperByte flips the low bit of the byte at offset in the stored object
// for key, for use by tamper-detection property tests.
func (s *Store) TamperByte(key string, offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok || offset < 0 || offset >= len(obj.body) {
		return
	}
	obj.body[offset] ^= 0x01
	obj.rev = revisionFor(obj.body)
	s.objects[key] = obj
}

// RawBytes returns a copy of the stored bytes for key, for use by tests that
// need to inspect or splice raw storage (e.g. cross-file chunk splicing).
func (s *Store) RawBytes(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte{}, obj.body...), true
}

// SetRawBytes overwrites the stored bytes for key directly, bypassing CAS,
// for use by tests that need to inject a specific corrupted state.
func (s *Store) SetRawBytes(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{body: append([]byte{}, body...), rev: revisionFor(body)}
}

var _ objectstore.Store = (*Store)(nil)
