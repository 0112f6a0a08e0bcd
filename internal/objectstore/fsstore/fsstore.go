// Package fsstore implements objectstore.Store on the local filesystem.
// Object keys (e.g. "dirs/<hex>", "files/<hex>") are mapped directly onto
// relative paths under a root directory; revisions are SHA-256 content
// hashes, so compare-and-swap never depends on filesystem metadata that
// can be forged or lost (mtime, inode generation). Writes land via a
// write-then-rename so a reader never observes a torn file.
package fsstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/axiomvault/vault/internal/objectstore"
)

const tmpSuffix = ".tmp"

// Store is a filesystem-backed objectstore.Store rooted at a directory.
//
// Put is serialized by a single mutex rather than per-key locking: vault
// objects are small (directory records, config records, file chunks) and
// writes are infrequent relative to reads, so the simplicity of one lock
// outweighs the contention cost.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a filesystem-backed store rooted at root. The directory is
// created (along with any missing parents) if it does not already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// keyPath maps an object key to its path under root. Keys are produced
// internally by the engine (dirstore.ObjectKey, session content paths),
// never from untrusted input, but path traversal is still rejected
// defensively since a corrupted directory record could otherwise smuggle
// one in.
func (s *Store) keyPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("fsstore: invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func revisionOf(body []byte) objectstore.Revision {
	sum := sha256.Sum256(body)
	return objectstore.NewRevision(hex.EncodeToString(sum[:]))
}

func readRevision(path string) (objectstore.Revision, []byte, error) {
	body, err := os.ReadFile(path) // #nosec G304 path built from internal keyPath
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return objectstore.Revision{}, nil, nil
		}
		return objectstore.Revision{}, nil, err
	}
	return revisionOf(body), body, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(_ context.Context, key string, r io.Reader, expected *objectstore.Revision) (objectstore.Revision, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _, err := readRevision(path)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	if expected != nil {
		exists := !cur.IsZero()
		if (!exists && !expected.IsZero()) || (exists && cur.Tag() != expected.Tag()) {
			return objectstore.Revision{}, objectstore.PreconditionFailedError("put", key)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return objectstore.Revision{}, objectstore.TransportError("put", key, err)
	}
	return revisionOf(body), nil
}

// Get implements objectstore.Store.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, objectstore.Revision, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, objectstore.Revision{}, objectstore.TransportError("get", key, err)
	}
	f, err := os.Open(path) // #nosec G304 path built from internal keyPath
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, objectstore.Revision{}, objectstore.NotFoundError("get", key)
		}
		return nil, objectstore.Revision{}, objectstore.TransportError("get", key, err)
	}
	body, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, objectstore.Revision{}, objectstore.TransportError("get", key, err)
	}
	return io.NopCloser(bytes.NewReader(body)), revisionOf(body), nil
}

// Head implements objectstore.Store.
func (s *Store) Head(_ context.Context, key string) (objectstore.Revision, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("head", key, err)
	}
	rev, body, err := readRevision(path)
	if err != nil {
		return objectstore.Revision{}, objectstore.TransportError("head", key, err)
	}
	if body == nil {
		return objectstore.Revision{}, objectstore.NotFoundError("head", key)
	}
	return rev, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(_ context.Context, key string, expected *objectstore.Revision) error {
	path, err := s.keyPath(key)
	if err != nil {
		return objectstore.TransportError("delete", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, body, err := readRevision(path)
	if err != nil {
		return objectstore.TransportError("delete", key, err)
	}
	if body == nil {
		return objectstore.NotFoundError("delete", key)
	}
	if expected != nil && cur.Tag() != expected.Tag() {
		return objectstore.PreconditionFailedError("delete", key)
	}
	if err := os.Remove(path); err != nil {
		return objectstore.TransportError("delete", key, err)
	}
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, objectstore.TransportError("list", prefix, err)
	}
	return keys, nil
}

var _ objectstore.Store = (*Store)(nil)
