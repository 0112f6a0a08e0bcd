// Package objectstore defines the narrow, backend-agnostic abstract byte-blob
// store the vault engine consumes. Every concrete backend —
// local filesystem, an S3-compatible bucket, or an in-memory fake used by
// tests — implements the same Store interface; the engine never names a
// concrete backend.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/axiomvault/vault/internal/vaulterr"
)

// Revision is an opaque compare-and-swap tag returned by Put/Get/Head and
// accepted by Put/Delete as an expected-current-state precondition. Backends
// are free to use content hashes, ETags, or version ids; callers must treat
// the value as opaque.
type Revision struct {
	tag string
}

// Tag returns the revision's opaque string form, usable as a map key or for
// logging (it is a content fingerprint, never plaintext).
func (r Revision) Tag() string { return r.tag }

// IsZero reports whether r is the zero Revision (no object observed yet).
func (r Revision) IsZero() bool { return r.tag == "" }

// NewRevision wraps an opaque tag string produced by a backend.
func NewRevision(tag string) Revision { return Revision{tag: tag} }

// storeError carries one of the Store sentinel errors plus backend context,
// without ever including secret material (keys passed to a Store are
// obfuscated storage keys, never cleartext names).
type storeError struct {
	op   string
	key  string
	err  error
	wrap error
}

func (e *storeError) Error() string {
	if e.wrap != nil {
		return e.op + " " + e.key + ": " + e.err.Error() + ": " + e.wrap.Error()
	}
	return e.op + " " + e.key + ": " + e.err.Error()
}

func (e *storeError) Unwrap() error { return e.err }

// NotFoundError wraps vaulterr.ErrNotFound with backend operation context.
func NotFoundError(op, key string) error {
	return &storeError{op: op, key: key, err: vaulterr.ErrNotFound}
}

// AlreadyExistsError wraps vaulterr.ErrAlreadyExists with backend operation context.
func AlreadyExistsError(op, key string) error {
	return &storeError{op: op, key: key, err: vaulterr.ErrAlreadyExists}
}

// PreconditionFailedError wraps the store-local precondition sentinel (not a
// vaulterr value), signaling a failed
// compare-and-swap. Callers use IsPreconditionFailed to detect it, not a
// direct type assertion, since backends may wrap it further.
func PreconditionFailedError(op, key string) error {
	return &storeError{op: op, key: key, err: precondFailed}
}

// TransportError wraps vaulterr.ErrStoreTransport around an opaque backend
// failure (network, filesystem I/O, etc).
func TransportError(op, key string, cause error) error {
	return &storeError{op: op, key: key, err: vaulterr.ErrStoreTransport, wrap: cause}
}

// UnauthorizedError wraps an opaque backend authorization failure (distinct
// from vault password failures, which never reach this package).
func UnauthorizedError(op, key string, cause error) error {
	return &storeError{op: op, key: key, err: errUnauthorized, wrap: cause}
}

// precondFailed and errUnauthorized are store-local sentinels distinct from
// vaulterr's engine-facing taxonomy: IsPreconditionFailed/IsUnauthorized let
// callers test for them without this package needing to know how the
// engine layer wants to re-surface them (it maps PreconditionFailed to
// vaulterr.ErrConflict itself, after exhausting CAS retries).
var (
	precondFailed   = errors.New("objectstore: precondition failed")
	errUnauthorized = errors.New("objectstore: unauthorized")
)

// IsNotFound reports whether err (or anything it wraps) is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, vaulterr.ErrNotFound) }

// IsAlreadyExists reports whether err (or anything it wraps) is an already-exists error.
func IsAlreadyExists(err error) bool { return errors.Is(err, vaulterr.ErrAlreadyExists) }

// IsPreconditionFailed reports whether err (or anything it wraps) is a failed-CAS error.
func IsPreconditionFailed(err error) bool { return errors.Is(err, precondFailed) }

// IsUnauthorized reports whether err (or anything it wraps) is a backend auth error.
func IsUnauthorized(err error) bool { return errors.Is(err, errUnauthorized) }

// Store is the abstract object-store contract the vault engine consumes.
// Implementations must make Put atomic: readers either see the old body or
// the new body, never a torn intermediate.
type Store interface {
	// Put writes an opaque byte stream. If expected is nil, the write is an
	// unconditional create-or-replace. If expected is non-nil, the write
	// succeeds only if the object's current revision equals *expected
	// (compare-and-swap); a mismatch returns a PreconditionFailedError.
	Put(ctx context.Context, key string, r io.Reader, expected *Revision) (Revision, error)

	// Get returns the object body and its current revision. The caller must
	// Close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, Revision, error)

	// Head returns the current revision without transferring the body.
	Head(ctx context.Context, key string) (Revision, error)

	// Delete removes an object, honoring the same CAS semantics as Put.
	Delete(ctx context.Context, key string, expected *Revision) error

	// List returns all keys under prefix. Ordering is unspecified. The
	// engine uses this only for discovery/repair, never for semantic
	// directory listing.
	List(ctx context.Context, prefix string) ([]string, error)
}
