// Package vaulterr defines the stable, non-secret error taxonomy shared by
// every layer of the vault engine. Every sentinel here may cross the public
// API boundary via errors.Is; none of them, nor any error wrapping them, may
// carry plaintext content, cleartext names, or key bytes in its message.
package vaulterr

import "errors"

// Sentinel errors forming the engine-wide taxonomy.
var (
	// ErrInvalidInput indicates a path/name/size constraint was violated
	// before any I/O was attempted.
	ErrInvalidInput = errors.New("axiomvault: invalid input")

	// ErrUnauthorized indicates the supplied password was wrong: AEAD
	// unwrap of the config record's inner blob failed.
	ErrUnauthorized = errors.New("axiomvault: unauthorized")

	// ErrUnauthentic indicates AEAD tag verification failed on content,
	// a name, a directory record, or the config record's inner blob.
	ErrUnauthentic = errors.New("axiomvault: unauthentic")

	// ErrNotFound indicates path resolution terminated without a match.
	ErrNotFound = errors.New("axiomvault: not found")

	// ErrAlreadyExists indicates a create collided with an existing entry.
	ErrAlreadyExists = errors.New("axiomvault: already exists")

	// ErrConflict indicates a compare-and-swap exhausted its retries.
	ErrConflict = errors.New("axiomvault: conflict")

	// ErrUnsupported indicates a recognized but not-yet-implemented
	// operation (e.g. sub-chunk random writes).
	ErrUnsupported = errors.New("axiomvault: unsupported")

	// ErrCancelled indicates the caller aborted the operation before commit.
	ErrCancelled = errors.New("axiomvault: cancelled")

	// ErrStoreTransport indicates an opaque backend transport failure,
	// bubbled from the ObjectStore implementation.
	ErrStoreTransport = errors.New("axiomvault: store transport error")

	// ErrCorrupt indicates an internal invariant was violated: a dangling
	// reference, a format version mismatch, or a bad header magic.
	ErrCorrupt = errors.New("axiomvault: corrupt")
)
