package vault

import "github.com/axiomvault/vault/internal/vaulterr"

// Sentinel errors surfaced across the Vault API boundary, checked with
// errors.Is. None of these, nor any error wrapping them, ever includes
// secret material (a password, key, or plaintext path) in its message.
var (
	ErrInvalidInput   = vaulterr.ErrInvalidInput
	ErrUnauthorized   = vaulterr.ErrUnauthorized
	ErrUnauthentic    = vaulterr.ErrUnauthentic
	ErrNotFound       = vaulterr.ErrNotFound
	ErrAlreadyExists  = vaulterr.ErrAlreadyExists
	ErrConflict       = vaulterr.ErrConflict
	ErrUnsupported    = vaulterr.ErrUnsupported
	ErrCancelled      = vaulterr.ErrCancelled
	ErrStoreTransport = vaulterr.ErrStoreTransport
	ErrCorrupt        = vaulterr.ErrCorrupt
)
