package objectstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiomvault/vault/internal/vaulterr"
)

var errCause = errors.New("backend failure")

func TestRevisionZeroValue(t *testing.T) {
	var r Revision
	assert.True(t, r.IsZero())
	assert.Equal(t, "", r.Tag())

	r = NewRevision("abc123")
	assert.False(t, r.IsZero())
	assert.Equal(t, "abc123", r.Tag())
}

func TestSentinelPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundError("get", "k")))
	assert.True(t, IsAlreadyExists(AlreadyExistsError("put", "k")))
	assert.True(t, IsPreconditionFailed(PreconditionFailedError("put", "k")))
	assert.True(t, IsUnauthorized(UnauthorizedError("put", "k", errCause)))

	assert.False(t, IsNotFound(AlreadyExistsError("put", "k")))
	assert.False(t, IsPreconditionFailed(NotFoundError("get", "k")))
}

func TestErrorsUnwrapToVaultErr(t *testing.T) {
	err := NotFoundError("get", "k")
	assert.ErrorIs(t, err, vaulterr.ErrNotFound)

	err = TransportError("get", "k", errCause)
	assert.ErrorIs(t, err, vaulterr.ErrStoreTransport)
}
