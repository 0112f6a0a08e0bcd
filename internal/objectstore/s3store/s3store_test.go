package s3store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/axiomvault/vault/internal/objectstore"
)

// These tests exercise the pure, non-networked pieces of the backend:
// object construction, error classification, and ETag-to-Revision mapping.
// Exercising Put/Get/Delete/List against a live bucket needs a real (or
// locally-run, e.g. MinIO) S3-compatible endpoint, which this suite does
// not assume is available.

func TestEtagRevisionStripsQuotes(t *testing.T) {
	etag := `"d41d8cd98f00b204e9800998ecf8427e"`
	rev := etagRevision(&etag)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", rev.Tag())
}

func TestEtagRevisionNilIsZero(t *testing.T) {
	rev := etagRevision(nil)
	assert.True(t, rev.IsZero())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(errors.New("some other failure")))
}

func TestIsAccessDenied(t *testing.T) {
	assert.True(t, isAccessDenied(errors.New("AccessDenied: no permission")))
	assert.True(t, isAccessDenied(errors.New("403 Forbidden")))
	assert.False(t, isAccessDenied(errors.New("NoSuchKey")))
}

func TestIsPreconditionFailure(t *testing.T) {
	assert.True(t, isPreconditionFailure(errors.New("PreconditionFailed: At least one of the pre-conditions")))
	assert.True(t, isPreconditionFailure(errors.New("ConditionalRequestConflict")))
	assert.True(t, isPreconditionFailure(errors.New("status code: 412")))
	assert.False(t, isPreconditionFailure(errors.New("NoSuchBucket")))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

var _ objectstore.Store = (*Store)(nil)
