package fsstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomvault/vault/internal/objectstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rev, err := s.Put(ctx, "dirs/abc", strings.NewReader("hello"), nil)
	require.NoError(t, err)
	assert.False(t, rev.IsZero())

	rc, gotRev, err := s.Get(ctx, "dirs/abc")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, rev, gotRev)
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = s.Get(ctx, "missing")
	assert.True(t, objectstore.IsNotFound(err))
}

func TestPutCreateOnlyCAS(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	createOnly := objectstore.NewRevision("")

	_, err = s.Put(ctx, "files/a", strings.NewReader("1"), &createOnly)
	require.NoError(t, err)

	_, err = s.Put(ctx, "files/a", strings.NewReader("2"), &createOnly)
	assert.True(t, objectstore.IsPreconditionFailed(err))
}

func TestPutCASAgainstStaleRevisionFails(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rev1, err := s.Put(ctx, "files/a", strings.NewReader("1"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "files/a", strings.NewReader("2"), &rev1)
	require.NoError(t, err)

	_, err = s.Put(ctx, "files/a", strings.NewReader("3"), &rev1)
	assert.True(t, objectstore.IsPreconditionFailed(err))
}

func TestDeleteCAS(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rev, err := s.Put(ctx, "files/a", strings.NewReader("1"), nil)
	require.NoError(t, err)

	stale := objectstore.NewRevision("not-current")
	assert.True(t, objectstore.IsPreconditionFailed(s.Delete(ctx, "files/a", &stale)))

	require.NoError(t, s.Delete(ctx, "files/a", &rev))
	_, _, err = s.Get(ctx, "files/a")
	assert.True(t, objectstore.IsNotFound(err))
}

func TestListExcludesTempFiles(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put(ctx, "files/a", strings.NewReader("1"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "dirs/b", strings.NewReader("2"), nil)
	require.NoError(t, err)

	keys, err := s.List(ctx, "files/")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/a"}, keys)
}

func TestKeyPathRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put(ctx, "../escape", strings.NewReader("x"), nil)
	assert.Error(t, err)

	_, _, err = s.Get(ctx, "/absolute")
	assert.Error(t, err)
}

func TestNewCreatesRootDirectory(t *testing.T) {
	root := t.TempDir() + "/nested/deeper"
	_, err := New(root)
	require.NoError(t, err)
}

var _ objectstore.Store = (*Store)(nil)
