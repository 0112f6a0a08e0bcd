package memstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomvault/vault/internal/objectstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	rev, err := s.Put(ctx, "k1", strings.NewReader("hello"), nil)
	require.NoError(t, err)
	assert.False(t, rev.IsZero())

	rc, gotRev, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, rev, gotRev)
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _, err := s.Get(ctx, "missing")
	assert.True(t, objectstore.IsNotFound(err))
}

func TestPutCreateOnlyCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	createOnly := objectstore.NewRevision("")

	_, err := s.Put(ctx, "k1", strings.NewReader("a"), &createOnly)
	require.NoError(t, err)

	_, err = s.Put(ctx, "k1", strings.NewReader("b"), &createOnly)
	assert.True(t, objectstore.IsPreconditionFailed(err))
}

func TestPutCASAgainstCurrentRevision(t *testing.T) {
	ctx := context.Background()
	s := New()

	rev1, err := s.Put(ctx, "k1", strings.NewReader("a"), nil)
	require.NoError(t, err)

	rev2, err := s.Put(ctx, "k1", strings.NewReader("b"), &rev1)
	require.NoError(t, err)
	assert.NotEqual(t, rev1, rev2)

	// Stale revision is now rejected.
	_, err = s.Put(ctx, "k1", strings.NewReader("c"), &rev1)
	assert.True(t, objectstore.IsPreconditionFailed(err))
}

func TestPutUnconditionalOverwritesAnyState(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Put(ctx, "k1", strings.NewReader("a"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "k1", strings.NewReader("b"), nil)
	require.NoError(t, err)

	rc, _, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 1)
	n, _ := rc.Read(buf)
	assert.Equal(t, "b", string(buf[:n]))
}

func TestDeleteCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	rev, err := s.Put(ctx, "k1", strings.NewReader("a"), nil)
	require.NoError(t, err)

	stale := objectstore.NewRevision("not-the-current-rev")
	err = s.Delete(ctx, "k1", &stale)
	assert.True(t, objectstore.IsPreconditionFailed(err))

	require.NoError(t, s.Delete(ctx, "k1", &rev))
	_, _, err = s.Get(ctx, "k1")
	assert.True(t, objectstore.IsNotFound(err))
}

func TestDeleteNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.Delete(ctx, "missing", nil)
	assert.True(t, objectstore.IsNotFound(err))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Put(ctx, "files/a", strings.NewReader("1"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "files/b", strings.NewReader("2"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "dirs/c", strings.NewReader("3"), nil)
	require.NoError(t, err)

	keys, err := s.List(ctx, "files/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"files/a", "files/b"}, keys)
}

func TestFailFuncInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	injected := errors.New("simulated crash")
	s.SetFailFunc(func(op, key string) error {
		if op == "put" {
			return injected
		}
		return nil
	})

	_, err := s.Put(ctx, "k1", strings.NewReader("a"), nil)
	assert.ErrorIs(t, err, injected)

	s.SetFailFunc(nil)
	_, err = s.Put(ctx, "k1", strings.NewReader("a"), nil)
	require.NoError(t, err)
}

func TestTamperByteChangesRevision(t *testing.T) {
	ctx := context.Background()
	s := New()
	rev, err := s.Put(ctx, "k1", strings.NewReader("hello"), nil)
	require.NoError(t, err)

	s.TamperByte("k1", 0)
	head, err := s.Head(ctx, "k1")
	require.NoError(t, err)
	assert.NotEqual(t, rev, head)
}

func TestRawBytesAndSetRawBytes(t *testing.T) {
	s := New()
	s.SetRawBytes("k1", []byte("injected"))
	b, ok := s.RawBytes("k1")
	require.True(t, ok)
	assert.Equal(t, "injected", string(b))

	_, ok = s.RawBytes("missing")
	assert.False(t, ok)
}

var _ objectstore.Store = (*Store)(nil)
