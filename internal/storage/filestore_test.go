package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	store, err := NewFileStore(fsys, "/data")
	require.NoError(t, err)
	return store, fsys
}

func TestFileStorePutOpenDelete(t *testing.T) {
	store, fsys := newTestFileStore(t)
	ctx := context.Background()

	n, err := store.Put(ctx, "abc123", strings.NewReader("hello world"))
	require.NoError(t, err)
	require.EqualValues(t, 11, n)

	// temp file is gone after the rename
	exists, err := afero.Exists(fsys, "/data/.tmp/abc123")
	require.NoError(t, err)
	require.False(t, exists)

	rc, size, err := store.Open(ctx, "abc123")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello world", string(data))
	require.EqualValues(t, 11, size)

	require.NoError(t, store.Delete(ctx, "abc123"))
	_, _, err = store.Open(ctx, "abc123")
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFileStoreDeleteMissingIsNoop(t *testing.T) {
	store, _ := newTestFileStore(t)
	require.NoError(t, store.Delete(context.Background(), "nothing-here"))
}

func TestFileStoreRejectsBadRefs(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	for _, ref := range []string{"", "../etc/passwd", "a/b", "with space", strings.Repeat("x", 200)} {
		_, err := store.Put(ctx, ref, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection dropped") }

func TestFileStorePutFailureLeavesNothing(t *testing.T) {
	store, fsys := newTestFileStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "broken", failingReader{})
	require.ErrorIs(t, err, ErrStorage)

	for _, p := range []string{"/data/broken", "/data/.tmp/broken"} {
		exists, err := afero.Exists(fsys, p)
		require.NoError(t, err)
		require.False(t, exists, p)
	}
}

func TestFileStorePutHonorsCancellation(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "cancelled", strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrStorage)
}
