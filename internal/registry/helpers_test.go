package registry

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/maneesh/filelink/internal/models"
	"github.com/maneesh/filelink/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const adminID = "admin"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// real wall time so Redis native expiries land in the future
	return &fakeClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyBlobs wraps a real store and can be told to fail deletes.
type flakyBlobs struct {
	storage.BlobStore
	mu         sync.Mutex
	failDelete bool
	deleted    []string
}

func (f *flakyBlobs) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	if f.failDelete {
		return errors.New("disk on fire")
	}
	return f.BlobStore.Delete(ctx, ref)
}

func (f *flakyBlobs) setFailDelete(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = v
}

func newBlobs(t *testing.T) *flakyBlobs {
	t.Helper()
	store, err := storage.NewFileStore(afero.NewMemMapFs(), "/blobs")
	require.NoError(t, err)
	return &flakyBlobs{BlobStore: store}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// putWithBlob writes a blob and registers its record, as the bot does.
func putWithBlob(t *testing.T, reg FileRegistry, blobs storage.BlobStore, rec models.FileRecord) models.FileRecord {
	t.Helper()
	ctx := context.Background()
	_, err := blobs.Put(ctx, rec.ID, strings.NewReader("payload-"+rec.ID))
	require.NoError(t, err)
	got, err := reg.Put(ctx, rec)
	require.NoError(t, err)
	return got
}

func blobExists(t *testing.T, blobs storage.BlobStore, ref string) bool {
	t.Helper()
	rc, _, err := blobs.Open(context.Background(), ref)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return false
	}
	require.NoError(t, err)
	rc.Close()
	return true
}

type registryFactory func(t *testing.T, blobs storage.BlobStore, clock *fakeClock) FileRegistry
