package storage

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("filelink-storage")

var (
	// ErrBlobNotFound is returned when a blob does not exist in the store.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrStorage marks a failed blob write, read or delete.
	ErrStorage = errors.New("storage fault")
	// ErrInvalidRef is returned for storage refs that cannot name a blob.
	ErrInvalidRef = errors.New("invalid storage ref")
)

// BlobStore writes and reads raw file bytes keyed by a storage ref.
// Implementations do no locking of their own beyond what the backend provides.
type BlobStore interface {
	// Put stores everything read from r under ref and returns the bytes written.
	Put(ctx context.Context, ref string, r io.Reader) (int64, error)
	// Open returns a reader for the blob and its size, or ErrBlobNotFound.
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
}

// validateRef rejects refs that could escape the store root or be empty.
func validateRef(ref string) error {
	if ref == "" || len(ref) > 128 {
		return ErrInvalidRef
	}
	for _, c := range ref {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ErrInvalidRef
		}
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
