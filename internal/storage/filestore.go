package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tempDirName = ".tmp"

// FileStore keeps blobs as flat files under a root directory.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore creates root (and its temp directory) on fsys if needed.
func NewFileStore(fsys afero.Fs, root string) (*FileStore, error) {
	root = filepath.Clean(root)
	if err := fsys.MkdirAll(filepath.Join(root, tempDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
	}
	return &FileStore{fs: fsys, root: root}, nil
}

func (s *FileStore) blobPath(ref string) string {
	return filepath.Join(s.root, ref)
}

// Put streams r into a temp file and renames it into place, so a
// partially written blob is never visible under ref.
func (s *FileStore) Put(ctx context.Context, ref string, r io.Reader) (int64, error) {
	ctx, span := tracer.Start(ctx, "filestore.put",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(s.root, tempDirName, ref)
	f, err := s.fs.Create(tmpPath)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: create temp file: %w", ErrStorage, err)
	}

	n, err := io.Copy(f, ctxReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		span.RecordError(err)
		return 0, fmt.Errorf("%w: write blob %s: %w", ErrStorage, ref, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		span.RecordError(err)
		return 0, fmt.Errorf("%w: close blob %s: %w", ErrStorage, ref, err)
	}
	if err := s.fs.Rename(tmpPath, s.blobPath(ref)); err != nil {
		s.fs.Remove(tmpPath)
		span.RecordError(err)
		return 0, fmt.Errorf("%w: rename blob %s: %w", ErrStorage, ref, err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", n))
	return n, nil
}

// Open returns the blob for reading. The caller closes it.
func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	_, span := tracer.Start(ctx, "filestore.open",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return nil, 0, err
	}

	f, err := s.fs.Open(s.blobPath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, ErrBlobNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("%w: open blob %s: %w", ErrStorage, ref, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		span.RecordError(err)
		return nil, 0, fmt.Errorf("%w: stat blob %s: %w", ErrStorage, ref, err)
	}

	return f, info.Size(), nil
}

// Delete removes the blob file
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	_, span := tracer.Start(ctx, "filestore.delete",
		trace.WithAttributes(attribute.String("storage_ref", ref)),
	)
	defer span.End()

	if err := validateRef(ref); err != nil {
		return err
	}

	err := s.fs.Remove(s.blobPath(ref))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		span.RecordError(err)
		return fmt.Errorf("%w: delete blob %s: %w", ErrStorage, ref, err)
	}
	return nil
}
