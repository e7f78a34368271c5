// Package registry tracks stored files and enforces their time-to-live and
// deletion rights.
//
// A record is live while now-created_at < TTL. Liveness is recomputed on
// every access; a read that finds an expired record evicts it (metadata and
// blob) before reporting ErrExpired, so a stale record is never served even
// if the background sweep has not run yet.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/maneesh/filelink/internal/models"
	"github.com/maneesh/filelink/internal/storage"
)

var (
	// ErrNotFound is returned for ids that are unknown or were explicitly deleted.
	ErrNotFound = errors.New("file not found")
	// ErrExpired is returned for ids whose TTL elapsed within the tombstone retention.
	ErrExpired = errors.New("file expired")
	// ErrForbidden is returned when the requester is neither owner nor admin.
	ErrForbidden = errors.New("requester may not modify this file")
	// ErrDuplicateID is returned by Put when a live record already uses the id.
	ErrDuplicateID = errors.New("duplicate file id")
	// ErrInvalidRecord is returned by Put for records without an id.
	ErrInvalidRecord = errors.New("invalid file record")
)

// FileRegistry is the set of operations the bot and the HTTP gateway use.
type FileRegistry interface {
	Put(ctx context.Context, rec models.FileRecord) (models.FileRecord, error)
	Get(ctx context.Context, id string) (models.FileRecord, error)
	Delete(ctx context.Context, id, requester string) (models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.FileRecord, error)
	ListAll(ctx context.Context) ([]models.FileRecord, error)
	Stats(ctx context.Context) (models.Stats, error)
	SweepExpired(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context, requester string) (int, error)
	TTL() time.Duration
}

// Clock returns the current time. Tests substitute a fixed or advancing clock.
type Clock func() time.Time

// DefaultTTL is the lifetime of every stored file.
const DefaultTTL = 24 * time.Hour

// Options configures a registry backend
type Options struct {
	TTL time.Duration
	// TombstoneRetention is how long an expired id keeps answering ErrExpired
	// instead of ErrNotFound. Zero disables tombstones.
	TombstoneRetention time.Duration
	// TombstoneCapacity bounds the in-memory tombstone set.
	TombstoneCapacity int
	Clock             Clock
	Logger            *log.Logger
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// computeStats aggregates records, which must already be filtered to live ones.
func computeStats(records []models.FileRecord) models.Stats {
	owners := make(map[string]struct{})
	var s models.Stats
	for _, rec := range records {
		s.Files++
		s.TotalSizeBytes += rec.SizeBytes
		owners[rec.OwnerID] = struct{}{}
	}
	s.UniqueOwners = len(owners)
	return s
}

// removeBlob deletes the blob behind rec. Failure is logged and swallowed:
// the metadata entry is what decides whether a file exists for users.
func removeBlob(ctx context.Context, blobs storage.BlobStore, logger *log.Logger, rec models.FileRecord) {
	// The caller's request may be gone; the cleanup must still run.
	ctx = context.WithoutCancel(ctx)
	if err := blobs.Delete(ctx, rec.StorageRef); err != nil {
		logger.Error("failed to remove blob", "file_id", rec.ID, "storage_ref", rec.StorageRef, "err", err)
	}
}
