package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/maneesh/filelink/internal/access"
	"github.com/maneesh/filelink/internal/models"
	"github.com/maneesh/filelink/internal/storage"
)

// Redis keeps records in Redis hashes. Each hash carries a native expiry at
// created_at+TTL+tombstone retention as a backstop; liveness is still decided
// from created_at so the TTL boundary matches the in-memory registry.
//
// A hash that Redis expires on its own takes its storage ref with it, so the
// sweeper must run often enough (well under the retention) to reclaim blobs.
type Redis struct {
	store     *storage.RedisClient
	blobs     storage.BlobStore
	policy    access.Policy
	ttl       time.Duration
	retention time.Duration
	now       Clock
	logger    *log.Logger
}

// NewRedis returns a registry backed by store.
func NewRedis(store *storage.RedisClient, blobs storage.BlobStore, policy access.Policy, opts Options) *Redis {
	opts = opts.withDefaults()
	return &Redis{
		store:     store,
		blobs:     blobs,
		policy:    policy,
		ttl:       opts.TTL,
		retention: opts.TombstoneRetention,
		now:       opts.Clock,
		logger:    opts.Logger.With("component", "registry"),
	}
}

// TTL returns the lifetime applied to every record
func (r *Redis) TTL() time.Duration {
	return r.ttl
}

// Put inserts rec as a new live record.
func (r *Redis) Put(ctx context.Context, rec models.FileRecord) (models.FileRecord, error) {
	if rec.ID == "" {
		return models.FileRecord{}, ErrInvalidRecord
	}
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StorageRef == "" {
		rec.StorageRef = rec.ID
	}
	if !rec.IsLive(now, r.ttl) {
		return models.FileRecord{}, ErrExpired
	}

	var stale *models.FileRecord
	replaceExpired := func(existing models.FileRecord) bool {
		if existing.IsLive(now, r.ttl) {
			return false
		}
		stale = &existing
		return true
	}

	expireAt := rec.ExpiresAt(r.ttl).Add(r.retention)
	if err := r.store.CreateRecord(ctx, rec, expireAt, replaceExpired); err != nil {
		if errors.Is(err, storage.ErrRecordExists) {
			return models.FileRecord{}, ErrDuplicateID
		}
		return models.FileRecord{}, err
	}

	if stale != nil && stale.StorageRef != rec.StorageRef {
		removeBlob(ctx, r.blobs, r.logger, *stale)
	}

	r.logger.Debug("file registered", "file_id", rec.ID, "owner_id", rec.OwnerID, "size", rec.SizeBytes)
	return rec, nil
}

// Get returns the live record for id. An expired record is evicted on the spot.
func (r *Redis) Get(ctx context.Context, id string) (models.FileRecord, error) {
	rec, err := r.store.GetRecord(ctx, id)
	if err != nil {
		return models.FileRecord{}, err
	}
	if rec == nil {
		return models.FileRecord{}, r.missing(ctx, id)
	}
	if rec.IsLive(r.now(), r.ttl) {
		return *rec, nil
	}

	if _, err := r.evict(ctx, *rec); err != nil {
		r.logger.Error("lazy eviction failed", "file_id", id, "err", err)
	}
	return models.FileRecord{}, ErrExpired
}

// Delete removes the live record id on behalf of requester, with the same
// disclosure rules as the in-memory registry.
func (r *Redis) Delete(ctx context.Context, id, requester string) (models.FileRecord, error) {
	rec, err := r.store.GetRecord(ctx, id)
	if err != nil {
		return models.FileRecord{}, err
	}
	if rec == nil {
		return models.FileRecord{}, r.missing(ctx, id)
	}
	if !rec.IsLive(r.now(), r.ttl) {
		if _, err := r.evict(ctx, *rec); err != nil {
			return models.FileRecord{}, err
		}
		return models.FileRecord{}, ErrExpired
	}
	if !r.policy.CanDelete(requester, rec.OwnerID) {
		return models.FileRecord{}, ErrForbidden
	}

	removed, err := r.store.DeleteRecord(ctx, id, rec.CreatedAt, 0)
	if err != nil {
		return models.FileRecord{}, err
	}
	if !removed {
		// lost a race with another delete or the sweeper
		return models.FileRecord{}, r.missing(ctx, id)
	}

	removeBlob(ctx, r.blobs, r.logger, *rec)
	r.logger.Info("file deleted", "file_id", id, "requester", requester)
	return *rec, nil
}

// ListByOwner returns ownerID's live records, oldest first.
func (r *Redis) ListByOwner(ctx context.Context, ownerID string) ([]models.FileRecord, error) {
	return r.live(ctx, func(rec models.FileRecord) bool { return rec.OwnerID == ownerID })
}

// ListAll returns every live record, oldest first. Callers check admin rights.
func (r *Redis) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	return r.live(ctx, nil)
}

// Stats aggregates over live records
func (r *Redis) Stats(ctx context.Context) (models.Stats, error) {
	records, err := r.live(ctx, nil)
	if err != nil {
		return models.Stats{}, err
	}
	return computeStats(records), nil
}

// SweepExpired evicts every expired record and reports how many were removed.
func (r *Redis) SweepExpired(ctx context.Context) (int, error) {
	records, err := r.store.ScanRecords(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	count := 0
	var errs []error
	for _, rec := range records {
		if rec.IsLive(now, r.ttl) {
			continue
		}
		removed, err := r.evict(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// DeleteAll removes every record and returns how many live ones were removed.
func (r *Redis) DeleteAll(ctx context.Context, requester string) (int, error) {
	if !r.policy.IsAdmin(requester) {
		return 0, ErrForbidden
	}

	records, err := r.store.ScanRecords(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	count := 0
	var errs []error
	for _, rec := range records {
		if !rec.IsLive(now, r.ttl) {
			if _, err := r.evict(ctx, rec); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		removed, err := r.store.DeleteRecord(ctx, rec.ID, rec.CreatedAt, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rec.ID, err))
			continue
		}
		if removed {
			count++
			removeBlob(ctx, r.blobs, r.logger, rec)
		}
	}

	r.logger.Warn("all files deleted", "requester", requester, "count", count)
	return count, errors.Join(errs...)
}

func (r *Redis) live(ctx context.Context, keep func(models.FileRecord) bool) ([]models.FileRecord, error) {
	records, err := r.store.ScanRecords(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := records[:0]
	for _, rec := range records {
		if rec.IsLive(now, r.ttl) && (keep == nil || keep(rec)) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// evict removes an expired record, leaves a tombstone and drops its blob.
// Nothing happens if the id has meanwhile been reused by a new record.
func (r *Redis) evict(ctx context.Context, rec models.FileRecord) (bool, error) {
	removed, err := r.store.DeleteRecord(ctx, rec.ID, rec.CreatedAt, r.retention)
	if err != nil {
		return false, err
	}
	if removed {
		removeBlob(ctx, r.blobs, r.logger, rec)
		r.logger.Debug("expired file evicted", "file_id", rec.ID)
	}
	return removed, nil
}

func (r *Redis) missing(ctx context.Context, id string) error {
	if r.retention <= 0 {
		return ErrNotFound
	}
	tomb, err := r.store.IsTombstoned(ctx, id)
	if err != nil {
		return err
	}
	if tomb {
		return ErrExpired
	}
	return ErrNotFound
}

var _ FileRegistry = (*Redis)(nil)
