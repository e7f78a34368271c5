package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/maneesh/filelink/internal/access"
	"github.com/maneesh/filelink/internal/models"
	"github.com/maneesh/filelink/internal/storage"
)

type entry struct {
	rec models.FileRecord
	seq uint64 // insertion order, also tells two records with the same id apart
}

// Memory is the in-process registry. One RWMutex guards the map: every
// mutation takes the write lock, reads take the read lock and return copies.
// Blob I/O always happens after the lock is released.
type Memory struct {
	mu      sync.RWMutex
	records map[string]entry
	seq     uint64

	ttl        time.Duration
	now        Clock
	blobs      storage.BlobStore
	policy     access.Policy
	tombstones *expirable.LRU[string, struct{}]
	logger     *log.Logger
}

// NewMemory returns an empty registry that removes blobs from blobs.
func NewMemory(blobs storage.BlobStore, policy access.Policy, opts Options) *Memory {
	opts = opts.withDefaults()
	m := &Memory{
		records: make(map[string]entry),
		ttl:     opts.TTL,
		now:     opts.Clock,
		blobs:   blobs,
		policy:  policy,
		logger:  opts.Logger.With("component", "registry"),
	}
	if opts.TombstoneRetention > 0 && opts.TombstoneCapacity > 0 {
		m.tombstones = expirable.NewLRU[string, struct{}](opts.TombstoneCapacity, nil, opts.TombstoneRetention)
	}
	return m
}

// TTL returns the lifetime applied to every record
func (m *Memory) TTL() time.Duration {
	return m.ttl
}

// Put inserts rec as a new live record.
func (m *Memory) Put(ctx context.Context, rec models.FileRecord) (models.FileRecord, error) {
	if rec.ID == "" {
		return models.FileRecord{}, ErrInvalidRecord
	}
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StorageRef == "" {
		rec.StorageRef = rec.ID
	}
	if !rec.IsLive(now, m.ttl) {
		return models.FileRecord{}, ErrExpired
	}

	var stale *models.FileRecord
	m.mu.Lock()
	if cur, ok := m.records[rec.ID]; ok {
		if cur.rec.IsLive(now, m.ttl) {
			m.mu.Unlock()
			return models.FileRecord{}, ErrDuplicateID
		}
		stale = &cur.rec
	}
	m.seq++
	m.records[rec.ID] = entry{rec: rec, seq: m.seq}
	if m.tombstones != nil {
		m.tombstones.Remove(rec.ID)
	}
	m.mu.Unlock()

	// An expired predecessor may point at a different blob.
	if stale != nil && stale.StorageRef != rec.StorageRef {
		removeBlob(ctx, m.blobs, m.logger, *stale)
	}

	m.logger.Debug("file registered", "file_id", rec.ID, "owner_id", rec.OwnerID, "size", rec.SizeBytes)
	return rec, nil
}

// Get returns the live record for id. An expired record is evicted on the spot.
func (m *Memory) Get(ctx context.Context, id string) (models.FileRecord, error) {
	now := m.now()

	m.mu.RLock()
	cur, ok := m.records[id]
	m.mu.RUnlock()

	if !ok {
		return models.FileRecord{}, m.missing(id)
	}
	if cur.rec.IsLive(now, m.ttl) {
		return cur.rec, nil
	}

	m.evict(ctx, id, cur.seq)
	return models.FileRecord{}, ErrExpired
}

// Delete removes the live record id on behalf of requester.
// Unknown ids are ErrNotFound for everyone; a live id owned by someone else
// is ErrForbidden, which tells a non-owner that the id exists.
func (m *Memory) Delete(ctx context.Context, id, requester string) (models.FileRecord, error) {
	now := m.now()

	m.mu.Lock()
	cur, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return models.FileRecord{}, m.missing(id)
	}
	if !cur.rec.IsLive(now, m.ttl) {
		m.dropExpired(id)
		m.mu.Unlock()
		m.buryExpired(ctx, cur.rec)
		return models.FileRecord{}, ErrExpired
	}
	if !m.policy.CanDelete(requester, cur.rec.OwnerID) {
		m.mu.Unlock()
		return models.FileRecord{}, ErrForbidden
	}
	delete(m.records, id)
	m.mu.Unlock()

	removeBlob(ctx, m.blobs, m.logger, cur.rec)
	m.logger.Info("file deleted", "file_id", id, "requester", requester)
	return cur.rec, nil
}

// ListByOwner returns ownerID's live records in insertion order.
func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]models.FileRecord, error) {
	return m.live(func(rec models.FileRecord) bool { return rec.OwnerID == ownerID }), nil
}

// ListAll returns every live record in insertion order. Callers check admin rights.
func (m *Memory) ListAll(_ context.Context) ([]models.FileRecord, error) {
	return m.live(nil), nil
}

// Stats aggregates over live records
func (m *Memory) Stats(_ context.Context) (models.Stats, error) {
	return computeStats(m.live(nil)), nil
}

// SweepExpired evicts every expired record and reports how many were removed.
func (m *Memory) SweepExpired(ctx context.Context) (int, error) {
	now := m.now()

	var expired []models.FileRecord
	m.mu.Lock()
	for id, cur := range m.records {
		if !cur.rec.IsLive(now, m.ttl) {
			expired = append(expired, cur.rec)
			m.dropExpired(id)
		}
	}
	m.mu.Unlock()

	for _, rec := range expired {
		m.buryExpired(ctx, rec)
	}
	return len(expired), nil
}

// DeleteAll removes every record. It returns the number of live records removed.
func (m *Memory) DeleteAll(ctx context.Context, requester string) (int, error) {
	if !m.policy.IsAdmin(requester) {
		return 0, ErrForbidden
	}
	now := m.now()

	m.mu.Lock()
	all := m.records
	m.records = make(map[string]entry)
	for id, cur := range all {
		if !cur.rec.IsLive(now, m.ttl) && m.tombstones != nil {
			m.tombstones.Add(id, struct{}{})
		}
	}
	m.mu.Unlock()

	count := 0
	for _, cur := range all {
		if cur.rec.IsLive(now, m.ttl) {
			count++
			removeBlob(ctx, m.blobs, m.logger, cur.rec)
		} else {
			m.buryExpired(ctx, cur.rec)
		}
	}

	m.logger.Warn("all files deleted", "requester", requester, "count", count)
	return count, nil
}

// live copies the live records matching keep (nil keeps all), oldest first.
func (m *Memory) live(keep func(models.FileRecord) bool) []models.FileRecord {
	now := m.now()

	m.mu.RLock()
	entries := make([]entry, 0, len(m.records))
	for _, cur := range m.records {
		if cur.rec.IsLive(now, m.ttl) && (keep == nil || keep(cur.rec)) {
			entries = append(entries, cur)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]models.FileRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

// evict removes id if it still holds the entry with seq.
func (m *Memory) evict(ctx context.Context, id string, seq uint64) {
	m.mu.Lock()
	cur, ok := m.records[id]
	if !ok || cur.seq != seq {
		m.mu.Unlock()
		return
	}
	m.dropExpired(id)
	m.mu.Unlock()

	m.buryExpired(ctx, cur.rec)
}

// dropExpired removes an expired id from the map and tombstones it, in one
// step under the write lock. mu must be held.
func (m *Memory) dropExpired(id string) {
	delete(m.records, id)
	if m.tombstones != nil {
		m.tombstones.Add(id, struct{}{})
	}
}

// buryExpired finishes evicting an expired record already dropped from the map.
func (m *Memory) buryExpired(ctx context.Context, rec models.FileRecord) {
	removeBlob(ctx, m.blobs, m.logger, rec)
	m.logger.Debug("expired file evicted", "file_id", rec.ID)
}

func (m *Memory) missing(id string) error {
	if m.tombstones != nil && m.tombstones.Contains(id) {
		return ErrExpired
	}
	return ErrNotFound
}

var _ FileRegistry = (*Memory)(nil)
