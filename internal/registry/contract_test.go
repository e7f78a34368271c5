package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/filelink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behavior every backend must share.
func runContract(t *testing.T, newRegistry registryFactory) {
	ctx := context.Background()

	setup := func(t *testing.T) (FileRegistry, *flakyBlobs, *fakeClock) {
		blobs := newBlobs(t)
		clock := newFakeClock()
		return newRegistry(t, blobs, clock), blobs, clock
	}

	t.Run("GetAfterPutReturnsRecord", func(t *testing.T) {
		reg, blobs, clock := setup(t)
		rec := models.FileRecord{ID: "f1", OwnerID: "u1", Name: "report.pdf", SizeBytes: 1048576, CreatedAt: clock.Now()}
		putWithBlob(t, reg, blobs, rec)

		got, err := reg.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.OwnerID, got.OwnerID)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.SizeBytes, got.SizeBytes)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, "f1", got.StorageRef)
	})

	t.Run("PutSetsCreatedAtWhenMissing", func(t *testing.T) {
		reg, _, clock := setup(t)
		got, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(clock.Now()))
	})

	t.Run("PutRejectsDuplicateLiveID", func(t *testing.T) {
		reg, _, _ := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		_, err = reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u2", Name: "b"})
		require.ErrorIs(t, err, ErrDuplicateID)

		got, err := reg.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID, "original record untouched")
	})

	t.Run("PutReusesExpiredID", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		clock.Advance(reg.TTL())

		_, err = reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u2", Name: "b"})
		require.NoError(t, err)
		got, err := reg.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "u2", got.OwnerID)
	})

	t.Run("PutRejectsEmptyID", func(t *testing.T) {
		reg, _, _ := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{OwnerID: "u1"})
		require.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("TTLBoundary", func(t *testing.T) {
		reg, blobs, clock := setup(t)
		start := clock.Now()
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a", SizeBytes: 1048576, CreatedAt: start})

		clock.Advance(23*time.Hour + 59*time.Minute)
		_, err := reg.Get(ctx, "f1")
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrExpired)
		assert.False(t, blobExists(t, blobs, "f1"), "lazy eviction removes the blob")

		all, err := reg.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ExpiredExactlyAtTTL", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		clock.Advance(reg.TTL())
		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrExpired)
	})

	t.Run("ExpiredIDStaysExpiredAfterEviction", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		clock.Advance(reg.TTL() + time.Minute)

		n, err := reg.SweepExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrExpired)
		_, err = reg.Get(ctx, "never-issued")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListsExcludeExpired", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "old", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		clock.Advance(12 * time.Hour)
		_, err = reg.Put(ctx, models.FileRecord{ID: "new", OwnerID: "u1", Name: "b"})
		require.NoError(t, err)
		clock.Advance(12 * time.Hour)

		mine, err := reg.ListByOwner(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "new", mine[0].ID)
	})

	t.Run("ListsKeepInsertionOrder", func(t *testing.T) {
		reg, _, clock := setup(t)
		for i, id := range []string{"c", "a", "b", "d"} {
			owner := "u1"
			if i%2 == 1 {
				owner = "u2"
			}
			_, err := reg.Put(ctx, models.FileRecord{ID: id, OwnerID: owner, Name: id})
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
		}

		all, err := reg.ListAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b", "d"}, ids(all))

		mine, err := reg.ListByOwner(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "d"}, ids(mine))

		none, err := reg.ListByOwner(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("DeleteByNonOwnerIsForbiddenAndLeavesRecord", func(t *testing.T) {
		reg, blobs, _ := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "f1", OwnerID: "u2", Name: "a"})

		_, err := reg.Delete(ctx, "f1", "u1")
		require.ErrorIs(t, err, ErrForbidden)

		_, err = reg.Get(ctx, "f1")
		require.NoError(t, err)
		assert.True(t, blobExists(t, blobs, "f1"))
	})

	t.Run("DeleteUnknownIDIsNotFoundForAnyRequester", func(t *testing.T) {
		reg, _, _ := setup(t)
		for _, who := range []string{"u1", adminID, ""} {
			_, err := reg.Delete(ctx, "ghost", who)
			require.ErrorIs(t, err, ErrNotFound, who)
		}
	})

	t.Run("DeleteByOwnerRemovesRecordAndBlob", func(t *testing.T) {
		reg, blobs, _ := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})

		got, err := reg.Delete(ctx, "f1", "u1")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Name)

		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrNotFound, "explicit deletion leaves no expired marker")
		assert.False(t, blobExists(t, blobs, "f1"))
	})

	t.Run("DeleteByAdminOfOtherUsersFile", func(t *testing.T) {
		reg, blobs, _ := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "f1", OwnerID: "u2", Name: "a"})

		_, err := reg.Delete(ctx, "f1", "u1")
		require.ErrorIs(t, err, ErrForbidden)

		_, err = reg.Delete(ctx, "f1", adminID)
		require.NoError(t, err)
		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteSucceedsWhenBlobRemovalFails", func(t *testing.T) {
		reg, blobs, _ := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		blobs.setFailDelete(true)

		_, err := reg.Delete(ctx, "f1", "u1")
		require.NoError(t, err)
		_, err = reg.Get(ctx, "f1")
		require.ErrorIs(t, err, ErrNotFound, "metadata stays deleted")
		assert.Contains(t, blobs.deleted, "f1", "removal was attempted")
	})

	t.Run("DeleteExpiredIsExpired", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)
		clock.Advance(reg.TTL())
		_, err = reg.Delete(ctx, "f1", "u1")
		require.ErrorIs(t, err, ErrExpired)
	})

	t.Run("SweepIsIdempotent", func(t *testing.T) {
		reg, blobs, clock := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "old1", OwnerID: "u1", Name: "a"})
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "old2", OwnerID: "u2", Name: "b"})
		clock.Advance(20 * time.Hour)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "fresh", OwnerID: "u1", Name: "c"})
		clock.Advance(5 * time.Hour)

		n, err := reg.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.False(t, blobExists(t, blobs, "old1"))
		assert.False(t, blobExists(t, blobs, "old2"))
		assert.True(t, blobExists(t, blobs, "fresh"))

		n, err = reg.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("StatsMatchLiveRecords", func(t *testing.T) {
		reg, _, clock := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "a", OwnerID: "u1", Name: "a", SizeBytes: 100})
		require.NoError(t, err)
		clock.Advance(20 * time.Hour)
		_, err = reg.Put(ctx, models.FileRecord{ID: "b", OwnerID: "u1", Name: "b", SizeBytes: 200})
		require.NoError(t, err)
		_, err = reg.Put(ctx, models.FileRecord{ID: "c", OwnerID: "u2", Name: "c", SizeBytes: 300})
		require.NoError(t, err)
		_, err = reg.Put(ctx, models.FileRecord{ID: "d", OwnerID: "u3", Name: "d", SizeBytes: 400})
		require.NoError(t, err)

		s, err := reg.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Stats{Files: 4, TotalSizeBytes: 1000, UniqueOwners: 3}, s)

		_, err = reg.Delete(ctx, "d", "u3")
		require.NoError(t, err)
		clock.Advance(5 * time.Hour) // "a" expires

		s, err = reg.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Stats{Files: 2, TotalSizeBytes: 500, UniqueOwners: 2}, s)
	})

	t.Run("DeleteAllRequiresAdmin", func(t *testing.T) {
		reg, _, _ := setup(t)
		_, err := reg.Put(ctx, models.FileRecord{ID: "a", OwnerID: "u1", Name: "a"})
		require.NoError(t, err)

		_, err = reg.DeleteAll(ctx, "u1")
		require.ErrorIs(t, err, ErrForbidden)
		_, err = reg.Get(ctx, "a")
		require.NoError(t, err)
	})

	t.Run("DeleteAllCountsLiveRecords", func(t *testing.T) {
		reg, blobs, clock := setup(t)
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "expired", OwnerID: "u1", Name: "x"})
		clock.Advance(reg.TTL())
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "a", OwnerID: "u1", Name: "a"})
		putWithBlob(t, reg, blobs, models.FileRecord{ID: "b", OwnerID: "u2", Name: "b"})

		n, err := reg.DeleteAll(ctx, adminID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err := reg.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
		for _, id := range []string{"expired", "a", "b"} {
			assert.False(t, blobExists(t, blobs, id), id)
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		reg, _, _ := setup(t)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					id := fmt.Sprintf("w%d-%d", w, i)
					owner := fmt.Sprintf("u%d", w)
					_, err := reg.Put(ctx, models.FileRecord{ID: id, OwnerID: owner, Name: id, SizeBytes: 1})
					assert.NoError(t, err)
					_, err = reg.Get(ctx, id)
					assert.NoError(t, err)
					if i%5 == 0 {
						_, err = reg.Delete(ctx, id, owner)
						assert.NoError(t, err)
					}
					_, _ = reg.Stats(ctx)
				}
			}(w)
		}
		wg.Wait()

		s, err := reg.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8*20, s.Files)
		assert.EqualValues(t, 8*20, s.TotalSizeBytes)
		assert.Equal(t, 8, s.UniqueOwners)
	})
}

func ids(records []models.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
