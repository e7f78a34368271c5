package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maneesh/filelink/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestRedisClientRecordRoundTrip(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	created := time.Now().Truncate(time.Millisecond)
	rec := models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a.txt", SizeBytes: 10, CreatedAt: created, StorageRef: "f1"}
	require.NoError(t, rc.CreateRecord(ctx, rec, created.Add(time.Hour), nil))

	got, err := rc.GetRecord(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.OwnerID, got.OwnerID)
	require.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	require.Equal(t, "u1", mr.HGet("file:f1", "owner_id"))
	require.True(t, mr.TTL("file:f1") > 0)

	missing, err := rc.GetRecord(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRedisClientCreateRecordGuardsDuplicates(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()
	rec := models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a", CreatedAt: time.Now()}

	require.NoError(t, rc.CreateRecord(ctx, rec, time.Now().Add(time.Hour), nil))
	err := rc.CreateRecord(ctx, rec, time.Now().Add(time.Hour), func(models.FileRecord) bool { return false })
	require.ErrorIs(t, err, ErrRecordExists)

	rec.OwnerID = "u2"
	require.NoError(t, rc.CreateRecord(ctx, rec, time.Now().Add(time.Hour), func(models.FileRecord) bool { return true }))
	got, err := rc.GetRecord(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "u2", got.OwnerID)
}

func TestRedisClientDeleteAndTombstone(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()
	rec := models.FileRecord{ID: "f1", OwnerID: "u1", Name: "a", CreatedAt: time.Now()}
	require.NoError(t, rc.CreateRecord(ctx, rec, time.Now().Add(time.Hour), nil))

	removed, err := rc.DeleteRecord(ctx, "f1", time.Time{}, time.Hour)
	require.NoError(t, err)
	require.True(t, removed)

	tomb, err := rc.IsTombstoned(ctx, "f1")
	require.NoError(t, err)
	require.True(t, tomb)

	removed, err = rc.DeleteRecord(ctx, "f1", time.Time{}, 0)
	require.NoError(t, err)
	require.False(t, removed)

	tomb, err = rc.IsTombstoned(ctx, "f1")
	require.NoError(t, err)
	require.False(t, tomb)
}

func TestRedisClientConditionalDeleteSparesReplacement(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()
	old := time.Now().Add(-25 * time.Hour)
	rec := models.FileRecord{ID: "f1", OwnerID: "u2", Name: "b", CreatedAt: time.Now()}
	require.NoError(t, rc.CreateRecord(ctx, rec, time.Now().Add(time.Hour), nil))

	removed, err := rc.DeleteRecord(ctx, "f1", old, time.Hour)
	require.NoError(t, err)
	require.False(t, removed)
	require.True(t, mr.Exists("file:f1"))
	require.False(t, mr.Exists("expired:f1"), "no tombstone over a live record")

	removed, err = rc.DeleteRecord(ctx, "missing", old, time.Hour)
	require.NoError(t, err)
	require.False(t, removed)
	require.False(t, mr.Exists("expired:missing"))

	removed, err = rc.DeleteRecord(ctx, "f1", rec.CreatedAt, time.Hour)
	require.NoError(t, err)
	require.True(t, removed)
	require.True(t, mr.Exists("expired:f1"))
}

func TestRedisClientScanRecordsOrdersByCreation(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		rec := models.FileRecord{ID: id, OwnerID: "u", Name: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, rc.CreateRecord(ctx, rec, base.Add(time.Hour), nil))
	}

	records, err := rc.ScanRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{records[0].ID, records[1].ID, records[2].ID})
}
