package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/maneesh/filelink/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	recordKeyPrefix  = "file:"
	expiredKeyPrefix = "expired:"
	scanBatch        = 200
)

// ErrRecordExists is returned by CreateRecord when a record that may not
// be replaced already holds the key.
var ErrRecordExists = errors.New("record already exists")

// errRecordChanged aborts a conditional delete whose record was replaced or removed.
var errRecordChanged = errors.New("record changed")

// RedisClient stores file records as one hash per id with tracing
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func recordKey(id string) string  { return recordKeyPrefix + id }
func expiredKey(id string) string { return expiredKeyPrefix + id }

func recordToHash(rec models.FileRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":          rec.ID,
		"owner_id":    rec.OwnerID,
		"name":        rec.Name,
		"size":        strconv.FormatInt(rec.SizeBytes, 10),
		"created_at":  strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		"storage_ref": rec.StorageRef,
	}
}

func hashToRecord(id string, h map[string]string) (models.FileRecord, error) {
	size, err := strconv.ParseInt(h["size"], 10, 64)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("record %s: bad size %q: %w", id, h["size"], err)
	}
	created, err := strconv.ParseInt(h["created_at"], 10, 64)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("record %s: bad created_at %q: %w", id, h["created_at"], err)
	}
	ref := h["storage_ref"]
	if ref == "" {
		ref = id
	}
	return models.FileRecord{
		ID:         id,
		OwnerID:    h["owner_id"],
		Name:       h["name"],
		SizeBytes:  size,
		CreatedAt:  time.Unix(0, created),
		StorageRef: ref,
	}, nil
}

// GetRecord returns the stored record or nil when the key is absent.
func (rc *RedisClient) GetRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_record",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	h, err := rc.client.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if len(h) == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	rec, err := hashToRecord(id, h)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", true))
	return &rec, nil
}

// CreateRecord writes rec with a native expiry at expireAt. If a record
// already holds the key, replace decides whether it may be overwritten;
// otherwise ErrRecordExists is returned. The check and write run inside
// WATCH/MULTI so concurrent creators cannot both succeed.
func (rc *RedisClient) CreateRecord(ctx context.Context, rec models.FileRecord, expireAt time.Time, replace func(existing models.FileRecord) bool) error {
	ctx, span := tracer.Start(ctx, "redis.create_record",
		trace.WithAttributes(
			attribute.String("file_id", rec.ID),
			attribute.Int64("file_size", rec.SizeBytes),
		),
	)
	defer span.End()

	key := recordKey(rec.ID)
	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) > 0 {
			existing, err := hashToRecord(rec.ID, h)
			if err == nil && (replace == nil || !replace(existing)) {
				return ErrRecordExists
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, expiredKey(rec.ID))
			pipe.HSet(ctx, key, recordToHash(rec))
			pipe.ExpireAt(ctx, key, expireAt)
			return nil
		})
		return err
	}

	if err := rc.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrRecordExists) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create record: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// DeleteRecord removes the record hash. When tombstone > 0 an expired
// marker is left behind for that long. A non-zero createdAt makes the delete
// conditional: it only happens while the hash still holds the record created
// at that instant, so a replacement written under the same id survives.
// It reports whether a record was removed.
func (rc *RedisClient) DeleteRecord(ctx context.Context, id string, createdAt time.Time, tombstone time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.delete_record",
		trace.WithAttributes(
			attribute.String("file_id", id),
			attribute.Bool("tombstone", tombstone > 0),
			attribute.Bool("conditional", !createdAt.IsZero()),
		),
	)
	defer span.End()

	key := recordKey(id)
	var del *redis.IntCmd
	write := func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		if tombstone > 0 {
			pipe.Set(ctx, expiredKey(id), "1", tombstone)
		} else {
			pipe.Del(ctx, expiredKey(id))
		}
		return nil
	}

	var err error
	if createdAt.IsZero() {
		_, err = rc.client.TxPipelined(ctx, write)
	} else {
		want := strconv.FormatInt(createdAt.UnixNano(), 10)
		err = rc.client.Watch(ctx, func(tx *redis.Tx) error {
			got, err := tx.HGet(ctx, key, "created_at").Result()
			if errors.Is(err, redis.Nil) || (err == nil && got != want) {
				return errRecordChanged
			}
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, write)
			return err
		}, key)
	}
	if errors.Is(err, errRecordChanged) || errors.Is(err, redis.TxFailedErr) {
		span.SetAttributes(attribute.Bool("record_changed", true))
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	return del.Val() > 0, nil
}

// IsTombstoned reports whether id was recently evicted for expiry.
func (rc *RedisClient) IsTombstoned(ctx context.Context, id string) (bool, error) {
	n, err := rc.client.Exists(ctx, expiredKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone: %w", err)
	}
	return n > 0, nil
}

// ScanRecords returns every stored record ordered by creation time.
// Hashes that vanish or fail to parse mid-scan are skipped.
func (rc *RedisClient) ScanRecords(ctx context.Context) ([]models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.scan_records")
	defer span.End()

	var records []models.FileRecord
	iter := rc.client.Scan(ctx, 0, recordKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := key[len(recordKeyPrefix):]
		h, err := rc.client.HGetAll(ctx, key).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to read record %s: %w", id, err)
		}
		if len(h) == 0 {
			continue
		}
		rec, err := hashToRecord(id, h)
		if err != nil {
			span.RecordError(err)
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	span.SetAttributes(attribute.Int("record_count", len(records)))
	return records, nil
}
