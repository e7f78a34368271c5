package models

import "time"

// FileRecord represents one stored upload tracked by the registry.
// Records are immutable once accepted; they are only ever replaced by deletion.
type FileRecord struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	StorageRef string    `json:"storage_ref"`
}

// ExpiresAt returns the instant the record stops being live.
func (f FileRecord) ExpiresAt(ttl time.Duration) time.Time {
	return f.CreatedAt.Add(ttl)
}

// Remaining returns the TTL left at now. Zero or negative means expired.
func (f FileRecord) Remaining(now time.Time, ttl time.Duration) time.Duration {
	return ttl - now.Sub(f.CreatedAt)
}

// IsLive reports whether the record is still inside its TTL window at now.
// A record is expired at exactly created_at+ttl.
func (f FileRecord) IsLive(now time.Time, ttl time.Duration) bool {
	return f.Remaining(now, ttl) > 0
}

// Stats holds aggregates over live records
type Stats struct {
	Files          int   `json:"total_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	UniqueOwners   int   `json:"unique_users"`
}

// TotalSizeMB returns the total size in mebibytes.
func (s Stats) TotalSizeMB() float64 {
	return float64(s.TotalSizeBytes) / 1024 / 1024
}
