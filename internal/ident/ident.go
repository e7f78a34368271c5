package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Allocator produces identifiers for stored files
type Allocator interface {
	NewID() string
}

// UUIDAllocator issues random (v4) UUIDs without dashes so download
// links stay short.
type UUIDAllocator struct{}

// NewID returns a fresh identifier
func (UUIDAllocator) NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Func adapts a plain function to an Allocator.
type Func func() string

// NewID calls f
func (f Func) NewID() string {
	return f()
}
