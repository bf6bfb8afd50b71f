// Package cache defines the port interface for the in-process L1 cache used
// in front of the shared key-value store on the resolution path.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-value cache with per-entry TTL. Implementations may evict
// entries early; callers must treat every read as best-effort.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
