// Package cache defines the byte-value cache port. The service uses it to
// memoize short-lived lookups, chiefly per-user subscription snapshots read
// while building agent registries.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value cache with per-entry TTL. Get reports a miss with
// ok=false rather than an error; errors are reserved for backend faults.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
