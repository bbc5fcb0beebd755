// Package ristretto implements the cache port on dgraph-io/ristretto. It
// backs the subscription snapshot cache consulted on every agent registry
// build, so entitlement reads do not hit postgres on each orchestrator
// construction.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is an in-process cache with per-entry TTL. Entries are costed by
// value size in bytes.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of cached values. Subscription
// snapshots are small, so the counters are sized for ~10x the expected
// entry count.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached value for key, reporting a miss with ok=false.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for the given TTL. Ristretto admission may
// reject the entry; callers treat the cache as best-effort.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops the entry for key. Registry refreshes use this to invalidate
// a user's subscription snapshot before rebuilding.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
