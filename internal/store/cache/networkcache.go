// Package cache provides the read-mostly network-size counter cache
// §5 calls out: bounded staleness, safe for concurrent rate
// composition reads while an external aggregator updates it.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/finova-network/reward-engine/internal/domain"
)

const networkContextKey = "reward-engine:network-context"

// NetworkContextCache wraps a Redis client for the single shared
// NetworkContext value every mining-rate composition reads.
type NetworkContextCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewNetworkContextCache returns a cache that treats entries older
// than ttl as stale (the "configured freshness window" of §5).
func NewNetworkContextCache(rdb *redis.Client, ttl time.Duration) *NetworkContextCache {
	return &NetworkContextCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached NetworkContext, or ok=false if absent or
// expired under Redis's own TTL.
func (c *NetworkContextCache) Get(ctx context.Context) (domain.NetworkContext, bool, error) {
	raw, err := c.rdb.Get(ctx, networkContextKey).Bytes()
	if err == redis.Nil {
		return domain.NetworkContext{}, false, nil
	}
	if err != nil {
		return domain.NetworkContext{}, false, err
	}
	var nc domain.NetworkContext
	if err := json.Unmarshal(raw, &nc); err != nil {
		return domain.NetworkContext{}, false, err
	}
	return nc, true, nil
}

// Set stores a freshly-read NetworkContext, expiring it after the
// configured freshness window.
func (c *NetworkContextCache) Set(ctx context.Context, nc domain.NetworkContext) error {
	raw, err := json.Marshal(nc)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, networkContextKey, raw, c.ttl).Err()
}

// IsStale reports whether a NetworkContext read at nc.AsOf is older
// than maxAge as of now, independent of Redis's own expiry (used when
// a caller wants a stricter staleness bound than the cache TTL, e.g.
// to decide whether to force a synchronous refresh).
func IsStale(nc domain.NetworkContext, maxAge time.Duration, now time.Time) bool {
	if nc.AsOf.IsZero() {
		return true
	}
	return now.Sub(nc.AsOf) > maxAge
}
