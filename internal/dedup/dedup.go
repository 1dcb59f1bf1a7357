// Package dedup suppresses re-processing of redelivered webhook events with
// short-lived idempotency markers in the shared TTL cache.
package dedup

import (
	"context"
	"time"

	"wabridge/internal/cache"
)

const (
	keyPrefix  = "dedup:"
	DefaultTTL = 300 * time.Second
)

type Guard struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewGuard(c cache.Cache, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{cache: c, ttl: ttl}
}

// Claim atomically writes the marker and reports whether the caller is the
// first to process this event. Callers must claim before any remote side
// effect and treat false as a silent no-op.
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	return g.cache.SetNX(ctx, keyPrefix+key, "1", g.ttl)
}

// Release drops the marker so upstream redelivery can retry after a failed
// relay. Releasing an unclaimed key is harmless.
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.cache.Del(ctx, keyPrefix+key)
}
