// Package cache provides the narrow TTL key-value client shared by the
// dedup guard and the session binding store. Every mutation is a single
// atomic key operation; no multi-key consistency is claimed.
package cache

import (
	"context"
	"time"
)

// Cache is the external TTL store. A missing key is reported as ("", false),
// never as an error.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the key only if absent, returning true when this caller won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}
