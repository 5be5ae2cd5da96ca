// Package cache defines the port interface for short-lived lookups that are
// expensive to recompute, such as probing the reasoning engine's version.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
