// Package cache defines the port for caching rendered result views.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache. A miss is reported through the
// bool result, never as an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
