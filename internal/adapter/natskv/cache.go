// Package natskv implements the cache port on a NATS JetStream key-value
// bucket, shared by every process attached to the same server.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/patternwatch/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache wraps a JetStream KeyValue bucket. Expiry is configured on the
// bucket, so per-entry TTLs are ignored.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// bucketKey maps cache keys onto the KV key alphabet, where ':' is invalid.
func bucketKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, bucketKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, bucketKey(key), value)
	return err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, bucketKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
