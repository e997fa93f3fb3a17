// Package hashcache memoizes expensive per-content computations (Tika
// output, language detection, email parses, archive listings) in the store,
// keyed by a content hash.
package hashcache

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Backend is the part of the store the cache needs.
type Backend interface {
	CacheGet(ctx context.Context, namespace, key string) ([]byte, bool, error)
	CachePut(ctx context.Context, namespace, key string, value []byte) ([]byte, error)
}

// Cache is a read-through cache. Concurrent misses for one key inside a
// process are collapsed into a single computation; across processes the
// store keeps the first value written.
type Cache struct {
	backend Backend
	enabled bool
	group   singleflight.Group
}

// New returns a cache over backend. A disabled cache always computes.
func New(backend Backend, enabled bool) *Cache {
	return &Cache{backend: backend, enabled: enabled}
}

// Enabled reports whether results are persisted.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// Bytes returns the cached value for (namespace, key), calling compute on
// a miss and storing its result.
func (c *Cache) Bytes(ctx context.Context, namespace, key string, compute func() ([]byte, error)) ([]byte, error) {
	if !c.Enabled() {
		return compute()
	}

	if v, ok, err := c.backend.CacheGet(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	v, err, _ := c.group.Do(namespace+"\x00"+key, func() (any, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		return c.backend.CachePut(ctx, namespace, key, value)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Get is Bytes for JSON-serializable values.
func Get[T any](ctx context.Context, c *Cache, namespace, key string, compute func() (T, error)) (T, error) {
	var zero T
	data, err := c.Bytes(ctx, namespace, key, func() ([]byte, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("decoding cached %s/%s: %w", namespace, key, err)
	}
	return out, nil
}
