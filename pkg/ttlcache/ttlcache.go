// Package ttlcache is a read-through cache for dashboard aggregates. Entries
// expire after a fixed TTL and are never invalidated by writes, so readers may
// see data up to one TTL old.
package ttlcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 60 * time.Second

const defaultSize = 1024

type Option func(*options)

type options struct {
	size     int
	onResult func(hit bool)
}

// WithSize bounds the number of live keys (LRU eviction past that).
func WithSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithObserver is called once per Get with whether it was served from cache.
func WithObserver(fn func(hit bool)) Option {
	return func(o *options) { o.onResult = fn }
}

type Cache[V any] struct {
	entries  *expirable.LRU[string, V]
	group    singleflight.Group
	onResult func(hit bool)
}

func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{size: defaultSize}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		entries:  expirable.NewLRU[string, V](o.size, nil, ttl),
		onResult: o.onResult,
	}
}

// Get returns the cached value for key or runs load once for all concurrent
// callers missing the same key. Load errors are not cached.
func (c *Cache[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		c.observe(true)
		return v, nil
	}
	c.observe(false)

	ch := c.group.DoChan(key, func() (any, error) {
		// a cancelled first caller must not fail the others sharing this load
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		c.entries.Add(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[V]) Len() int { return c.entries.Len() }

func (c *Cache[V]) observe(hit bool) {
	if c.onResult != nil {
		c.onResult(hit)
	}
}
