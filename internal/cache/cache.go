// Package cache memoizes expensive per-key results (converted rule-sets)
// for a fixed TTL. Concurrent misses on one key share a single load.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Result tells how a value was obtained; it is used as a metrics label.
type Result string

const (
	Hit    Result = "hit"
	Miss   Result = "miss"
	Shared Result = "shared"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

type Cache[V any] struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	items map[string]entry[V]

	group singleflight.Group
}

// New returns a cache keeping values for ttl. maxEntries <= 0 means no
// bound.
func New[V any](ttl time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		items:      make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.items[key]; !ok && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = entry[V]{value: v, expires: now.Add(c.ttl)}
}

// evictLocked drops expired entries, or the one closest to expiry when
// nothing has expired.
func (c *Cache[V]) evictLocked(now time.Time) {
	oldest := ""
	var oldestAt time.Time
	removed := false
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
			removed = true
			continue
		}
		if oldest == "" || e.expires.Before(oldestAt) {
			oldest, oldestAt = k, e.expires
		}
	}
	if !removed && oldest != "" {
		delete(c.items, oldest)
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Do returns the cached value for key, or runs load once for all concurrent
// callers and caches a successful result. Errors are not cached.
//
// load runs detached from the caller's cancellation; ctx only bounds how
// long this caller waits.
func (c *Cache[V]) Do(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, Result, error) {
	if v, ok := c.Get(key); ok {
		return v, Hit, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, Miss, ctx.Err()
	case r := <-ch:
		res := Miss
		if r.Shared {
			res = Shared
		}
		v, _ := r.Val.(V)
		return v, res, r.Err
	}
}
