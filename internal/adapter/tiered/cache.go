// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/chin-flags/fixapp/internal/port/cache"
	"github.com/chin-flags/fixapp/internal/resilience"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set, Delete and Clear operate on both levels.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	breaker  *resilience.Breaker
}

// Option configures a Cache.
type Option func(*Cache)

// WithBreaker routes L2 calls through b. While b is open, Get treats L2 as a
// miss and writes fail fast with resilience.ErrCircuitOpen.
func WithBreaker(b *resilience.Breaker) Option { return func(c *Cache) { c.breaker = b } }

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire caps how long entries live in L1, so a write made through another
// instance's L2 becomes visible here within that bound.
func New(l1, l2 cache.Cache, l1Expire time.Duration, opts ...Option) *Cache {
	c := &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) remote(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	err = c.remote(func() error {
		var err error
		val, found, err = c.l2.Get(ctx, key)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, min(ttl, c.l1Expire)); err != nil {
		return err
	}
	return c.remote(func() error { return c.l2.Set(ctx, key, value, ttl) })
}

// Delete removes from both L1 and L2.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote(func() error { return c.l2.Delete(ctx, key) })
}

// Clear empties both levels.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.l1.Clear(ctx); err != nil {
		return err
	}
	return c.remote(func() error { return c.l2.Clear(ctx) })
}
