// Package cachetest provides an in-memory cache and a compliance suite for
// cache.Cache implementations.
package cachetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chin-flags/fixapp/internal/port/cache"
)

// Memory is a map-backed cache.Cache. TTLs are recorded but not enforced.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	// Gets counts Get calls, for tests asserting cache traffic.
	Gets int
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	m.ttls = make(map[string]time.Duration)
	return nil
}

// Has reports whether key is stored.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// TTL returns the ttl recorded for key.
func (m *Memory) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// RunCompliance runs the standard behaviour suite against any cache.Cache.
// sync is called after writes for caches that apply them asynchronously; it
// may be nil.
func RunCompliance(t *testing.T, c cache.Cache, sync func()) {
	t.Helper()
	ctx := context.Background()
	settle := func() {
		if sync != nil {
			sync()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "compliance-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		settle()
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		settle()
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s (found=%v)", val, found)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		_ = c.Set(ctx, "clear-a", []byte("a"), time.Minute)
		_ = c.Set(ctx, "clear-b", []byte("b"), time.Minute)
		settle()
		if err := c.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		settle()
		for _, k := range []string{"clear-a", "clear-b"} {
			if _, found, _ := c.Get(ctx, k); found {
				t.Fatalf("expected %s to be cleared", k)
			}
		}
	})
}
