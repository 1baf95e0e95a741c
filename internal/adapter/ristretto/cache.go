// Package ristretto implements the cache port as a process-local L1 on
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// minCounters keeps admission sane for tiny caches.
const minCounters = 1024

// Cache is one named L1 namespace. Values are copied on the way in and on
// the way out so callers never share a backing array with the cache.
type Cache struct {
	name string
	c    *ristretto.Cache[string, []byte]

	hits   *prometheus.Desc
	misses *prometheus.Desc
	evicts *prometheus.Desc
	cost   *prometheus.Desc
}

var _ prometheus.Collector = (*Cache)(nil)

// New creates a cache holding at most maxCostBytes of keys plus values.
// name labels the exported metrics.
func New(name string, maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / 100 * 10 // ~10x expected items at 100 bytes each
	if counters < minCounters {
		counters = minCounters
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxCostBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	labels := prometheus.Labels{"cache": name}
	return &Cache{
		name:   name,
		c:      c,
		hits:   prometheus.NewDesc("fixapp_l1_cache_hits_total", "L1 cache hits.", nil, labels),
		misses: prometheus.NewDesc("fixapp_l1_cache_misses_total", "L1 cache misses.", nil, labels),
		evicts: prometheus.NewDesc("fixapp_l1_cache_evictions_total", "L1 cache evictions.", nil, labels),
		cost:   prometheus.NewDesc("fixapp_l1_cache_cost_bytes", "Bytes currently held by the L1 cache.", nil, labels),
	}, nil
}

// Name returns the namespace the cache was created with.
func (c *Cache) Name() string { return c.name }

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return clone(val), true, nil
}

// Set stores a value with the given TTL; zero means no expiry. Writes go
// through ristretto's buffers and Wait makes them visible to the next Get
// on this instance. A value ristretto refuses to admit is dropped silently.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		c.c.Del(key)
		return nil
	}
	c.c.SetWithTTL(key, clone(value), int64(len(key)+len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Clear drops every entry in this namespace.
func (c *Cache) Clear(_ context.Context) error {
	c.c.Clear()
	return nil
}

// Stats reports the hit ratio since creation.
func (c *Cache) Stats() (hits, misses uint64, ratio float64) {
	m := c.c.Metrics
	return m.Hits(), m.Misses(), m.Ratio()
}

func (c *Cache) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evicts
	ch <- c.cost
}

func (c *Cache) Collect(ch chan<- prometheus.Metric) {
	m := c.c.Metrics
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.Hits()))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses()))
	ch <- prometheus.MustNewConstMetric(c.evicts, prometheus.CounterValue, float64(m.KeysEvicted()))
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, float64(m.CostAdded()-m.CostEvicted()))
}

func (c *Cache) Close() {
	c.c.Close()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
