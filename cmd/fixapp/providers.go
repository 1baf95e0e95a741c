package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	cfnats "github.com/chin-flags/fixapp/internal/adapter/nats"
	"github.com/chin-flags/fixapp/internal/adapter/natskv"
	"github.com/chin-flags/fixapp/internal/adapter/redis"
	"github.com/chin-flags/fixapp/internal/adapter/ristretto"
	"github.com/chin-flags/fixapp/internal/adapter/tiered"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/port/cache"
	"github.com/chin-flags/fixapp/internal/resilience"
)

// An unreachable L2 is skipped for l2Cooldown after l2MaxFailures straight errors.
const (
	l2MaxFailures = 5
	l2Cooldown    = 30 * time.Second
)

// caches holds one namespace per consumer. Clear on one never touches another.
type caches struct {
	directory   cache.Cache
	presence    cache.Cache
	idempotency cache.Cache
	l1          []*ristretto.Cache
	closers     []func()
}

// collectors returns the L1 caches for metrics registration.
func (c *caches) collectors() []prometheus.Collector {
	out := make([]prometheus.Collector, 0, len(c.l1))
	for _, l1 := range c.l1 {
		out = append(out, l1)
	}
	return out
}

func (c *caches) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// newL1 returns a process-local ristretto cache of the configured size.
func (c *caches) newL1(name string, cfg config.Cache) (*ristretto.Cache, error) {
	l1, err := ristretto.New(name, cfg.L1MaxSizeMB<<20)
	if err != nil {
		return nil, fmt.Errorf("ristretto %s: %w", name, err)
	}
	c.l1 = append(c.l1, l1)
	c.closers = append(c.closers, l1.Close)
	return l1, nil
}

// buildCaches wires the cache backend selected by cfg.Cache.Backend:
//
//	memory  ristretto only; directory and presence are per instance
//	nats    ristretto L1 over JetStream KV buckets
//	redis   ristretto L1 over Redis, which also stores presence and idempotency keys
func buildCaches(ctx context.Context, cfg *config.Config, q *cfnats.Queue, log *zap.Logger) (_ *caches, err error) {
	c := &caches{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	dirL1, err := c.newL1("directory", cfg.Cache)
	if err != nil {
		return nil, err
	}
	idemL1, err := c.newL1("idempotency", cfg.Cache)
	if err != nil {
		return nil, err
	}
	c.idempotency = idemL1

	breaker := resilience.NewBreaker(l2MaxFailures, l2Cooldown,
		resilience.OnStateChange(func(from, to resilience.State) {
			log.Warn("directory L2 breaker", zap.Stringer("from", from), zap.Stringer("to", to))
		}))

	switch cfg.Cache.Backend {
	case config.CacheNATS:
		tenants, err := natskv.Open(ctx, q.JetStream(), cfg.NATS.TenantBucket, cfg.Tenancy.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("tenant bucket: %w", err)
		}
		presence, err := natskv.Open(ctx, q.JetStream(), cfg.NATS.PresenceBucket, cfg.Realtime.LivenessTTL)
		if err != nil {
			return nil, fmt.Errorf("presence bucket: %w", err)
		}
		c.directory = tiered.New(dirL1, tenants, cfg.Cache.L1TTL, tiered.WithBreaker(breaker))
		c.presence = presence

	case config.CacheRedis:
		client, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		c.directory = tiered.New(dirL1, redis.New(client, "fixapp:directory:"), cfg.Cache.L1TTL, tiered.WithBreaker(breaker))
		c.presence = redis.New(client, "fixapp:presence:")
		c.idempotency = redis.New(client, "fixapp:idempotency:")

	default:
		presence, err := c.newL1("presence", cfg.Cache)
		if err != nil {
			return nil, err
		}
		c.directory = dirL1
		c.presence = presence
	}

	log.Info("cache backend ready", zap.String("backend", cfg.Cache.Backend))
	return c, nil
}
