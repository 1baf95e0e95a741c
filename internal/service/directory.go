package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/chin-flags/fixapp/internal/adapter/otel"
	"github.com/chin-flags/fixapp/internal/clock"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/cache"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// Client-facing tenant resolution errors.
var (
	ErrTenantNotFound = domain.NewError(domain.ErrNotFound, "Tenant not found")
	ErrTenantInactive = domain.NewError(domain.ErrForbidden, "Tenant is inactive")
)

// Resolution outcomes reported to TenantMetrics.
const (
	ResolveHit      = "hit"
	ResolveMiss     = "miss"
	ResolveNotFound = "not_found"
	ResolveError    = "error"
)

// TenantMetrics records directory outcomes. Implemented by the otel adapter.
type TenantMetrics interface {
	RecordTenantResolution(ctx context.Context, outcome string)
}

// directoryEntry is the cached form of a resolved tenant.
type directoryEntry struct {
	Tenant   tenancy.Snapshot `json:"tenant"`
	CachedAt time.Time        `json:"cachedAt"`
}

// TenantDirectory resolves subdomains to tenant snapshots through a TTL cache.
// Not-found results are never cached.
type TenantDirectory struct {
	store    database.Store
	cache    cache.Cache
	clock    clock.Clock
	ttl      time.Duration
	log      *zap.Logger
	metrics  TenantMetrics
	group    singleflight.Group
	instance string
}

// DirectoryOption configures a TenantDirectory.
type DirectoryOption func(*TenantDirectory)

// WithDirectoryClock overrides the clock used for entry expiry.
func WithDirectoryClock(c clock.Clock) DirectoryOption {
	return func(d *TenantDirectory) { d.clock = c }
}

// WithDirectoryMetrics attaches a metrics recorder.
func WithDirectoryMetrics(m TenantMetrics) DirectoryOption {
	return func(d *TenantDirectory) { d.metrics = m }
}

// WithDirectoryInstance sets the id used to ignore self-published invalidations.
func WithDirectoryInstance(id string) DirectoryOption {
	return func(d *TenantDirectory) { d.instance = id }
}

// NewTenantDirectory returns a directory caching lookups for ttl.
func NewTenantDirectory(store database.Store, c cache.Cache, ttl time.Duration, log *zap.Logger, opts ...DirectoryOption) *TenantDirectory {
	if log == nil {
		log = zap.NewNop()
	}
	d := &TenantDirectory{
		store: store,
		cache: c,
		clock: clock.Real{},
		ttl:   ttl,
		log:   log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func directoryKey(subdomain string) string { return "tenant:" + subdomain }

// Resolve returns the snapshot of the tenant owning subdomain. It does not
// check the tenant status; callers decide what an inactive tenant means.
func (d *TenantDirectory) Resolve(ctx context.Context, subdomain string) (tenancy.Snapshot, error) {
	subdomain = tenant.NormalizeSubdomain(subdomain)
	if subdomain == "" {
		return tenancy.Snapshot{}, ErrTenantNotFound
	}

	if snap, ok := d.lookup(ctx, subdomain); ok {
		d.record(ctx, ResolveHit)
		return snap, nil
	}

	v, err, _ := d.group.Do(subdomain, func() (any, error) {
		ctx, span := cfotel.StartTenantLookupSpan(ctx, subdomain)
		defer span.End()
		t, err := d.store.GetTenantBySubdomain(ctx, subdomain)
		if err != nil {
			return nil, err
		}
		snap := tenancy.FromTenant(t)
		d.populate(ctx, subdomain, snap)
		return snap, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.record(ctx, ResolveNotFound)
			return tenancy.Snapshot{}, ErrTenantNotFound
		}
		d.record(ctx, ResolveError)
		return tenancy.Snapshot{}, fmt.Errorf("resolve tenant %s: %w", subdomain, err)
	}

	d.record(ctx, ResolveMiss)
	return v.(tenancy.Snapshot), nil
}

// ResolveID loads a tenant by id without caching. Used where only the id is
// known, such as a socket handshake.
func (d *TenantDirectory) ResolveID(ctx context.Context, id string) (tenancy.Snapshot, error) {
	if checkID("Tenant", id) != nil {
		return tenancy.Snapshot{}, ErrTenantNotFound
	}
	t, err := d.store.GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return tenancy.Snapshot{}, ErrTenantNotFound
		}
		return tenancy.Snapshot{}, fmt.Errorf("resolve tenant id %s: %w", id, err)
	}
	return tenancy.FromTenant(t), nil
}

// Invalidate drops the cached entry of one subdomain.
func (d *TenantDirectory) Invalidate(ctx context.Context, subdomain string) {
	subdomain = tenant.NormalizeSubdomain(subdomain)
	if err := d.cache.Delete(ctx, directoryKey(subdomain)); err != nil {
		logger.FromContext(ctx, d.log).Warn("tenant cache invalidate failed",
			zap.String("subdomain", subdomain), zap.Error(err))
	}
}

// InvalidateAll drops every cached tenant.
func (d *TenantDirectory) InvalidateAll(ctx context.Context) {
	if err := d.cache.Clear(ctx); err != nil {
		logger.FromContext(ctx, d.log).Warn("tenant cache clear failed", zap.Error(err))
	}
}

// Listen applies invalidations published by other instances until ctx ends.
func (d *TenantDirectory) Listen(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectTenantInvalidate, func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.TenantInvalidatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode invalidation: %w", err)
		}
		if d.instance != "" && p.Origin == d.instance {
			return nil
		}
		if p.Subdomain == "" {
			d.InvalidateAll(ctx)
			return nil
		}
		d.Invalidate(ctx, p.Subdomain)
		return nil
	})
}

// lookup returns a fresh cached snapshot. Cache failures and corrupt entries
// count as misses.
func (d *TenantDirectory) lookup(ctx context.Context, subdomain string) (tenancy.Snapshot, bool) {
	raw, found, err := d.cache.Get(ctx, directoryKey(subdomain))
	if err != nil {
		logger.FromContext(ctx, d.log).Warn("tenant cache read failed",
			zap.String("subdomain", subdomain), zap.Error(err))
		return tenancy.Snapshot{}, false
	}
	if !found {
		return tenancy.Snapshot{}, false
	}

	var entry directoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		d.log.Warn("tenant cache entry corrupt", zap.String("subdomain", subdomain), zap.Error(err))
		return tenancy.Snapshot{}, false
	}
	if d.clock.Now().Sub(entry.CachedAt) >= d.ttl {
		return tenancy.Snapshot{}, false
	}
	return entry.Tenant, true
}

func (d *TenantDirectory) populate(ctx context.Context, subdomain string, snap tenancy.Snapshot) {
	raw, err := json.Marshal(directoryEntry{Tenant: snap, CachedAt: d.clock.Now()})
	if err != nil {
		d.log.Warn("tenant cache encode failed", zap.Error(err))
		return
	}
	if err := d.cache.Set(ctx, directoryKey(subdomain), raw, d.ttl); err != nil {
		logger.FromContext(ctx, d.log).Warn("tenant cache write failed",
			zap.String("subdomain", subdomain), zap.Error(err))
	}
}

func (d *TenantDirectory) record(ctx context.Context, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordTenantResolution(ctx, outcome)
	}
}
