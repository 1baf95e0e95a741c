// Package tenancy carries the current tenant through a request's
// context.Context.
//
// A snapshot attached with WithTenant or Run is visible to everything that
// receives the derived context, including goroutines started with it. Parent
// contexts are never modified, so concurrent and nested scopes cannot observe
// each other's tenant.
package tenancy

import (
	"context"
	"maps"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
)

// ErrNoContext is returned by CurrentOrFail outside a tenant scope.
var ErrNoContext = domain.NewError(domain.ErrConfiguration, "Tenant context not available")

// Snapshot is the immutable view of the current tenant.
type Snapshot struct {
	TenantID  string            `json:"id"`
	Name      string            `json:"name"`
	Subdomain string            `json:"subdomain"`
	Status    tenant.Status     `json:"status"`
	Settings  map[string]string `json:"settings"`
}

// FromTenant copies t into a Snapshot. Settings are cloned.
func FromTenant(t *tenant.Tenant) Snapshot {
	return Snapshot{
		TenantID:  t.ID,
		Name:      t.Name,
		Subdomain: t.Subdomain,
		Status:    t.Status,
		Settings:  cloneSettings(t.Settings),
	}
}

// Active reports whether the tenant may be accessed.
func (s Snapshot) Active() bool { return s.Status == tenant.StatusActive }

// Setting returns one tenant setting.
func (s Snapshot) Setting(key string) (string, bool) {
	v, ok := s.Settings[key]
	return v, ok
}

type tenantCtxKey struct{}

// WithTenant returns a child context carrying snap.
func WithTenant(ctx context.Context, snap Snapshot) context.Context {
	snap.Settings = cloneSettings(snap.Settings)
	return context.WithValue(ctx, tenantCtxKey{}, snap)
}

// Run invokes fn with snap as the current tenant.
func Run(ctx context.Context, snap Snapshot, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, snap))
}

// RunValue is Run for operations that produce a result.
func RunValue[T any](ctx context.Context, snap Snapshot, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithTenant(ctx, snap))
}

// Current returns the tenant of ctx, if any.
func Current(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(tenantCtxKey{}).(Snapshot)
	return snap, ok
}

// CurrentOrFail returns the tenant of ctx or ErrNoContext.
func CurrentOrFail(ctx context.Context) (Snapshot, error) {
	snap, ok := Current(ctx)
	if !ok {
		return Snapshot{}, ErrNoContext
	}
	return snap, nil
}

// TenantID returns the current tenant id, or "" outside a tenant scope.
func TenantID(ctx context.Context) string {
	snap, _ := Current(ctx)
	return snap.TenantID
}

func cloneSettings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
