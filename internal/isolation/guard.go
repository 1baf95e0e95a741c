// Package isolation enforces tenant scoping at the data-access boundary.
//
// Writes of tenant-scoped entities are stamped with the ambient tenant id and
// loaded entities are checked against it. The checks sit in front of the
// explicit tenant_id filters of the store, not instead of them.
package isolation

import (
	"context"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// Recorder counts isolation violations. Implemented by the otel metrics adapter.
type Recorder interface {
	RecordIsolationViolation(ctx context.Context, table string)
}

// Options tune the guard.
type Options struct {
	// RequireContextOnInsert makes BeforeInsert fail when no tenant is
	// ambient. Off by default so system jobs and the admin CLI can write.
	RequireContextOnInsert bool
}

// Guard runs the pre-write and post-load tenant checks.
type Guard struct {
	log      *zap.Logger
	recorder Recorder
	opts     Options
}

// NewGuard returns a Guard. log and recorder may be nil.
func NewGuard(log *zap.Logger, recorder Recorder, opts Options) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{log: log, recorder: recorder, opts: opts}
}

// BeforeInsert stamps e with the ambient tenant id, overwriting any value the
// caller set. The tenant entity and entities without a tenant column pass
// through untouched.
func (g *Guard) BeforeInsert(ctx context.Context, e domain.Entity) error {
	schema := e.EntitySchema()
	if schema.IsTenant() || !schema.HasTenantColumn() {
		return nil
	}

	snap, ok := tenancy.Current(ctx)
	if !ok {
		if g.opts.RequireContextOnInsert {
			return tenancy.ErrNoContext
		}
		logger.FromContext(ctx, g.log).Debug("insert without tenant context",
			zap.String("table", schema.Table),
			zap.String("tenant_id_supplied", e.OwnerTenant()),
		)
		return nil
	}

	e.AssignTenant(snap.TenantID)
	return nil
}

// AfterLoad verifies that a loaded entity belongs to the ambient tenant.
// Without an ambient tenant the read is allowed.
func (g *Guard) AfterLoad(ctx context.Context, e domain.Entity) error {
	if e == nil {
		return nil
	}
	schema := e.EntitySchema()
	if schema.IsTenant() {
		return nil
	}
	owner := e.OwnerTenant()
	if owner == "" {
		return nil
	}

	snap, ok := tenancy.Current(ctx)
	if !ok || owner == snap.TenantID {
		return nil
	}

	violation := &domain.IsolationViolation{
		Table:    schema.Table,
		Expected: snap.TenantID,
		Actual:   owner,
	}
	g.log.Error("tenant isolation violation",
		zap.String("table", violation.Table),
		zap.String("expected_tenant_id", violation.Expected),
		zap.String("actual_tenant_id", violation.Actual),
		zap.String("request_id", logger.RequestID(ctx)),
	)
	if g.recorder != nil {
		g.recorder.RecordIsolationViolation(ctx, schema.Table)
	}
	return violation
}

// AfterLoadAll applies AfterLoad to every element and stops at the first
// violation.
func AfterLoadAll[T any, P interface {
	*T
	domain.Entity
}](ctx context.Context, g *Guard, items []T) error {
	for i := range items {
		if err := g.AfterLoad(ctx, P(&items[i])); err != nil {
			return err
		}
	}
	return nil
}
