package isolation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/database/databasetest"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

type countingRecorder struct {
	mu     sync.Mutex
	tables []string
}

func (r *countingRecorder) RecordIsolationViolation(_ context.Context, table string) {
	r.mu.Lock()
	r.tables = append(r.tables, table)
	r.mu.Unlock()
}

func inTenant(id string) context.Context {
	return tenancy.WithTenant(context.Background(), tenancy.Snapshot{TenantID: id, Status: tenant.StatusActive})
}

func TestBeforeInsertStampsAmbientTenant(t *testing.T) {
	g := NewGuard(nil, nil, Options{})
	u := &user.User{TenantID: "attacker-supplied"}

	if err := g.BeforeInsert(inTenant("t1"), u); err != nil {
		t.Fatal(err)
	}
	if u.TenantID != "t1" {
		t.Fatalf("expected stamped tenant t1, got %q", u.TenantID)
	}
}

func TestBeforeInsertSkipsTenantAndUnscoped(t *testing.T) {
	g := NewGuard(nil, nil, Options{RequireContextOnInsert: true})
	ctx := context.Background()

	if err := g.BeforeInsert(ctx, &tenant.Tenant{ID: "t1"}); err != nil {
		t.Fatalf("tenant entity must be skipped, got %v", err)
	}
	if err := g.BeforeInsert(ctx, &user.RefreshToken{UserID: "u1"}); err != nil {
		t.Fatalf("entity without tenant column must be skipped, got %v", err)
	}
}

func TestBeforeInsertWithoutContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	g := NewGuard(zap.New(core), nil, Options{})
	f := &file.File{TenantID: "system"}

	if err := g.BeforeInsert(context.Background(), f); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if f.TenantID != "system" {
		t.Fatalf("tenant id must be left untouched, got %q", f.TenantID)
	}
	if logs.FilterMessage("insert without tenant context").Len() != 1 {
		t.Error("expected a debug log entry")
	}
}

func TestBeforeInsertRequireContext(t *testing.T) {
	g := NewGuard(nil, nil, Options{RequireContextOnInsert: true})
	err := g.BeforeInsert(context.Background(), &user.User{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAfterLoad(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		entity    domain.Entity
		violation bool
	}{
		{"match", inTenant("t1"), &user.User{TenantID: "t1"}, false},
		{"mismatch", inTenant("t1"), &user.User{TenantID: "t2"}, true},
		{"no context", context.Background(), &user.User{TenantID: "t2"}, false},
		{"empty owner", inTenant("t1"), &file.File{}, false},
		{"tenant entity", inTenant("t1"), &tenant.Tenant{ID: "t2"}, false},
		{"unscoped entity", inTenant("t1"), &user.RefreshToken{UserID: "u"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			g := NewGuard(nil, rec, Options{})
			err := g.AfterLoad(tt.ctx, tt.entity)
			if tt.violation != (err != nil) {
				t.Fatalf("violation=%v, err=%v", tt.violation, err)
			}
			if !tt.violation {
				return
			}
			var v *domain.IsolationViolation
			if !errors.As(err, &v) {
				t.Fatalf("expected *IsolationViolation, got %T", err)
			}
			if v.Table != "users" || v.Expected != "t1" || v.Actual != "t2" {
				t.Fatalf("unexpected violation %+v", v)
			}
			if !errors.Is(err, domain.ErrIsolationViolation) {
				t.Fatal("violation must wrap ErrIsolationViolation")
			}
			if len(rec.tables) != 1 || rec.tables[0] != "users" {
				t.Fatalf("expected one recorded violation, got %v", rec.tables)
			}
		})
	}
}

func TestAfterLoadLogsBothIDs(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	g := NewGuard(zap.New(core), nil, Options{})

	_ = g.AfterLoad(inTenant("t1"), &file.File{TenantID: "t2"})

	entries := logs.FilterMessage("tenant isolation violation").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["expected_tenant_id"] != "t1" || fields["actual_tenant_id"] != "t2" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestAfterLoadAll(t *testing.T) {
	g := NewGuard(nil, nil, Options{})
	users := []user.User{{TenantID: "t1"}, {TenantID: "t1"}, {TenantID: "t2"}}

	if err := AfterLoadAll(inTenant("t1"), g, users); !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
	if err := AfterLoadAll(inTenant("t1"), g, users[:2]); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestStoreCreateStampsAndLoadChecks(t *testing.T) {
	mem := databasetest.NewMemory()
	s := NewStore(mem, NewGuard(nil, nil, Options{}))
	ctx := inTenant("t1")

	u := &user.User{TenantID: "t2", Email: "a@example.com"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if u.TenantID != "t1" {
		t.Fatalf("expected stamped tenant t1, got %q", u.TenantID)
	}

	got, err := s.GetUser(ctx, "t1", u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TenantID != "t1" {
		t.Fatalf("unexpected tenant %q", got.TenantID)
	}
}

func TestStoreDetectsUnfilteredQuery(t *testing.T) {
	mem := databasetest.NewMemory()
	s := NewStore(mem, NewGuard(nil, nil, Options{}))

	other := &user.User{Email: "b@example.com"}
	if err := s.CreateUser(inTenant("t2"), other); err != nil {
		t.Fatal(err)
	}

	// A query that dropped its tenant predicate returns t2's row to t1.
	mem.SkipTenantFilter = true
	ctx := inTenant("t1")

	if _, err := s.GetUser(ctx, "t1", other.ID); !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("expected violation on get, got %v", err)
	}
	if _, err := s.ListUsers(ctx, "t1"); !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("expected violation on list, got %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "t1", "b@example.com"); !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("expected violation on email lookup, got %v", err)
	}
}

func TestStoreFiles(t *testing.T) {
	mem := databasetest.NewMemory()
	s := NewStore(mem, NewGuard(nil, nil, Options{}))
	ctx := inTenant("t1")

	f := &file.File{StorageKey: "t1/a.pdf", ResourceType: "rca", ResourceID: "r1"}
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	if f.TenantID != "t1" {
		t.Fatalf("expected stamped file tenant, got %q", f.TenantID)
	}
	files, err := s.ListFiles(ctx, "t1", file.ListFilter{ResourceType: "rca"})
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFiles = %v, %v", files, err)
	}
	if _, err := s.GetFile(inTenant("t2"), "t2", f.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("filtered query must miss, got %v", err)
	}
}
