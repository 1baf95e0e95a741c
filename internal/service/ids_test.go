package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/cache/cachetest"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/port/database/databasetest"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// uuidColumns fails lookups the way Postgres does when a uuid column is
// compared with a malformed literal.
type uuidColumns struct {
	database.Store
	calls int
}

func (s *uuidColumns) cast(id string) error {
	s.calls++
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("query: %w", &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})
	}
	return nil
}

func (s *uuidColumns) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	if err := s.cast(id); err != nil {
		return nil, err
	}
	return s.Store.GetTenant(ctx, id)
}

func (s *uuidColumns) GetUser(ctx context.Context, tenantID, id string) (*user.User, error) {
	if err := s.cast(id); err != nil {
		return nil, err
	}
	return s.Store.GetUser(ctx, tenantID, id)
}

func (s *uuidColumns) GetFile(ctx context.Context, tenantID, id string) (*file.File, error) {
	if err := s.cast(id); err != nil {
		return nil, err
	}
	return s.Store.GetFile(ctx, tenantID, id)
}

func (s *uuidColumns) SoftDeleteFile(ctx context.Context, tenantID, id string) error {
	if err := s.cast(id); err != nil {
		return err
	}
	return s.Store.SoftDeleteFile(ctx, tenantID, id)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	mem := databasetest.NewMemory()
	acme := seedTenant(t, mem, "acme")
	store := &uuidColumns{Store: isolated(mem)}
	ctx := tenancy.WithTenant(context.Background(), acme)

	users := NewUserService(store, &plainHasher{}, nil)
	files := NewFileService(store, &fakePresigner{}, &fakeEmitter{}, config.Storage{DownloadURLTTL: time.Hour}, nil)
	dir := NewTenantDirectory(store, cachetest.NewMemory(), time.Minute, nil)
	tenants := NewTenantService(store, dir, nil, "", nil)
	newName := "Renamed"

	calls := map[string]func(id string) error{
		"UserService.Get": func(id string) error { _, err := users.Get(ctx, id); return err },
		"UserService.SetStatus": func(id string) error {
			_, err := users.SetStatus(ctx, id, user.StatusInactive)
			return err
		},
		"FileService.Get":         func(id string) error { _, err := files.Get(ctx, id); return err },
		"FileService.DownloadURL": func(id string) error { _, err := files.DownloadURL(ctx, id); return err },
		"FileService.Delete":      func(id string) error { return files.Delete(ctx, id) },
		"TenantService.Get":       func(id string) error { _, err := tenants.Get(ctx, id); return err },
		"TenantService.Update": func(id string) error {
			_, err := tenants.Update(ctx, id, tenant.UpdateRequest{Name: &newName})
			return err
		},
		"TenantService.SetStatus": func(id string) error {
			_, err := tenants.SetStatus(ctx, id, tenant.StatusInactive)
			return err
		},
		"TenantDirectory.ResolveID": func(id string) error { _, err := dir.ResolveID(ctx, id); return err },
	}

	for name, call := range calls {
		for _, id := range []string{"abc", "1", "' OR 1=1 --"} {
			store.calls = 0
			err := call(id)
			if !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("%s(%q): expected not found, got %v", name, id, err)
			}
			if store.calls != 0 {
				t.Errorf("%s(%q): malformed id reached the store", name, id)
			}
		}
	}

	// Well-formed ids that match nothing are still not found.
	missing := uuid.NewString()
	if _, err := users.Get(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing user: %v", err)
	}
	if store.calls == 0 {
		t.Error("well-formed id should reach the store")
	}
}

func TestCheckIDMessage(t *testing.T) {
	err := checkID("User", "abc")
	var de *domain.Error
	if !errors.As(err, &de) || de.Message != "User not found: abc" {
		t.Fatalf("unexpected error %#v", err)
	}
	if checkID("User", uuid.NewString()) != nil {
		t.Error("valid uuid rejected")
	}
}
