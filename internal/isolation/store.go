package isolation

import (
	"context"

	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/database"
)

// Store wraps a database.Store and runs every entity write and read through
// the Guard. Methods without entities (deletes, status updates) pass through.
type Store struct {
	database.Store
	guard *Guard
}

var _ database.Store = (*Store)(nil)

// NewStore returns an isolating wrapper around inner.
func NewStore(inner database.Store, guard *Guard) *Store {
	return &Store{Store: inner, guard: guard}
}

// Guard returns the guard used by the store.
func (s *Store) Guard() *Guard { return s.guard }

// --- Tenants ---

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	if err := s.guard.BeforeInsert(ctx, t); err != nil {
		return err
	}
	return s.Store.CreateTenant(ctx, t)
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	if err := s.guard.BeforeInsert(ctx, u); err != nil {
		return err
	}
	return s.Store.CreateUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, tenantID, id string) (*user.User, error) {
	u, err := s.Store.GetUser(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AfterLoad(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*user.User, error) {
	u, err := s.Store.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AfterLoad(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]user.User, error) {
	users, err := s.Store.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := AfterLoadAll(ctx, s.guard, users); err != nil {
		return nil, err
	}
	return users, nil
}

// --- Refresh tokens ---

func (s *Store) CreateRefreshToken(ctx context.Context, rt *user.RefreshToken) error {
	if err := s.guard.BeforeInsert(ctx, rt); err != nil {
		return err
	}
	return s.Store.CreateRefreshToken(ctx, rt)
}

// --- Files ---

func (s *Store) CreateFile(ctx context.Context, f *file.File) error {
	if err := s.guard.BeforeInsert(ctx, f); err != nil {
		return err
	}
	return s.Store.CreateFile(ctx, f)
}

func (s *Store) GetFile(ctx context.Context, tenantID, id string) (*file.File, error) {
	f, err := s.Store.GetFile(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AfterLoad(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) ListFiles(ctx context.Context, tenantID string, filter file.ListFilter) ([]file.File, error) {
	files, err := s.Store.ListFiles(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if err := AfterLoadAll(ctx, s.guard, files); err != nil {
		return nil, err
	}
	return files, nil
}
