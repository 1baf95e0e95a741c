// Package databasetest provides an in-memory database.Store for tests.
package databasetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/database"
)

// Memory is a map-backed database.Store. It mirrors the uniqueness rules and
// tenant filters of the Postgres adapter.
type Memory struct {
	mu            sync.Mutex
	tenants       map[string]*tenant.Tenant
	users         map[string]*user.User
	refreshTokens map[string]*user.RefreshToken // by hash
	files         map[string]*file.File

	// SkipTenantFilter makes scoped reads ignore the tenant id argument,
	// simulating a query that forgot its tenant_id predicate.
	SkipTenantFilter bool
	// Now overrides the timestamp source.
	Now func() time.Time

	// SubdomainLookups counts GetTenantBySubdomain calls.
	SubdomainLookups int
}

var _ database.Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		tenants:       make(map[string]*tenant.Tenant),
		users:         make(map[string]*user.User),
		refreshTokens: make(map[string]*user.RefreshToken),
		files:         make(map[string]*file.File),
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Memory) scoped(rowTenant, tenantID string) bool {
	return m.SkipTenantFilter || rowTenant == tenantID
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}

// Lookups returns SubdomainLookups under the lock.
func (m *Memory) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SubdomainLookups
}

// --- Tenants ---

func (m *Memory) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Subdomain == t.Subdomain {
			return fmt.Errorf("create tenant: %w", domain.ErrConflict)
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = m.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, notFound("get tenant " + id)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetTenantBySubdomain(_ context.Context, subdomain string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubdomainLookups++
	for _, t := range m.tenants {
		if t.Subdomain == subdomain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFound("get tenant by subdomain " + subdomain)
}

func (m *Memory) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdomain < out[j].Subdomain })
	return out, nil
}

func (m *Memory) UpdateTenant(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tenants[t.ID]
	if !ok {
		return notFound("update tenant " + t.ID)
	}
	existing.Name = t.Name
	existing.Settings = t.Settings
	existing.UpdatedAt = m.now()
	t.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *Memory) SetTenantStatus(_ context.Context, id string, status tenant.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return notFound("set tenant status " + id)
	}
	t.Status = status
	t.UpdatedAt = m.now()
	return nil
}

// --- Users ---

func (m *Memory) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email {
			return fmt.Errorf("create user: %w", domain.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, tenantID, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !m.scoped(u.TenantID, tenantID) {
		return nil, notFound("get user " + id)
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, tenantID, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && m.scoped(u.TenantID, tenantID) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("get user by email")
}

func (m *Memory) ListUsers(_ context.Context, tenantID string) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []user.User{}
	for _, u := range m.users {
		if m.scoped(u.TenantID, tenantID) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *Memory) SetUserStatus(_ context.Context, tenantID, id string, status user.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.TenantID != tenantID {
		return notFound("set user status " + id)
	}
	u.Status = status
	u.UpdatedAt = m.now()
	return nil
}

// --- Refresh tokens ---

func (m *Memory) CreateRefreshToken(_ context.Context, rt *user.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.refreshTokens[rt.TokenHash]; dup {
		return fmt.Errorf("create refresh token: %w", domain.ErrConflict)
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = m.now()
	cp := *rt
	m.refreshTokens[rt.TokenHash] = &cp
	return nil
}

func (m *Memory) ClaimRefreshToken(_ context.Context, tokenHash string) (*user.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.refreshTokens[tokenHash]
	if !ok {
		return nil, notFound("claim refresh token")
	}
	delete(m.refreshTokens, tokenHash)
	return rt, nil
}

func (m *Memory) DeleteRefreshTokensByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, rt := range m.refreshTokens {
		if rt.UserID == userID {
			delete(m.refreshTokens, hash)
		}
	}
	return nil
}

func (m *Memory) DeleteExpiredRefreshTokens(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for hash, rt := range m.refreshTokens {
		if rt.Expired(now) {
			delete(m.refreshTokens, hash)
			n++
		}
	}
	return n, nil
}

// RefreshTokenCount returns the number of stored refresh tokens.
func (m *Memory) RefreshTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshTokens)
}

// --- Files ---

func (m *Memory) CreateFile(_ context.Context, f *file.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, dup := m.files[f.ID]; dup {
		return fmt.Errorf("create file: %w", domain.ErrConflict)
	}
	f.CreatedAt = m.now()
	f.UpdatedAt = f.CreatedAt
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *Memory) GetFile(_ context.Context, tenantID, id string) (*file.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.DeletedAt != nil || !m.scoped(f.TenantID, tenantID) {
		return nil, notFound("get file " + id)
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) ListFiles(_ context.Context, tenantID string, filter file.ListFilter) ([]file.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []file.File{}
	for _, f := range m.files {
		if f.DeletedAt != nil || !m.scoped(f.TenantID, tenantID) {
			continue
		}
		if filter.ResourceType != "" && f.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && f.ResourceID != filter.ResourceID {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SoftDeleteFile(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.DeletedAt != nil || f.TenantID != tenantID {
		return notFound("delete file " + id)
	}
	now := m.now()
	f.DeletedAt = &now
	f.UpdatedAt = now
	return nil
}
