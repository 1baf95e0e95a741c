// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
)

// Store is the port interface for database operations.
//
// Create methods fill in generated fields (ID, timestamps) on the passed
// entity. Tenant-scoped reads take the tenant id explicitly and filter on it;
// callers inside a tenant scope should go through isolation.Store, which adds
// the ambient checks on top.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, t *tenant.Tenant) error
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t *tenant.Tenant) error
	SetTenantStatus(ctx context.Context, id string, status tenant.Status) error

	// Users
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, tenantID, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, tenantID, email string) (*user.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]user.User, error)
	SetUserStatus(ctx context.Context, tenantID, id string, status user.Status) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, rt *user.RefreshToken) error
	// ClaimRefreshToken atomically removes and returns the token with the
	// given hash. Exactly one concurrent caller can claim a token.
	ClaimRefreshToken(ctx context.Context, tokenHash string) (*user.RefreshToken, error)
	DeleteRefreshTokensByUser(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)

	// Files
	CreateFile(ctx context.Context, f *file.File) error
	GetFile(ctx context.Context, tenantID, id string) (*file.File, error)
	ListFiles(ctx context.Context, tenantID string, filter file.ListFilter) ([]file.File, error)
	SoftDeleteFile(ctx context.Context, tenantID, id string) error
}
