package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/port/passwordhash"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// UserService manages the users of the current tenant.
type UserService struct {
	store  database.Store
	hasher passwordhash.Hasher
	log    *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store database.Store, hasher passwordhash.Hasher, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{store: store, hasher: hasher, log: log}
}

// Create registers a user in the ambient tenant.
func (s *UserService) Create(ctx context.Context, req user.CreateRequest) (*user.User, error) {
	if _, err := tenancy.CurrentOrFail(ctx); err != nil {
		return nil, err
	}
	req.Email = user.NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// TenantID is stamped by the isolation store.
	u := &user.User{
		Email:         req.Email,
		Name:          req.Name,
		PasswordHash:  hash,
		Role:          req.Role,
		Status:        user.StatusActive,
		LocationScope: req.LocationScope,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user %s: %w", req.Email, err)
	}
	logger.FromContext(ctx, s.log).Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// Get returns a user of the ambient tenant.
func (s *UserService) Get(ctx context.Context, id string) (*user.User, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkID("User", id); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, snap.TenantID, id)
}

// List returns the users of the ambient tenant.
func (s *UserService) List(ctx context.Context) ([]user.User, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, snap.TenantID)
}

// SetStatus activates or deactivates a user. Deactivation revokes every
// refresh token, so the user is locked out once the access token expires.
func (s *UserService) SetStatus(ctx context.Context, id string, status user.Status) (*user.User, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	if status != user.StatusActive && status != user.StatusInactive {
		return nil, domain.Validationf("invalid status %q", status)
	}
	if err := checkID("User", id); err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(ctx, snap.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserStatus(ctx, snap.TenantID, id, status); err != nil {
		return nil, fmt.Errorf("set user status %s: %w", id, err)
	}
	if status == user.StatusInactive {
		if err := s.store.DeleteRefreshTokensByUser(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke refresh tokens %s: %w", id, err)
		}
	}
	u.Status = status
	return u, nil
}
