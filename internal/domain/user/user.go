// Package user defines the user domain model for authentication and authorization.
package user

import (
	"net/mail"
	"strings"
	"time"

	"github.com/chin-flags/fixapp/internal/domain"
)

// Role represents the authorization level of a user within a tenant.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleTeamMember  Role = "team_member"
	RoleViewer      Role = "viewer"
)

// ValidRoles is the set of all valid user roles.
var ValidRoles = map[Role]bool{
	RoleSuperAdmin:  true,
	RoleTenantAdmin: true,
	RoleTeamMember:  true,
	RoleViewer:      true,
}

// Status gates authentication of a user.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Schema is the persistence metadata of the users table.
var Schema = domain.Schema{
	Table: "users",
	Columns: []string{
		"id", "tenant_id", "email", "name", "password_hash", "role",
		"status", "location_scope", "created_at", "updated_at",
	},
}

// RefreshTokenSchema describes refresh_tokens. It has no tenant column: tokens
// are owned by a user, and the user row carries the tenant.
var RefreshTokenSchema = domain.Schema{
	Table:   "refresh_tokens",
	Columns: []string{"id", "user_id", "token_hash", "expires_at", "created_at"},
}

// User represents a registered user within a tenant.
type User struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"` // never serialized
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	LocationScope string    `json:"locationScope,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (u *User) EntitySchema() domain.Schema { return Schema }
func (u *User) OwnerTenant() string         { return u.TenantID }
func (u *User) AssignTenant(id string)      { u.TenantID = id }

// Active reports whether the user may authenticate.
func (u *User) Active() bool { return u.Status == StatusActive }

// NormalizeEmail trims and lower-cases an address. Email uniqueness is per
// tenant and case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateRequest is the input for registering a new user in the current tenant.
// The tenant is taken from the ambient context, never from the request.
type CreateRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Password      string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
	Role          Role   `json:"role"`
	LocationScope string `json:"locationScope,omitempty"`
}

// Validate checks that the CreateRequest has all required fields.
// An empty role defaults to team_member.
func (r *CreateRequest) Validate() error {
	if r.Email == "" {
		return domain.Validationf("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return domain.Validationf("invalid email format")
	}
	if r.Name == "" {
		return domain.Validationf("name is required")
	}
	if r.Password == "" {
		return domain.Validationf("password is required")
	}
	if len(r.Password) < 8 {
		return domain.Validationf("password must be at least 8 characters")
	}
	if r.Role == "" {
		r.Role = RoleTeamMember
	}
	if !ValidRoles[r.Role] {
		return domain.Validationf("invalid role: must be super_admin, tenant_admin, team_member, or viewer")
	}
	return nil
}

// LoginRequest is the input for user authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
}

// Validate checks that the LoginRequest has all required fields.
func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return domain.Validationf("email is required")
	}
	if r.Password == "" {
		return domain.Validationf("password is required")
	}
	return nil
}

// RefreshRequest carries a refresh token presented in the request body.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"` //nolint:gosec // request field
}

// TokenPair is returned after login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`  //nolint:gosec // response field, not a hardcoded secret
	RefreshToken string `json:"refreshToken"` //nolint:gosec // response field, not a hardcoded secret
	ExpiresIn    int    `json:"expiresIn"`    // seconds until access token expires
	User         *User  `json:"user"`
}

// Principal is the authenticated identity rebuilt from a verified token.
type Principal struct {
	UserID        string `json:"userId"`
	TenantID      string `json:"tenantId"`
	Email         string `json:"email"`
	Role          Role   `json:"role"`
	LocationScope string `json:"locationScope,omitempty"`
}

// RefreshToken represents a stored refresh token. Only the SHA-256 digest of
// the raw value is persisted.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (rt *RefreshToken) EntitySchema() domain.Schema { return RefreshTokenSchema }
func (rt *RefreshToken) OwnerTenant() string         { return "" }
func (rt *RefreshToken) AssignTenant(string)         {}

// Expired reports whether the token is past its expiry at now.
func (rt *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(rt.ExpiresAt)
}
