// Package tenant defines the tenant domain model for multi-tenancy.
package tenant

import (
	"regexp"
	"strings"
	"time"

	"github.com/chin-flags/fixapp/internal/domain"
)

// Status gates every access path of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Schema is the persistence metadata of the tenants table.
var Schema = domain.Schema{
	Table:   domain.TenantsTable,
	Columns: []string{"id", "name", "subdomain", "status", "settings", "created_at", "updated_at"},
}

var subdomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

// reserved subdomains are used by the platform itself.
var reserved = map[string]bool{"www": true, "api": true, "admin": true, "app": true}

// Tenant represents an isolated customer account.
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Subdomain string            `json:"subdomain"`
	Status    Status            `json:"status"`
	Settings  map[string]string `json:"settings"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (t *Tenant) EntitySchema() domain.Schema { return Schema }

// OwnerTenant is empty: a tenant is never scoped to another tenant.
func (t *Tenant) OwnerTenant() string { return "" }

func (t *Tenant) AssignTenant(string) {}

// Active reports whether the tenant may be accessed.
func (t *Tenant) Active() bool { return t.Status == StatusActive }

// CreateRequest holds the fields required to provision a tenant.
type CreateRequest struct {
	Name      string            `json:"name"`
	Subdomain string            `json:"subdomain"`
	Status    Status            `json:"status,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
}

// Normalize lower-cases the subdomain and applies defaults.
func (r *CreateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Subdomain = NormalizeSubdomain(r.Subdomain)
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Settings == nil {
		r.Settings = map[string]string{}
	}
}

// Validate checks name, subdomain and status.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return domain.Validationf("name is required")
	}
	if len(r.Name) > 255 {
		return domain.Validationf("name must be at most 255 characters")
	}
	if err := ValidateSubdomain(r.Subdomain); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return domain.Validationf("invalid status %q", r.Status)
	}
	return nil
}

// UpdateRequest holds the mutable fields of a tenant.
type UpdateRequest struct {
	Name     *string           `json:"name,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// NormalizeSubdomain trims and lower-cases a subdomain candidate.
func NormalizeSubdomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateSubdomain checks the subdomain format and the reserved set.
func ValidateSubdomain(s string) error {
	if !subdomainRe.MatchString(s) {
		return domain.Validationf("invalid subdomain %q: must be 3-63 lowercase alphanumeric characters or hyphens", s)
	}
	if reserved[s] {
		return domain.Validationf("subdomain %q is reserved", s)
	}
	return nil
}
