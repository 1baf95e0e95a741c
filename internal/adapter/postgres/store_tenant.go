package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain/tenant"
)

const tenantColumns = `id, name, subdomain, status, settings, created_at, updated_at`

func scanTenant(row scannable) (tenant.Tenant, error) {
	var (
		t        tenant.Tenant
		settings []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &t.Status, &settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	m, err := unmarshalSettings(settings)
	if err != nil {
		return t, err
	}
	t.Settings = m
	return t, nil
}

// --- Tenant CRUD ---

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	settings, err := marshalSettings(t.Settings)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, subdomain, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Subdomain, t.Status, settings, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "create tenant %s", t.Subdomain)
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return &t, nil
}

func (s *Store) GetTenantBySubdomain(ctx context.Context, subdomain string) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`, subdomain))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant by subdomain %s", subdomain)
	}
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY subdomain ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return orEmpty(tenants), rows.Err()
}

func (s *Store) UpdateTenant(ctx context.Context, t *tenant.Tenant) error {
	settings, err := marshalSettings(t.Settings)
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", t.ID, err)
	}
	err = s.pool.QueryRow(ctx, `
		UPDATE tenants SET name = $2, settings = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Name, settings,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update tenant %s", t.ID)
	}
	return nil
}

func (s *Store) SetTenantStatus(ctx context.Context, id string, status tenant.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "set tenant status %s", id)
}
