package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain/user"
)

const userColumns = `id, tenant_id, email, name, password_hash, role, status, location_scope, created_at, updated_at`

func scanUser(row scannable) (user.User, error) {
	var (
		u     user.User
		scope *string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Status, &scope, &u.CreatedAt, &u.UpdatedAt)
	u.LocationScope = derefString(scope)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, name, password_hash, role, status, location_scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, u.Role, u.Status, nullIfEmpty(u.LocationScope), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "create user")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, tenantID, id string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email))
	if err != nil {
		return nil, notFoundWrap(err, "get user by email")
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY email ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return orEmpty(users), rows.Err()
}

func (s *Store) SetUserStatus(ctx context.Context, tenantID, id string, status user.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
	return execExpectOne(tag, err, "set user status %s", id)
}
