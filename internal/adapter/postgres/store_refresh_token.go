package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chin-flags/fixapp/internal/domain/user"
)

func (s *Store) CreateRefreshToken(ctx context.Context, rt *user.RefreshToken) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rt.ID, rt.UserID, rt.TokenHash, rt.ExpiresAt, rt.CreatedAt,
	)
	if err != nil {
		return writeErr(err, "create refresh token")
	}
	return nil
}

// ClaimRefreshToken deletes the token and returns the deleted row in one
// statement. Of two concurrent claims, only one gets the row back.
func (s *Store) ClaimRefreshToken(ctx context.Context, tokenHash string) (*user.RefreshToken, error) {
	var rt user.RefreshToken
	err := s.pool.QueryRow(ctx, `
		DELETE FROM refresh_tokens WHERE token_hash = $1
		RETURNING id, user_id, token_hash, expires_at, created_at`, tokenHash,
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "claim refresh token")
	}
	return &rt, nil
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh tokens by user: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens removes every token past its expiry.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
