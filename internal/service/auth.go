package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cfotel "github.com/chin-flags/fixapp/internal/adapter/otel"
	"github.com/chin-flags/fixapp/internal/clock"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/port/database"
	"github.com/chin-flags/fixapp/internal/port/passwordhash"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// Authentication errors. Every cause of a failed login maps to the same value.
var (
	ErrInvalidCredentials  = domain.NewError(domain.ErrUnauthorized, "Invalid email or password")
	ErrInvalidRefreshToken = domain.NewError(domain.ErrUnauthorized, "Invalid refresh token")
	ErrRefreshTokenExpired = domain.NewError(domain.ErrUnauthorized, "Refresh token expired")
	ErrUserInactive        = domain.NewError(domain.ErrUnauthorized, "User not found or inactive")
	ErrUnauthenticated     = domain.NewError(domain.ErrUnauthorized, "Unauthorized")
)

// refreshTokenBytes is the entropy of a refresh token (hex encoded to 64 chars).
const refreshTokenBytes = 32

// AuthMetrics records authentication outcomes. Implemented by the otel adapter.
type AuthMetrics interface {
	RecordAuth(ctx context.Context, operation, outcome string)
}

// accessClaims is the payload of an access token.
type accessClaims struct {
	TenantID      string    `json:"tenantId"`
	Email         string    `json:"email"`
	Role          user.Role `json:"role"`
	LocationScope string    `json:"locationScope,omitempty"`
	jwt.RegisteredClaims
}

// AuthService validates credentials, issues access and refresh tokens, and
// verifies bearer tokens. All operations are scoped to the ambient tenant.
type AuthService struct {
	store   database.Store
	hasher  passwordhash.Hasher
	cfg     config.Auth
	secret  []byte
	clock   clock.Clock
	log     *zap.Logger
	metrics AuthMetrics

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithAuthClock overrides the clock used for token expiry.
func WithAuthClock(c clock.Clock) AuthOption {
	return func(s *AuthService) { s.clock = c }
}

// WithAuthMetrics attaches a metrics recorder.
func WithAuthMetrics(m AuthMetrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, hasher passwordhash.Hasher, cfg config.Auth, log *zap.Logger, opts ...AuthOption) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuthService{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		clock:  clock.Real{},
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTTL() time.Duration { return s.cfg.RefreshTokenExpiry }

// ValidateCredentials returns the active user of the current tenant matching
// email and password.
func (s *AuthService) ValidateCredentials(ctx context.Context, email, password string) (*user.User, error) {
	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}

	u, err := s.store.GetUserByEmail(ctx, snap.TenantID, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a comparison so unknown emails take as long as wrong passwords.
			s.hasher.Verify(s.timingHash(), password)
			s.record(ctx, "login", "invalid")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if !s.hasher.Verify(u.PasswordHash, password) || !u.Active() {
		s.record(ctx, "login", "invalid")
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Login validates credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.TokenPair, error) {
	ctx, span := cfotel.StartAuthSpan(ctx, "login", tenancy.TenantID(ctx))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.ValidateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	pair, err := s.IssueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "login", "ok")
	logger.FromContext(ctx, s.log).Info("user logged in", zap.String("user_id", u.ID))
	return pair, nil
}

// IssueTokens signs an access token for u and stores a new refresh token.
func (s *AuthService) IssueTokens(ctx context.Context, u *user.User) (*user.TokenPair, error) {
	now := s.clock.Now()
	claims := accessClaims{
		TenantID:      u.TenantID,
		Email:         u.Email,
		Role:          u.Role,
		LocationScope: u.LocationScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenExpiry)),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	raw, err := generateRandomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &user.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: hashSHA256(raw),
		ExpiresAt: now.Add(s.cfg.RefreshTokenExpiry),
	}
	if err := s.store.CreateRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &user.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int(s.cfg.AccessTokenExpiry.Seconds()),
		User:         u,
	}, nil
}

// Refresh redeems a refresh token for a new pair. The presented token is
// consumed whether or not the redemption succeeds, so it can be used once.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*user.TokenPair, error) {
	ctx, span := cfotel.StartAuthSpan(ctx, "refresh", tenancy.TenantID(ctx))
	defer span.End()

	snap, err := tenancy.CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}
	if presented == "" {
		return nil, ErrInvalidRefreshToken
	}

	rt, err := s.store.ClaimRefreshToken(ctx, hashSHA256(presented))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.record(ctx, "refresh", "invalid")
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("claim refresh token: %w", err)
	}
	if rt.Expired(s.clock.Now()) {
		s.record(ctx, "refresh", "expired")
		return nil, ErrRefreshTokenExpired
	}

	u, err := s.store.GetUser(ctx, snap.TenantID, rt.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserInactive
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !u.Active() {
		return nil, ErrUserInactive
	}

	pair, err := s.IssueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "refresh", "ok")
	return pair, nil
}

// Logout revokes every refresh token of the user.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.store.DeleteRefreshTokensByUser(ctx, userID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Verify checks a bearer token and rebuilds the principal from the live user
// record. A token minted for another tenant than the ambient one is rejected.
func (s *AuthService) Verify(ctx context.Context, raw string) (*user.Principal, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		s.record(ctx, "verify", "invalid")
		logger.FromContext(ctx, s.log).Debug("token rejected", zap.Error(err))
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, ErrUnauthenticated
	}

	if snap, ok := tenancy.Current(ctx); ok && snap.TenantID != claims.TenantID {
		s.record(ctx, "verify", "tenant_mismatch")
		logger.FromContext(ctx, s.log).Warn("token presented to foreign tenant",
			zap.String("token_tenant_id", claims.TenantID))
		return nil, ErrUnauthenticated
	}

	u, err := s.store.GetUser(ctx, claims.TenantID, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !u.Active() {
		return nil, ErrUnauthenticated
	}

	return &user.Principal{
		UserID:        claims.Subject,
		TenantID:      claims.TenantID,
		Email:         claims.Email,
		Role:          claims.Role,
		LocationScope: claims.LocationScope,
	}, nil
}

// StartTokenCleanup starts a background goroutine that periodically purges
// expired refresh tokens. It stops when ctx is cancelled.
func (s *AuthService) StartTokenCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purgeExpired(ctx)
			}
		}
	}()
}

func (s *AuthService) purgeExpired(ctx context.Context) {
	n, err := s.store.DeleteExpiredRefreshTokens(ctx)
	if err != nil {
		s.log.Warn("failed to purge expired refresh tokens", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("purged expired refresh tokens", zap.Int64("count", n))
	}
}

// timingHash returns a valid hash that no password matches.
func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		raw, err := generateRandomToken(16)
		if err == nil {
			s.dummyHash, err = s.hasher.Hash(raw)
		}
		if err != nil {
			s.log.Warn("timing hash unavailable", zap.Error(err))
		}
	})
	return s.dummyHash
}

func (s *AuthService) record(ctx context.Context, operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuth(ctx, operation, outcome)
	}
}

// --- Helpers ---

func hashSHA256(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
