package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chin-flags/fixapp/internal/clock"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/database/databasetest"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!"

type authFixture struct {
	svc    *AuthService
	mem    *databasetest.Memory
	clk    *clock.Fake
	hasher *plainHasher
	acme   tenancy.Snapshot
	globex tenancy.Snapshot
	alice  *user.User
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mem := databasetest.NewMemory()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mem.Now = clk.Now
	hasher := &plainHasher{}
	cfg := config.Auth{
		JWTSecret:          testSecret,
		Issuer:             "fixapp",
		AccessTokenExpiry:  30 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
	f := &authFixture{
		svc:    NewAuthService(isolated(mem), hasher, cfg, nil, WithAuthClock(clk)),
		mem:    mem,
		clk:    clk,
		hasher: hasher,
		acme:   seedTenant(t, mem, "acme"),
		globex: seedTenant(t, mem, "globex"),
	}

	users := NewUserService(isolated(mem), hasher, nil)
	u, err := users.Create(f.in(f.acme), user.CreateRequest{
		Email: "Alice@Acme.test", Name: "Alice", Password: "correct-horse", Role: user.RoleTenantAdmin,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.alice = u
	return f
}

func (f *authFixture) in(s tenancy.Snapshot) context.Context {
	return tenancy.WithTenant(context.Background(), s)
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)

	pair, err := f.svc.Login(ctx, user.LoginRequest{Email: "alice@acme.test", Password: "correct-horse"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pair.RefreshToken) != 64 {
		t.Fatalf("expected 64-char refresh token, got %d", len(pair.RefreshToken))
	}
	if pair.ExpiresIn != 1800 {
		t.Fatalf("expected expiresIn 1800, got %d", pair.ExpiresIn)
	}
	if pair.User.ID != f.alice.ID {
		t.Fatal("expected alice in the pair")
	}

	p, err := f.svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != f.alice.ID || p.TenantID != f.acme.TenantID || p.Role != user.RoleTenantAdmin || p.Email != "alice@acme.test" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestAccessTokenClaims(t *testing.T) {
	f := newAuthFixture(t)
	pair, err := f.svc.IssueTokens(f.in(f.acme), f.alice)
	if err != nil {
		t.Fatal(err)
	}

	claims := &accessClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(pair.AccessToken, claims)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != f.alice.ID || claims.TenantID != f.acme.TenantID || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %v", got)
	}
}

func TestValidateCredentialsFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)

	inactive, err := NewUserService(isolated(f.mem), f.hasher, nil).Create(ctx, user.CreateRequest{
		Email: "bob@acme.test", Name: "Bob", Password: "password-bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.mem.SetUserStatus(ctx, f.acme.TenantID, inactive.ID, user.StatusInactive); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@acme.test", "nope"},
		{"unknown email", "nobody@acme.test", "correct-horse"},
		{"inactive user", "bob@acme.test", "password-bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.hasher.Verifies()
			_, err := f.svc.ValidateCredentials(ctx, tt.email, tt.password)
			if err != ErrInvalidCredentials {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if f.hasher.Verifies() != before+1 {
				t.Fatal("every failure path must run exactly one hash comparison")
			}
		})
	}
}

func TestValidateCredentialsIsTenantScoped(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.ValidateCredentials(f.in(f.globex), "alice@acme.test", "correct-horse")
	if err != ErrInvalidCredentials {
		t.Fatalf("alice must not authenticate on globex, got %v", err)
	}
}

func TestValidateCredentialsRequiresTenant(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.ValidateCredentials(context.Background(), "alice@acme.test", "correct-horse")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	pair, err := f.svc.IssueTokens(ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != ErrInvalidRefreshToken {
		t.Fatalf("second redemption must be invalid, got %v", err)
	}
}

func TestRefreshConcurrentRedemption(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	pair, err := f.svc.IssueTokens(ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", wins)
	}
}

func TestRefreshExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	pair, err := f.svc.IssueTokens(ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(7*24*time.Hour + time.Second)
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != ErrRefreshTokenExpired {
		t.Fatalf("expected expired, got %v", err)
	}
	if f.mem.RefreshTokenCount() != 0 {
		t.Fatal("expired token must be removed")
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	pair, _ := f.svc.IssueTokens(ctx, f.alice)
	_ = f.mem.SetUserStatus(ctx, f.acme.TenantID, f.alice.ID, user.StatusInactive)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != ErrUserInactive {
		t.Fatalf("expected inactive error, got %v", err)
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	a, _ := f.svc.IssueTokens(ctx, f.alice)
	b, _ := f.svc.IssueTokens(ctx, f.alice)

	if err := f.svc.Logout(ctx, f.alice.ID); err != nil {
		t.Fatal(err)
	}
	for _, raw := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, raw); err != ErrInvalidRefreshToken {
			t.Fatalf("expected revoked token to be invalid, got %v", err)
		}
	}
}

func TestVerifyRejections(t *testing.T) {
	f := newAuthFixture(t)
	acmeCtx := f.in(f.acme)
	pair, err := f.svc.IssueTokens(acmeCtx, f.alice)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("garbage", func(t *testing.T) {
		if _, err := f.svc.Verify(acmeCtx, "not.a.jwt"); err != ErrUnauthenticated {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("foreign tenant", func(t *testing.T) {
		if _, err := f.svc.Verify(f.in(f.globex), pair.AccessToken); err != ErrUnauthenticated {
			t.Fatalf("token for acme must not verify on globex, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		claims := accessClaims{TenantID: f.acme.TenantID, RegisteredClaims: jwt.RegisteredClaims{
			Subject: f.alice.ID, Issuer: "fixapp", ExpiresAt: jwt.NewNumericDate(f.clk.Now().Add(time.Hour)),
		}}
		forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		if _, err := f.svc.Verify(acmeCtx, forged); err != ErrUnauthenticated {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := accessClaims{TenantID: f.acme.TenantID, RegisteredClaims: jwt.RegisteredClaims{
			Subject: f.alice.ID, Issuer: "fixapp", ExpiresAt: jwt.NewNumericDate(f.clk.Now().Add(time.Hour)),
		}}
		unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := f.svc.Verify(acmeCtx, unsigned); err != ErrUnauthenticated {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		_ = f.mem.SetUserStatus(acmeCtx, f.acme.TenantID, f.alice.ID, user.StatusInactive)
		defer func() { _ = f.mem.SetUserStatus(acmeCtx, f.acme.TenantID, f.alice.ID, user.StatusActive) }()
		if _, err := f.svc.Verify(acmeCtx, pair.AccessToken); err != ErrUnauthenticated {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		f.clk.Advance(31 * time.Minute)
		if _, err := f.svc.Verify(acmeCtx, pair.AccessToken); err != ErrUnauthenticated {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})
}

func TestVerifyWithoutAmbientTenant(t *testing.T) {
	f := newAuthFixture(t)
	pair, _ := f.svc.IssueTokens(f.in(f.acme), f.alice)

	p, err := f.svc.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if p.TenantID != f.acme.TenantID {
		t.Fatalf("expected acme principal, got %+v", p)
	}
}

func TestPurgeExpiredRefreshTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := f.in(f.acme)
	_, _ = f.svc.IssueTokens(ctx, f.alice)
	f.clk.Advance(8 * 24 * time.Hour)
	_, _ = f.svc.IssueTokens(ctx, f.alice)

	f.svc.purgeExpired(ctx)
	if n := f.mem.RefreshTokenCount(); n != 1 {
		t.Fatalf("expected 1 live token after purge, got %d", n)
	}
}
