package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

type principalCtxKey struct{}

const msgUnauthorized = "Unauthorized"

// TokenVerifier checks a bearer token and returns its principal.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*user.Principal, error)
}

// Auth returns middleware that requires a valid bearer token. The principal
// must belong to the ambient tenant when one is set.
func Auth(verifier TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, msgUnauthorized)
				return
			}

			p, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					msg, _ := domain.PublicMessage(err)
					writeError(w, http.StatusUnauthorized, msg)
					return
				}
				logger.FromContext(r.Context(), log).Error("token verification failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			if snap, ok := tenancy.Current(r.Context()); ok && snap.TenantID != p.TenantID {
				writeError(w, http.StatusUnauthorized, msgUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p *user.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *user.Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*user.Principal)
	return p
}
