package middleware

import (
	"net/http"

	"github.com/chin-flags/fixapp/internal/domain/user"
)

// RequireRole returns middleware that restricts access to principals with one
// of the given roles. super_admin passes every check.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[user.Role]bool, len(roles)+1)
	for _, r := range roles {
		allowed[r] = true
	}
	allowed[user.RoleSuperAdmin] = true

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, msgUnauthorized)
				return
			}

			if !allowed[p.Role] {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
