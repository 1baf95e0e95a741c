package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

// DefaultTenantHeader names the header that selects a tenant explicitly.
const DefaultTenantHeader = "X-Tenant-Subdomain"

// ErrSubdomainNotFound is answered when no candidate subdomain can be derived.
var ErrSubdomainNotFound = domain.NewError(domain.ErrNotFound, "Tenant subdomain not found")

const (
	msgTenantNotFound = "Tenant not found"
	msgTenantInactive = "Tenant is inactive"
)

// TenantLookup resolves a subdomain to a tenant snapshot.
type TenantLookup interface {
	Resolve(ctx context.Context, subdomain string) (tenancy.Snapshot, error)
}

// TenantResolver returns middleware that makes the tenant of a request
// ambient. The tenant comes from the tenancy header, the configured default
// for loopback hosts, or the first label of the host name. Inactive tenants
// are refused.
func TenantResolver(dir TenantLookup, cfg config.Tenancy, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	header := cfg.Header
	if header == "" {
		header = DefaultTenantHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, ok := SubdomainFromRequest(r, header, cfg.DefaultSubdomain)
			if !ok {
				writeError(w, http.StatusNotFound, ErrSubdomainNotFound.Message)
				return
			}

			snap, err := dir.Resolve(r.Context(), sub)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusNotFound, msgTenantNotFound)
					return
				}
				logger.FromContext(r.Context(), log).Error("tenant resolution failed",
					zap.String("subdomain", sub), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !snap.Active() {
				writeError(w, http.StatusForbidden, msgTenantInactive)
				return
			}

			next.ServeHTTP(w, r.WithContext(tenancy.WithTenant(r.Context(), snap)))
		})
	}
}

// TenantFromRequest returns the tenant resolved for r.
func TenantFromRequest(r *http.Request) (tenancy.Snapshot, bool) {
	return tenancy.Current(r.Context())
}

// SubdomainFromRequest extracts the candidate subdomain of r. The header wins
// over the host. Loopback hosts map to defaultSubdomain; other hosts need at
// least three labels.
func SubdomainFromRequest(r *http.Request, header, defaultSubdomain string) (string, bool) {
	if v := strings.ToLower(strings.TrimSpace(r.Header.Get(header))); v != "" {
		return v, true
	}

	host := hostname(r.Host)
	if isLoopback(host) {
		sub := strings.ToLower(strings.TrimSpace(defaultSubdomain))
		return sub, sub != ""
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[0] == "" {
		return "", false
	}
	return labels[0], true
}

func hostname(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
