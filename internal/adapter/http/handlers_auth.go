package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/middleware"
)

const (
	refreshCookieName = "fixapp_refresh"
	refreshCookiePath = "/api/v1/auth"
)

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r)
	if !ok {
		return
	}

	pair, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			logger.FromContext(r.Context(), h.logger()).Debug("login failed", zap.Error(err))
		}
		h.writeDomainError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, int(h.Auth.RefreshTTL().Seconds()))
	writeJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /api/v1/auth/refresh. The token is read from the
// body, falling back to the refresh cookie.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var presented string
	if r.ContentLength != 0 {
		req, ok := readJSON[user.RefreshRequest](w, r)
		if !ok {
			return
		}
		presented = req.RefreshToken
	}
	if presented == "" {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			presented = c.Value
		}
	}
	if presented == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), presented)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			h.setRefreshCookie(w, "", -1)
		}
		h.writeDomainError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, int(h.Auth.RefreshTTL().Seconds()))
	writeJSON(w, http.StatusOK, pair)
}

// Logout handles POST /api/v1/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.Auth.Logout(r.Context(), p.UserID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.setRefreshCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me handles GET /api/v1/auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	u, err := h.Users.Get(r.Context(), p.UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}
