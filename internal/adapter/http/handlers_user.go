package http

import (
	"net/http"

	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/middleware"
)

// ListUsers handles GET /api/v1/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser handles POST /api/v1/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}

	// Only a super admin may mint another super admin.
	if p := middleware.PrincipalFromContext(r.Context()); req.Role == user.RoleSuperAdmin && (p == nil || p.Role != user.RoleSuperAdmin) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	u, err := h.Users.Create(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser handles GET /api/v1/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type setUserStatusRequest struct {
	Status user.Status `json:"status"`
}

// SetUserStatus handles PATCH /api/v1/users/{id}/status
func (h *Handlers) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[setUserStatusRequest](w, r)
	if !ok {
		return
	}

	u, err := h.Users.SetStatus(r.Context(), urlParam(r, "id"), req.Status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
