package http

import (
	"net/http"

	"github.com/chin-flags/fixapp/internal/middleware"
)

// CurrentTenant handles GET /api/v1/tenant
func (h *Handlers) CurrentTenant(w http.ResponseWriter, r *http.Request) {
	snap, ok := middleware.TenantFromRequest(r)
	if !ok {
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
