package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/logger"
)

const maxRequestBodySize = 1 << 20 // 1 MB

const msgInternal = "Internal server error"

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps an error to a status and a client-safe message.
// Isolation violations and configuration defects are logged in full and
// reported as a generic 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger())

	var violation *domain.IsolationViolation
	if errors.As(err, &violation) {
		log.Error("tenant isolation violation",
			zap.String("table", violation.Table),
			zap.String("expected_tenant_id", violation.Expected),
			zap.String("actual_tenant_id", violation.Actual))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	}

	msg, public := domain.PublicMessage(err)
	if status == http.StatusInternalServerError || !public {
		if status == http.StatusInternalServerError {
			log.Error("request failed", zap.Error(err))
			msg = msgInternal
		} else {
			msg = http.StatusText(status)
		}
	}
	writeError(w, status, msg)
}
