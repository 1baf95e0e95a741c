package http

import (
	"net/http"

	"github.com/chin-flags/fixapp/internal/domain/file"
	"github.com/chin-flags/fixapp/internal/middleware"
)

// RequestUploadURL handles POST /api/v1/files/upload-url
func (h *Handlers) RequestUploadURL(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[file.UploadRequest](w, r)
	if !ok {
		return
	}

	ticket, err := h.Files.RequestUpload(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// ConfirmUpload handles POST /api/v1/files
func (h *Handlers) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	req, ok := readJSON[file.ConfirmRequest](w, r)
	if !ok {
		return
	}

	f, err := h.Files.ConfirmUpload(r.Context(), p.UserID, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListFiles handles GET /api/v1/files?resourceType=&resourceId=
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	files, err := h.Files.List(r.Context(), file.ListFilter{
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if files == nil {
		files = []file.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

// GetFile handles GET /api/v1/files/{id}
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.Files.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// FileDownloadURL handles GET /api/v1/files/{id}/download-url
func (h *Handlers) FileDownloadURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.Files.DownloadURL(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"downloadUrl": url})
}

// DeleteFile handles DELETE /api/v1/files/{id}
func (h *Handlers) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.Files.Delete(r.Context(), urlParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
