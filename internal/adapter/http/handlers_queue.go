package http

import (
	"net/http"
	"strconv"

	"github.com/chin-flags/fixapp/internal/service"
)

const (
	defaultFailedStart = 0
	defaultFailedEnd   = 10
)

// QueueHealth handles GET /api/v1/queues/health
func (h *Handlers) QueueHealth(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeJSON(w, http.StatusOK, service.QueueHealth{Pending: map[string]uint64{}, Failed: map[string]uint64{}})
		return
	}

	health, err := h.Jobs.Health(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// FailedJobs handles GET /api/v1/queues/{name}/failed?start=&end=
func (h *Handlers) FailedJobs(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue unavailable")
		return
	}
	start, ok := queryInt(r, "start", defaultFailedStart)
	if !ok {
		writeError(w, http.StatusBadRequest, "start must be an integer")
		return
	}
	end, ok := queryInt(r, "end", defaultFailedEnd)
	if !ok {
		writeError(w, http.StatusBadRequest, "end must be an integer")
		return
	}

	jobs, err := h.Jobs.FailedJobs(r.Context(), urlParam(r, "name"), start, end)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// RetryJob handles POST /api/v1/queues/{name}/retry/{jobId}
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Job queue unavailable")
		return
	}
	if err := h.Jobs.Retry(r.Context(), urlParam(r, "name"), urlParam(r, "jobId")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
