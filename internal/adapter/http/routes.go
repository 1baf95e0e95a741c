package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/adapter/metrics"
	cfotel "github.com/chin-flags/fixapp/internal/adapter/otel"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/middleware"
	"github.com/chin-flags/fixapp/internal/port/cache"
)

const idempotencyTTL = 24 * time.Hour

// RouterDeps collects what NewRouter mounts. Optional parts may be nil.
type RouterDeps struct {
	Handlers *Handlers
	Tenants  middleware.TenantLookup
	Verifier middleware.TokenVerifier

	Realtime    http.HandlerFunc        // GET /rca
	Metrics     *metrics.HTTP           // GET /metrics and request instrumentation
	RateLimiter *middleware.RateLimiter // nil disables rate limiting
	Idempotency cache.Cache             // nil disables Idempotency-Key replay
}

// NewRouter builds the HTTP handler of the API service.
func NewRouter(cfg config.Config, deps RouterDeps, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := deps.Handlers

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.Server.CORSOrigin))
	if cfg.OTel.Endpoint != "" {
		r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", h.Health)
	if deps.Realtime != nil {
		r.Get("/rca", deps.Realtime)
	}

	limit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Handler
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantResolver(deps.Tenants, cfg.Tenancy, log))
		r.Use(tagTenant)

		// Public
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/auth/login", h.Login)
			r.Post("/auth/refresh", h.Refresh)
		})

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Verifier, log))
			r.Use(limit)
			if deps.Idempotency != nil {
				r.Use(middleware.Idempotency(deps.Idempotency, idempotencyTTL, log))
			}

			r.Post("/auth/logout", h.Logout)
			r.Get("/auth/me", h.Me)

			r.Get("/tenant", h.CurrentTenant)

			r.Get("/users", h.ListUsers)
			r.Get("/users/{id}", h.GetUser)
			r.With(middleware.RequireRole(user.RoleTenantAdmin)).Post("/users", h.CreateUser)
			r.With(middleware.RequireRole(user.RoleTenantAdmin)).Patch("/users/{id}/status", h.SetUserStatus)

			r.Post("/files/upload-url", h.RequestUploadURL)
			r.Post("/files", h.ConfirmUpload)
			r.Get("/files", h.ListFiles)
			r.Get("/files/{id}", h.GetFile)
			r.Get("/files/{id}/download-url", h.FileDownloadURL)
			r.Delete("/files/{id}", h.DeleteFile)

			r.Route("/queues", func(r chi.Router) {
				r.Use(middleware.RequireRole(user.RoleTenantAdmin))
				r.Get("/health", h.QueueHealth)
				r.Get("/{name}/failed", h.FailedJobs)
				r.Post("/{name}/retry/{jobId}", h.RetryJob)
			})
		})
	})

	return r
}
