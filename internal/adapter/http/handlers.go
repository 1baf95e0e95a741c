package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chin-flags/fixapp/internal/service"
)

const healthTimeout = 3 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatus reports whether the message queue is reachable.
type QueueStatus interface {
	IsConnected() bool
}

// Handlers holds the service dependencies of the REST surface.
type Handlers struct {
	Auth  *service.AuthService
	Users *service.UserService
	Files *service.FileService
	Jobs  *service.JobQueue // nil when no queue is configured

	DB    Pinger
	Queue QueueStatus // nil when no queue is configured

	// SecureCookies marks the refresh cookie Secure. Off for plain-HTTP development.
	SecureCookies bool

	Log *zap.Logger
}

func (h *Handlers) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health. It lives outside the tenant scope.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Services: map[string]string{}}
	var dbErr, queueErr error

	var g errgroup.Group
	if h.DB != nil {
		g.Go(func() error {
			dbErr = h.DB.Ping(ctx)
			return nil
		})
	}
	if h.Queue != nil {
		g.Go(func() error {
			if !h.Queue.IsConnected() {
				queueErr = errors.New("disconnected")
			}
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if h.DB != nil {
		resp.Services["postgres"] = "up"
		if dbErr != nil {
			resp.Services["postgres"] = "down"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.logger().Warn("health check failed", zap.String("service", "postgres"), zap.Error(dbErr))
		}
	}
	if h.Queue != nil {
		resp.Services["nats"] = "up"
		if queueErr != nil {
			resp.Services["nats"] = "down"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
