package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/port/cache"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyBody   = 1 << 20 // 1 MB
	maxIdempotencyKey    = 255
)

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that replays the response of a mutating
// request carrying an Idempotency-Key already seen within ttl. Keys are
// scoped to the ambient tenant and the authenticated user, so a caller can
// only replay responses to its own requests. Only 2xx responses are stored.
func Idempotency(c cache.Cache, ttl time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			snap, ok := tenancy.Current(r.Context())
			if key == "" || len(key) > maxIdempotencyKey || !ok {
				next.ServeHTTP(w, r)
				return
			}
			userID := ""
			if p := PrincipalFromContext(r.Context()); p != nil {
				userID = p.UserID
			}
			cacheKey := "idempotency:" + snap.TenantID + ":" + userID + ":" + r.Method + ":" + r.URL.Path + ":" + key

			data, found, err := c.Get(r.Context(), cacheKey)
			if err != nil {
				log.Warn("idempotency: cache read failed", zap.String("key", key), zap.Error(err))
			}
			if found {
				var cached idempotencyEntry
				if err := json.Unmarshal(data, &cached); err == nil {
					for k, vals := range cached.Headers {
						for _, v := range vals {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(cached.StatusCode)
					_, _ = w.Write(cached.Body)
					return
				}
				log.Warn("idempotency: corrupt cache entry", zap.String("key", key))
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode > 299 || rec.body.Len() > maxIdempotencyBody {
				return
			}
			entry, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), cacheKey, entry, ttl); err != nil {
				log.Warn("idempotency: failed to store response", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
