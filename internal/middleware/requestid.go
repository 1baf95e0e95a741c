// Package middleware provides HTTP middleware for fixapp.
package middleware

import (
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/chin-flags/fixapp/internal/logger"
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new ULID. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.ExtractRequestID(r.Context(), r.Header)
		if logger.RequestID(ctx) == "" {
			ctx = logger.WithRequestID(ctx, ulid.Make().String())
		}
		logger.InjectRequestID(ctx, w.Header())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
