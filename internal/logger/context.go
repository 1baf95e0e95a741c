package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/tenancy"
)

// RequestIDHeader carries the request id over HTTP and NATS.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores id in ctx. Empty ids leave ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ValidRequestID accepts printable ASCII ids of bounded length so a caller
// cannot inject control characters into log lines.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// HeaderSetter is satisfied by http.Header and nats.Header.
type HeaderSetter interface {
	Set(key, value string)
}

// HeaderGetter is satisfied by http.Header and nats.Header.
type HeaderGetter interface {
	Get(key string) string
}

// InjectRequestID copies the request id in ctx onto h.
func InjectRequestID(ctx context.Context, h HeaderSetter) {
	if id := RequestID(ctx); id != "" {
		h.Set(RequestIDHeader, id)
	}
}

// ExtractRequestID returns ctx carrying the request id from h when it is
// present and valid.
func ExtractRequestID(ctx context.Context, h HeaderGetter) context.Context {
	if id := h.Get(RequestIDHeader); ValidRequestID(id) {
		return WithRequestID(ctx, id)
	}
	return ctx
}

// FromContext enriches base with the request id, tenant id and trace
// identifiers carried by ctx. Missing values are omitted.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	fields := make([]zap.Field, 0, 4)
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if tid := tenancy.TenantID(ctx); tid != "" {
		fields = append(fields, zap.String("tenant_id", tid))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
