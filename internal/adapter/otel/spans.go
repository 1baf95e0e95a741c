package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fixapp"

// StartTenantLookupSpan starts a span for a directory miss going to the store.
func StartTenantLookupSpan(ctx context.Context, subdomain string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenant.lookup",
		trace.WithAttributes(attribute.String("tenant.subdomain", subdomain)),
	)
}

// StartAuthSpan starts a span for a login or refresh.
func StartAuthSpan(ctx context.Context, operation, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "auth."+operation,
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
}
