package logger

import "context"

type requestIDKey struct{}

type tenantIDKey struct{}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithTenantID returns a new context carrying the tenant a log line belongs to.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, id)
}

// TenantID extracts the tenant ID from the context, or "" if unset.
func TenantID(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey{}).(string)
	return id
}

// Attrs returns the request-scoped attributes stored in ctx as slog key/value
// pairs, suitable for logger.With(Attrs(ctx)...).
func Attrs(ctx context.Context) []any {
	var out []any
	if id := RequestID(ctx); id != "" {
		out = append(out, "request_id", id)
	}
	if id := TenantID(ctx); id != "" {
		out = append(out, "tenant_id", id)
	}
	return out
}
