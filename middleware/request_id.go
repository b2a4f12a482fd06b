package middleware

import "context"

type requestIDKey struct{}

// WithRequestID attaches a request ID, typically taken from an HTTP X-Request-Id header, to ctx.
// LoggingMiddleware adds it to every entry it writes.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
