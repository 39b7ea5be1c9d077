package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the correlation id on HTTP requests and responses.
const CorrelationHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// WithCorrelationID returns a context carrying a fresh correlation id.
func WithCorrelationID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, correlationIDKey{}, id), id
}

// CorrelationIDFromContext returns the correlation id stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Middleware tags each request with a correlation id, reusing a well-formed incoming
// X-Correlation-ID, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := r.Header.Get(CorrelationHeader)
		if _, err := uuid.Parse(id); err == nil {
			ctx = context.WithValue(ctx, correlationIDKey{}, id)
		} else {
			ctx, id = WithCorrelationID(ctx)
		}

		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
