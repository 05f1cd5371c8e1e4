// Package middleware carries the HTTP middleware chain shared by every
// feature handler.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"pawbase/pkg/requestcontext"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a correlation id to the request context. An id supplied
// by the caller in X-Request-ID is honored; otherwise one is generated. The
// id is echoed back on the response for client-side correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request correlation ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
