package testutil

import (
	"net/http"

	"pawbase/internal/platform/middleware"
)

// WithActor adds authentication claims to the request context, simulating
// what the auth middleware does for a request from the given user.
func WithActor(req *http.Request, userID string) *http.Request {
	ctx := middleware.WithClaims(req.Context(), &middleware.JWTClaims{UserID: userID})
	return req.WithContext(ctx)
}
