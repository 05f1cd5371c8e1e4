// Package httptransport assembles the HTTP surface: the shared middleware
// chain, the feature handlers, and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	handoverhandler "pawbase/internal/handover/handler"
	onboardinghandler "pawbase/internal/onboarding/handler"
	"pawbase/internal/platform/metrics"
	"pawbase/internal/platform/middleware"
	registryhandler "pawbase/internal/registry/handler"
	transitionhandler "pawbase/internal/transition/handler"
	"pawbase/pkg/platform/middleware/metadata"
	"pawbase/pkg/platform/middleware/requesttime"
)

// Deps carries everything the router needs. Handlers register their own
// routes; the router owns the middleware order.
type Deps struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	JWTValidator middleware.JWTValidator

	Registry   *registryhandler.Handler
	Transition *transitionhandler.Handler
	Onboarding *onboardinghandler.Handler
	Handover   *handoverhandler.Handler
}

// NewRouter builds the service router. Operational endpoints sit outside the
// authenticated group; every business route requires a valid access token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.RequireAuth(deps.JWTValidator, deps.Logger))

		deps.Registry.Register(api)
		deps.Transition.Register(api)
		deps.Onboarding.Register(api)
		deps.Handover.Register(api)
	})

	return r
}
