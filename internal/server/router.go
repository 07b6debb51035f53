package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	authmiddleware "github.com/terraconstructs/authgate/internal/middleware"
	"github.com/terraconstructs/authgate/internal/services/authn"
	"github.com/terraconstructs/authgate/internal/telemetry"
)

// RouterOptions controls the construction of the authgate HTTP router.
type RouterOptions struct {
	Decider *authn.Decider
	// Upstream receives authenticated requests. Nil answers 404 for
	// everything but the built-in endpoints.
	Upstream    http.Handler
	Metrics     *telemetry.ServerMetrics
	Logger      *zap.Logger
	CORSOptions *cors.Options
	// Ready reports backend readiness for the health endpoint.
	Ready func(ctx context.Context) error
}

// DefaultCORSOptions returns the shared CORS policy, which grants no
// cross-origin access.
func DefaultCORSOptions() cors.Options {
	return CORSOptions(nil)
}

// CORSOptions returns the shared CORS policy granting credentialed access to
// exactly the listed origins. With no origins every cross-origin request is
// refused.
func CORSOptions(allowedOrigins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins:   append([]string(nil), allowedOrigins...),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"WWW-Authenticate", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(opts.AllowedOrigins) == 0 {
		// cors treats an empty list as allow-all
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return opts
}

// NewRouter assembles a chi.Router with the shared middleware, the
// unauthenticated health endpoint, and everything else behind the
// authentication decider.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.Metrics != nil {
		r.Use(authmiddleware.Metrics(opts.Metrics))
	}

	r.Get("/health", HandleHealth(opts.Ready))

	r.Group(func(r chi.Router) {
		r.Use(authmiddleware.Authenticate(opts.Decider))

		r.Get("/authgate/whoami", HandleWhoAmI())

		upstream := opts.Upstream
		if upstream == nil {
			upstream = http.NotFoundHandler()
		}
		r.Handle("/*", upstream)
	})

	return r
}
