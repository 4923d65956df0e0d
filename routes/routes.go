package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/devportal-backend/app"
	"github.com/upb/devportal-backend/handlers"
	"github.com/upb/devportal-backend/middleware"
	"github.com/upb/devportal-backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger
	r := chi.NewRouter()

	// Metrics is nil until the observability feature runs
	var observer middleware.RequestObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Instrument(logger, observer))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	// Credentialed CORS for the portal front end
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}
	var queue handlers.AuditQueue
	if deps.Audit != nil {
		queue = deps.Audit
	}
	health := handlers.NewHealthHandler(db, deps.Registry, queue, logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil && cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/providers", handlers.AuthProvidersHandler(deps))
		r.Get("/{provider}/start", handlers.AuthStartHandler(deps))
		r.Get("/{provider}/handler/frame", handlers.AuthCallbackHandler(deps))
		r.Get("/{provider}/logout", handlers.AuthLogoutHandler(deps))
		r.Post("/{provider}/logout", handlers.AuthLogoutHandler(deps))

		r.With(deps.AuthMiddleware.RequireAuth).Get("/v1/userinfo", handlers.UserInfoHandler(logger))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(deps))

		// Sign-in audit trail (authenticated; restricted when viewers are configured)
		r.Route("/audit/signins", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAnyEntitlement(cfg.Audit.Viewers...))
			r.Get("/", handlers.ListSignInAttemptsHandler(deps, logger))
			r.Get("/summary", handlers.SignInSummaryHandler(deps, logger))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
