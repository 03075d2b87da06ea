package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the route tree. Nil entries are skipped.
type RouterConfig struct {
	// Handlers
	EvaluationHandler *handlers.EvaluationHandler
	CatalogHandler    *handlers.CatalogHandler
	HealthHandler     *handlers.HealthHandler

	// Middleware
	AuthMiddleware      *keycloak.AuthMiddleware
	Enforcer            *keycloak.Enforcer
	CORSMiddleware      *middleware.CORSMiddleware
	LoggingMiddleware   *middleware.LoggingMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	// Infrastructure
	Logger           logging.Logger
	Metrics          *metrics.AppMetrics
	MetricsCollector metrics.MetricsCollector
	MetricsPath      string
}

// NewRouter constructs the route tree: global middleware, public probes and
// the metrics scrape, then the authenticated /api/v1 group where every route
// is guarded by its permission.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.CORSMiddleware != nil {
		r.Use(cfg.CORSMiddleware.Handler)
	}
	if cfg.LoggingMiddleware != nil {
		r.Use(cfg.LoggingMiddleware.Handler)
	}
	r.Use(middleware.RouteMetrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}

	enforcer := cfg.Enforcer
	if enforcer == nil {
		enforcer = keycloak.NewPermissiveEnforcer()
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.Handler)
		}
		// After auth so clients are keyed by token subject.
		if cfg.RateLimitMiddleware != nil {
			api.Use(cfg.RateLimitMiddleware.Handler)
		}

		registerEvaluationRoutes(api, cfg.EvaluationHandler, enforcer)
		registerCatalogRoutes(api, cfg.CatalogHandler, enforcer)
	})

	return r
}

// registerEvaluationRoutes mounts /cases and /verdicts.
func registerEvaluationRoutes(r chi.Router, h *handlers.EvaluationHandler, e *keycloak.Enforcer) {
	if h == nil {
		return
	}
	r.Route("/cases", func(cr chi.Router) {
		cr.Use(e.RequirePermission(keycloak.PermCaseEvaluate))
		cr.Post("/evaluate", h.Evaluate)
		cr.Post("/evaluate/batch", h.EvaluateBatch)
	})
	r.Route("/verdicts", func(vr chi.Router) {
		vr.With(e.RequirePermission(keycloak.PermVerdictSearch)).Get("/search", h.SearchVerdicts)

		vr.Route("/{caseID}", func(item chi.Router) {
			item.Use(e.RequirePermission(keycloak.PermVerdictRead))
			item.Get("/", h.GetVerdict)
			item.Get("/history", h.VerdictHistory)
		})
	})
}

// registerCatalogRoutes mounts /catalog, /documents and /opinions.
func registerCatalogRoutes(r chi.Router, h *handlers.CatalogHandler, e *keycloak.Enforcer) {
	if h == nil {
		return
	}
	r.Route("/catalog", func(cr chi.Router) {
		cr.Group(func(read chi.Router) {
			read.Use(e.RequirePermission(keycloak.PermCatalogRead))
			read.Get("/", h.GetCatalog)
			read.Get("/documents/{name}", h.GetDocumentType)
			read.Get("/documents/{name}/location", h.GetLocation)
		})
		cr.With(e.RequirePermission(keycloak.PermCatalogReload)).Post("/reload", h.Reload)
	})

	r.With(e.RequirePermission(keycloak.PermDocumentCheck)).Post("/documents/validate", h.ValidateDocument)
	r.With(e.RequirePermission(keycloak.PermDocumentCheck)).Post("/opinions/analyze", h.AnalyzeOpinion)
}
