// Package http wires the chi router, middleware chain and request handlers
// for the analysis API.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"costwatch/internal/config"
	apierrors "costwatch/internal/errors"
	"costwatch/internal/metrics"
	custommw "costwatch/internal/middleware"
	"costwatch/internal/report"
	"costwatch/internal/services"
)

// NewRouter assembles the full HTTP surface: the analysis API under /api,
// the Prometheus endpoint under /metrics.
func NewRouter(cfg *config.Config, svc *services.AnalysisService, reports *report.Writer, m *metrics.Metrics, version string, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	errorHandler := apierrors.NewErrorHandler(logger, cfg.Logging.Development)

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(logger))
	r.Use(apierrors.RecoveryMiddleware(errorHandler))
	r.Use(custommw.Compress(5))
	r.Use(custommw.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(custommw.Metrics(m))
	if cfg.Security.RateLimit.Enabled {
		rl := custommw.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, logger)
		r.Use(rl.Handler)
	}

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	analysis := NewAnalysisHandler(svc, reports, logger, cfg.Server.MaxUploadBytes, cfg.Paths.DefaultDataset)
	health := NewHealthHandler(logger, version)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", health.HealthCheck)
		api.Group(func(api chi.Router) {
			api.Use(custommw.Timeout(cfg.Server.AnalyzeTimeout))
			analysis.RegisterRoutes(api)
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return r
}
