package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/districts"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/metric"
	"github.com/opensource-health/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, resolver *rules.Resolver, exprs *rules.Expressions, store *districts.Store, metrics *metric.Loader, catalogs *catalog.Loader, version string, defaultPolicy domain.Policy) *Server {
	handler := NewHandler(repo, cache, bus, resolver, exprs, store, metrics, catalogs, version, defaultPolicy)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(MetricsMiddleware)      // Prometheus request metrics
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and scrape endpoints (no workspace required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", MetricsHandler())

	// API routes (workspace required)
	router.Route("/", func(r chi.Router) {
		r.Use(WorkspaceMiddleware)

		// District table
		r.Put("/districts", handler.LoadDistricts)
		r.Get("/districts", handler.ListDistricts)
		r.Get("/districts/{id}", handler.GetDistrict)
		r.Get("/districts/{id}/rule-color", handler.GetDistrictRuleColor)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reorder", handler.ReorderRules)
		r.Post("/rules/reload", handler.ReloadRules)

		// Exception management
		r.Post("/rules/{id}/exceptions", handler.AddRuleExceptions)
		r.Delete("/rules/{id}/exceptions/{districtID}", handler.RemoveRuleException)
		r.Post("/exceptions", handler.BatchExceptions)

		// Resolution
		r.Post("/resolve", handler.Resolve)
		r.Get("/resolutions/latest", handler.LatestResolution)
		r.Get("/resolutions/{id}", handler.GetResolution)

		// Export
		r.Get("/export/csv", handler.ExportCSV)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
