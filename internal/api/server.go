package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/history"
	"github.com/opensource-insurance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, engineCfg domain.EngineConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, checks *rules.Engine, historySvc *history.Service, workers int, version string) *Server {
	handler := NewHandler(engineCfg, repo, cache, bus, checks, historySvc, workers, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression
	router.Use(handler.metrics.InstrumentMiddleware)

	// Operational endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", handler.metrics.Handler())

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Claim evaluation
		r.Post("/evaluate", handler.Evaluate)
		r.Post("/evaluate/batch", handler.EvaluateBatch)

		// Claim lifecycle
		r.Post("/claims", handler.CreateClaim)
		r.Get("/claims", handler.ListClaims)
		r.Get("/claims/{id}", handler.GetClaim)
		r.Post("/claims/{id}/evaluate", handler.EvaluateClaim)
		r.Put("/claims/{id}/estimate", handler.PutEstimate)

		// Decisions and correspondence
		r.Get("/claims/{id}/decision", handler.GetDecision)
		r.Get("/claims/{id}/decisions", handler.ListDecisionHistory)
		r.Get("/claims/{id}/letter", handler.GetLetter)

		// Manual review
		r.Get("/review", handler.ListReviewQueue)
		r.Post("/claims/{id}/review", handler.ResolveReview)

		// Policy management
		r.Post("/policies", handler.CreatePolicy)
		r.Get("/policies/{id}", handler.GetPolicy)

		// Claimant history
		r.Get("/claimants/{id}/stats", handler.ClaimantStats)

		// Check management
		r.Get("/checks", handler.ListChecks)
		r.Get("/checks/{id}", handler.GetCheck)
		r.Post("/checks", handler.CreateCheck)
		r.Put("/checks/{id}", handler.UpdateCheck)
		r.Delete("/checks/{id}", handler.DeleteCheck)
		r.Post("/checks/reload", handler.ReloadChecks)
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
