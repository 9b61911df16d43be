// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"

	"HouseholdTelemetryAPI/internal/config"
	"HouseholdTelemetryAPI/internal/handler"
	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	log        *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		router: router,
		cfg:    cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	return server
}

// Handlers groups everything mounted on the router.
type Handlers struct {
	Metrics     *handler.MetricsHandler
	Alerts      *handler.AlertHandler
	Connections *handler.ConnectionsHandler
	Health      *handler.HealthHandler
	// WebSocket upgrades telemetry clients; mounted outside /api/v1.
	WebSocket http.HandlerFunc
	// Requests feeds the application collector.
	Requests middleware.RequestObserver
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func (s *Server) RegisterHandlers(h Handlers) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Use(middleware.RequestLogger(s.log))
	if h.Requests != nil {
		api.Use(middleware.RequestMetrics(h.Requests))
	}
	api.Use(middleware.CORS(s.cfg.Security.CORSAllowedOrigins, s.cfg.Security.CORSAllowedMethods))

	if s.cfg.Security.EnableRateLimit {
		api.Use(middleware.RateLimit(s.cfg.Security.RateLimitPerMinute))
	}
	api.Use(middleware.Recovery(s.log))

	h.Metrics.RegisterRoutes(api)
	h.Alerts.RegisterRoutes(api)
	h.Connections.RegisterRoutes(api)
	h.Health.RegisterRoutes(s.router)

	if h.WebSocket != nil {
		s.router.HandleFunc(s.cfg.Gateway.Path, h.WebSocket).Methods("GET")
	}
	if h.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.log.Info("All handlers registered")
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
