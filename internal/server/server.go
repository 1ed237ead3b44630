// Package server wires the routers of the primary and secondary services.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/querysync/internal/config"
	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/handler"
	"github.com/devrev/querysync/internal/health"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server of one service.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

func newServer(cfg *config.Config, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:       router,
		errorHandler: apierrors.NewHandler(logger),
		logger:       logger,
		cfg:          cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.CORS(cfg.CORS.AllowedOrigins),
		metrics.Middleware(m),
	}
	if cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			cfg.RateLimiter.RequestsPerSecond,
			cfg.RateLimiter.BurstSize,
			logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}
	chain := middleware.Chain(middlewareChain...)
	router.Use(chain)

	router.HandleFunc("/health", healthCheck.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// mux skips Use middleware for unmatched requests.
	router.NotFoundHandler = chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.Write(w, r, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found")
	}))
	router.MethodNotAllowedHandler = chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.Write(w, r, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed")
	}))

	return s
}

// NewPrimaryServer creates the caller-facing server of the primary.
func NewPrimaryServer(cfg *config.Config, h *handler.PrimaryHandlers, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := newServer(cfg, healthCheck, m, logger)
	s.registerQueryRoutes(h)
	return s
}

// NewSecondaryServer creates the server of the secondary.
func NewSecondaryServer(cfg *config.Config, h *handler.SecondaryHandlers, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := newServer(cfg, healthCheck, m, logger)
	s.registerQueryRoutes(h)
	return s
}

// queryRoutes is the operation set both services expose.
type queryRoutes interface {
	CreateQuery(w http.ResponseWriter, r *http.Request)
	ListQueries(w http.ResponseWriter, r *http.Request)
	DeleteQuery(w http.ResponseWriter, r *http.Request)
}

// Non-numeric ids never match and fall through to the 404 handler.
func (s *Server) registerQueryRoutes(h queryRoutes) {
	s.router.HandleFunc("/query", h.CreateQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/queries", h.ListQueries).Methods(http.MethodGet)
	s.router.HandleFunc("/query/{id:[0-9]+}", h.DeleteQuery).Methods(http.MethodDelete)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.String("role", string(s.cfg.Role)),
		zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}
