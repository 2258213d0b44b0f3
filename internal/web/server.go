// Package web exposes the transform over HTTP so a scheduler can trigger
// runs and read their outcome.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/web/handlers"
	"github.com/listings-etl/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	runs       *handlers.RunsHandler
	httpServer *http.Server
	router     *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves recorded runs from h.
func WithHistory(h handlers.History) Option {
	return func(s *Server) { s.runs.History = h }
}

// NewServer creates a new web server instance
func NewServer(cfg *config.Config, runner handlers.Runner, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("web")

	server := &Server{
		config: cfg,
		logger: logger,
		runs:   &handlers.RunsHandler{Runner: runner, Config: cfg, Logger: logger},
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()

	// Runs are synchronous, so there is no write timeout.
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/health", s.runs.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.runs.TriggerRun).Methods("POST")
	api.HandleFunc("/runs", s.runs.ListRuns).Methods("GET")
	api.HandleFunc("/runs/last", s.runs.LastRun).Methods("GET")
	api.HandleFunc("/runs/{id}/clusters", s.runs.RunClusters).Methods("GET")

	s.router.Use(middleware.RequestLogging(s.logger))
	if s.config.Server.APIKey != "" {
		api.Use(middleware.APIKey(s.config.Server.APIKey))
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
