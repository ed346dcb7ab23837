// Package api provides the HTTP API server for the bridge.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/deckbridge/deckbridge/internal/api/handlers"
	"github.com/deckbridge/deckbridge/internal/api/health"
	"github.com/deckbridge/deckbridge/internal/api/middleware"
	"github.com/deckbridge/deckbridge/internal/console"
	"github.com/deckbridge/deckbridge/internal/datacache"
	"github.com/deckbridge/deckbridge/internal/ports"
	"github.com/deckbridge/deckbridge/pkg/config"
)

// Version is the current version of the bridge server.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps carries the components the server exposes over HTTP.
type Deps struct {
	Monitor     *console.Monitor
	Runner      handlers.Runner
	Store       *datacache.Store
	Shaper      *datacache.Shaper
	Fetcher     handlers.Fetcher
	Coordinator *ports.Coordinator
	Port        int
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	listener      net.Listener
	config        *config.Config
	deps          Deps
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies. The
// listener comes from the port coordinator, already bound.
func NewServer(cfg *config.Config, deps Deps, listener net.Listener, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		deps:     deps,
		listener: listener,
		logger:   logger,
	}

	s.healthChecker = health.NewChecker(deps.Monitor, Version, deps.Port)

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())

	r.Route("/v1", func(r chi.Router) {
		logsHandler := handlers.NewLogsHandler(s.deps.Monitor, s.logger)
		r.Get("/logs", logsHandler.Get)
		r.Delete("/logs", logsHandler.Delete)

		logStreamHandler := handlers.NewLogStreamHandler(s.deps.Monitor.Broker(), s.logger)
		r.Get("/logs/stream", logStreamHandler.Stream)

		evalHandler := handlers.NewEvalHandler(s.deps.Runner, s.deps.Monitor, s.logger)
		r.Post("/eval", evalHandler.Create)

		datasetsHandler := handlers.NewDatasetsHandler(s.deps.Store, s.deps.Shaper, s.deps.Fetcher, s.logger)
		r.Route("/data", func(r chi.Router) {
			r.Get("/{key}", datasetsHandler.Get)
			r.Put("/{key}", datasetsHandler.Put)
			r.Delete("/{key}", datasetsHandler.Delete)
		})

		instancesHandler := handlers.NewInstancesHandler(s.deps.Coordinator, s.config.PreferredPort, s.logger)
		r.Get("/instances", instancesHandler.List)
		r.Post("/instances/cleanup", instancesHandler.Cleanup)
	})

	s.router = r
}

// Start serves HTTP on the claimed listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting bridge API server", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		// A closed channel means Serve ended cleanly, which happens when
		// the shutdown coordinator stopped the server before ctx fired.
		if !ok || err == nil {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down bridge API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Name implements shutdown.Component.
func (s *Server) Name() string { return "api-server" }

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
