package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/logging"
	"github.com/kozaktomas/face-id/internal/web/handlers"
	"github.com/kozaktomas/face-id/internal/web/middleware"
)

// requestTimeout bounds regular API calls; event streams and the preview
// socket are exempt.
const requestTimeout = 2 * time.Minute

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	services   handlers.Services
	flows      *handlers.FlowManager
	origins    middleware.Origins
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, services handlers.Services) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		services: services,
		flows:    handlers.NewFlowManager(handlers.DefaultFlowTTL),
		origins:  middleware.NewOrigins(cfg.Web.AllowedOrigins),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(s.origins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logging.Component("web").WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and releases the camera.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("web").Info("shutting down web server")

	s.flows.CloseAll()
	if s.services.Camera != nil {
		s.services.Camera.Release()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Flows returns the flow manager.
func (s *Server) Flows() *handlers.FlowManager {
	return s.flows
}
