// Package status serves a read-only local view of the agent.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/campaign"
	"github.com/leadmify/agent/internal/controlplane"
	"github.com/leadmify/agent/internal/lease"
	"github.com/leadmify/agent/internal/metrics"
)

// Deps are the state sources exposed by the server
type Deps struct {
	Registry *campaign.Registry
	Leases   *lease.Tracker
	Sessions *browser.Sessions
	// Health reports control-plane connectivity; it may be nil
	Health  func() controlplane.Health
	Version string
}

// Server is the status HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	addr       string
	deps       Deps
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a status server listening on addr
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	if deps.Registry == nil {
		deps.Registry = campaign.NewRegistry()
	}
	if deps.Leases == nil {
		deps.Leases = lease.NewTracker()
	}
	if deps.Sessions == nil {
		deps.Sessions = browser.NewSessions()
	}

	s := &Server{
		router:    chi.NewRouter(),
		addr:      addr,
		deps:      deps,
		logger:    logger.With("component", "status"),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/campaigns", s.handleCampaigns)
	s.router.Get("/campaigns/{id}", s.handleCampaign)
	s.router.Get("/leases", s.handleLeases)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting status server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
