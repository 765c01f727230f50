// Package httpserver wires the runledger handlers, middleware, and routes
// into a single net/http server with a pre-bound listener.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/runledger/internal/config"
	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/ratelimit"
	"git.home.luguber.info/inful/runledger/internal/server/handlers"
	smw "git.home.luguber.info/inful/runledger/internal/server/middleware"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// Server manages the HTTP ingestion/query surface.
type Server struct {
	cfg          *config.Config
	store        *storage.Engine
	recorder     metrics.Recorder
	registry     *prom.Registry
	errorAdapter *derrors.HTTPErrorAdapter
	logger       *slog.Logger

	runHandlers        *handlers.RunHandlers
	monitoringHandlers *handlers.MonitoringHandlers

	mchain func(http.Handler) http.Handler
	srv    *http.Server
	ln     net.Listener
}

// Options carries optional server collaborators.
type Options struct {
	Recorder metrics.Recorder
	Registry *prom.Registry
	Logger   *slog.Logger
}

// New constructs the HTTP server wiring.
func New(cfg *config.Config, store *storage.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	s := &Server{
		cfg:          cfg,
		store:        store,
		recorder:     recorder,
		registry:     opts.Registry,
		errorAdapter: derrors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
	s.runHandlers = handlers.NewRunHandlers(store, recorder, logger)
	s.monitoringHandlers = handlers.NewMonitoringHandlers(store, recorder, logger)

	var limiter *ratelimit.Limiter
	if cfg.API.RateLimitEnabled {
		limiter = ratelimit.New(cfg.API.RateLimitRPM, time.Minute)
	}
	s.mchain = smw.Chain(logger, s.errorAdapter, smw.Options{
		AuthEnabled:      cfg.API.AuthEnabled,
		AuthToken:        cfg.API.AuthToken,
		RateLimitEnabled: cfg.API.RateLimitEnabled,
		Limiter:          limiter,
		RateLimitWindow:  time.Minute,
		Recorder:         recorder,
	})

	return s
}

// Handler builds the routed, middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// The {event_id} routes are more specific than the listing route, so the
	// mux resolves them first regardless of registration order.
	mux.HandleFunc("POST /api/v1/runs", s.runHandlers.HandleCreate)
	mux.HandleFunc("POST /api/v1/runs/batch", s.runHandlers.HandleBatch)
	mux.HandleFunc("PATCH /api/v1/runs/{event_id}", s.runHandlers.HandlePatch)
	mux.HandleFunc("GET /api/v1/runs/{event_id}", s.runHandlers.HandleFetch)
	mux.HandleFunc("GET /api/v1/runs", s.runHandlers.HandleQuery)
	mux.HandleFunc("GET /api/v1/runs/{event_id}/commit-url", s.runHandlers.HandleCommitURL)
	mux.HandleFunc("GET /api/v1/runs/{event_id}/repo-url", s.runHandlers.HandleRepoURL)
	mux.HandleFunc("POST /api/v1/runs/{event_id}/associate-commit", s.runHandlers.HandleAssociateCommit)
	mux.HandleFunc("GET /api/v1/metadata", s.monitoringHandlers.HandleMetadata)
	mux.HandleFunc("GET /metrics", s.monitoringHandlers.HandleMetrics)
	mux.HandleFunc("GET /health", s.monitoringHandlers.HandleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics/prometheus", metrics.HTTPHandler(s.registry))
	}

	return s.mchain(mux)
}

// Start binds the listen address and serves in a background goroutine.
// Pre-binding surfaces 'address already in use' before the daemon reports
// itself healthy.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.ln = ln

	handler := s.Handler()
	if s.cfg.API.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, s.cfg.API.RequestTimeout, `{"detail":"request timed out"}`)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", slog.String("addr", addr))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
