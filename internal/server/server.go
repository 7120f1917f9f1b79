// Package server exposes the HTTP control surface: manual run triggers for
// the three pipelines and read-only views of tokens and queue state.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/ingest"
	"github.com/timigod/midas/internal/reconcile"
	"github.com/timigod/midas/internal/storage"
	"github.com/timigod/midas/internal/sweep"
)

// Config holds server configuration.
type Config struct {
	Addr      string
	QueueName string
	Log       zerolog.Logger

	Tokens storage.TokenStore
	Queue  storage.QueueStore

	Ingest    *ingest.Pipeline
	Reconcile *reconcile.Pipeline
	Sweep     *sweep.Sweeper
}

// Server is the HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	queueName string

	tokens storage.TokenStore
	queue  storage.QueueStore

	ingest    *ingest.Pipeline
	reconcile *reconcile.Pipeline
	sweep     *sweep.Sweeper
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		queueName: cfg.QueueName,
		tokens:    cfg.Tokens,
		queue:     cfg.Queue,
		ingest:    cfg.Ingest,
		reconcile: cfg.Reconcile,
		sweep:     cfg.Sweep,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // a manual run can take a while
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(2 * time.Minute))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/run", func(r chi.Router) {
		r.Post("/ingest", s.handleRunIngest)
		r.Post("/reconcile", s.handleRunReconcile)
		r.Post("/sweep", s.handleRunSweep)
	})

	s.router.Route("/tokens", func(r chi.Router) {
		r.Get("/", s.handleListTokens)
		r.Get("/{address}", s.handleGetToken)
	})

	s.router.Get("/queue/stats", s.handleQueueStats)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
