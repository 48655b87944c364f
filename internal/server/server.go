// Package server exposes the collector's small ambient HTTP surface:
// liveness/readiness at /healthz and a Prometheus scrape endpoint at
// /metrics. Router and lifecycle shape are grounded on the teacher's chi
// server, trimmed to the two routes this domain actually needs -- no
// portfolio-style resource handlers belong here.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cryptofeed/collector/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthReporter is implemented by whatever can describe current
// per-exchange health/circuit state; the orchestrator satisfies it.
type HealthReporter interface {
	Ready() (ready bool, detail map[string]string)
}

// Config holds the server's dependencies.
type Config struct {
	Addr    string
	Metrics *metrics.Metrics
	Health  HealthReporter
	Log     zerolog.Logger
}

// Server wraps a chi router and the *http.Server it binds to.
type Server struct {
	cfg    Config
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger
}

// New builds a Server with routes registered but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "http_server").Logger(),
	}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(15 * time.Second))
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
			Msg("http request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ready, detail := true, map[string]string{}
	if s.cfg.Health != nil {
		ready, detail = s.cfg.Health.Ready()
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  map[bool]string{true: "ok", false: "degraded"}[ready],
		"detail":  detail,
		"time_ms": time.Now().UnixMilli(),
	})
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("starting http server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
