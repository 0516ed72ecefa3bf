// SPDX-License-Identifier: MIT

// Package api exposes the operational HTTP surface of the bus: event
// history and DLQ queries, health probes and prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/auditflow/ledgerbus/internal/bus"
	"github.com/auditflow/ledgerbus/internal/health"
	"github.com/auditflow/ledgerbus/internal/log"
)

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr   string
	RateLimitRPS int // per-IP request budget for /api routes, 0 disables
}

// Server serves the admin API for one bus instance.
type Server struct {
	cfg    Config
	bus    *bus.Bus
	health *health.Manager
	logger zerolog.Logger
}

func New(cfg Config, b *bus.Bus, hm *health.Manager) *Server {
	return &Server{
		cfg:    cfg,
		bus:    b,
		health: hm,
		logger: log.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimitRPS > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitRPS, time.Second))
		}
		r.Get("/channels/{channel}/events", s.handleEventHistory)
		r.Get("/channels/{channel}/dlq", s.handleDLQMessages)
		r.Delete("/channels/{channel}/dlq", s.handleClearDLQ)
	})

	return r
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request handled")
	})
}
