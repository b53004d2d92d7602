// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package api provides the HTTP surface over the recommendation engine
// using the Chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/metrics"
)

// Config holds HTTP surface settings.
type Config struct {
	// ListenAddr is the bind address. Default: ":8080".
	ListenAddr string `json:"listen_addr"`

	// AllowedOrigins configures CORS. Empty means same-origin only.
	AllowedOrigins []string `json:"allowed_origins"`

	// RateLimit is requests per minute per client IP. Default: 120.
	RateLimit int `json:"rate_limit"`

	// RequestTimeout bounds handler execution. Default: 60s.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		RateLimit:      120,
		RequestTimeout: 60 * time.Second,
	}
}

// Router assembles the HTTP handler tree.
type Router struct {
	cfg     Config
	handler *Handler
	logger  zerolog.Logger
}

// NewRouter creates a router over the given handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRouter(cfg Config, handler *Handler, logger zerolog.Logger) *Router {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Router{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Setup builds the complete handler tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(rt.cfg.RequestTimeout))
	r.Use(requestMetrics)

	if len(rt.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimit, time.Minute))

		r.Get("/recommendations", rt.handler.Recommendations)
		r.Get("/profile", rt.handler.Profile)

		r.Post("/history", rt.handler.ImportHistory)

		r.Post("/feedback", rt.handler.PostFeedback)
		r.Delete("/feedback/{candidateID}", rt.handler.DeleteFeedback)
		r.Get("/suggestions/{candidateID}/state", rt.handler.SuggestionState)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records Prometheus counters for every request.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, pattern, ww.Status(), time.Since(start))
	})
}

// ListenAddr returns the configured bind address.
func (rt *Router) ListenAddr() string {
	return rt.cfg.ListenAddr
}
