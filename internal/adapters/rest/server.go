// Package rest exposes the identity registry and message gate over HTTP.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	keyauth "airc-chat/go-backend/internal/domains/keyauth/usecase"
	msggate "airc-chat/go-backend/internal/domains/msggate/usecase"
	"airc-chat/go-backend/internal/platform/ratelimiter"
)

type Config struct {
	ListenAddr  string
	Version     string
	OriginRPS   float64
	OriginBurst int
	Identity    *keyauth.Service
	Gate        *msggate.Gate
	Registry    *prometheus.Registry
	Logger      *slog.Logger
}

type Server struct {
	server   *http.Server
	identity *keyauth.Service
	gate     *msggate.Gate
	version  string
	logger   *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		identity: cfg.Identity,
		gate:     cfg.Gate,
		version:  cfg.Version,
		logger:   logger,
	}

	limiter := ratelimiter.New(cfg.OriginRPS, cfg.OriginBurst, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(recoveryMiddleware(logger))
	r.Use(correlationMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Get("/health", s.handleHealth)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(originLimitMiddleware(limiter))

		r.Route("/identity/{handle}", func(r chi.Router) {
			r.Post("/", s.handleProvision)
			r.Post("/key", s.handleRegisterKey)
			r.Post("/rotate", s.handleRotate)
			r.Post("/revoke", s.handleRevoke)
			r.Get("/key", s.handleResolveKey)
			r.Get("/status", s.handleStatus)
		})

		r.Post("/messages", s.handleSendMessage)
	})

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.server.Shutdown(ctx)
}
