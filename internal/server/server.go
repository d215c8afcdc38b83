// Package server provides the HTTP trigger surface of the veille
// notification services: manual/scheduled digest invocation, transactional
// email endpoints, health, and Prometheus metrics. It is deliberately an
// internal operations API, not a user-facing one.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzhttp"

	"veille/internal/config"
	"veille/internal/types"
)

// DigestJob triggers one digest run. Implemented by digest.Job.
type DigestJob interface {
	Execute(ctx context.Context, now time.Time) (types.RunStats, error)
}

// EmailService sends transactional emails. Implemented by email.Service.
type EmailService interface {
	SendWelcome(ctx context.Context, userID, address, firstName string) error
	SendBroadcast(ctx context.Context, addresses []string, templateID string) error
}

// Server bundles the router and its dependencies.
type Server struct {
	cfg       *config.Config
	job       DigestJob
	emails    EmailService
	telemetry *Telemetry
	validate  *validator.Validate
	logger    *slog.Logger
	router    chi.Router
}

// New builds the server and mounts all routes.
func New(cfg *config.Config, job DigestJob, emails EmailService, telemetry *Telemetry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		job:       job,
		emails:    emails,
		telemetry: telemetry,
		validate:  validator.New(),
		logger:    logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the fully wired http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server on the configured port with sane timeouts.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// Digest runs can take a while on large user tables.
		WriteTimeout: 15 * time.Minute,
	}
	s.logger.Info("http server listening", "port", s.cfg.Server.Port)
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.telemetry != nil {
		r.Method(http.MethodGet, "/metrics", s.telemetry.Handler())
	}

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireTriggerToken)
		// Trigger responses (run stats, error bodies) compress well.
		r.Use(func(next http.Handler) http.Handler {
			return gzhttp.GzipHandler(next)
		})
		r.Post("/jobs/digest", s.handleRunDigest)
		r.Post("/emails/welcome", s.handleWelcomeEmail)
		r.Post("/emails/broadcast", s.handleBroadcastEmail)
	})

	return r
}

// requireTriggerToken guards the internal endpoints with a static bearer
// token. An empty configured token disables the check (local development
// only; the loader defaults APP_ENV to local, prod deployments set one).
func (s *Server) requireTriggerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.TriggerToken.Unmask()
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(presented), []byte("Bearer "+token)) != 1 {
			writeError(w, types.NewAppError(types.ErrCodeValidationMissingField, "missing or invalid trigger token", nil), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
