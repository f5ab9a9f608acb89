// Package web provides the HTTP server and handlers for the telemetry API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/GiacomoSorbiWork/Volteras/internal/config"
	"github.com/GiacomoSorbiWork/Volteras/internal/core"
	"github.com/GiacomoSorbiWork/Volteras/internal/web/middleware"
)

// Server is the HTTP server for the telemetry API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	logger  *slog.Logger

	// stop ends background work such as rate limiter cleanup.
	stop context.CancelFunc
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
		logger:  logger,
		stop:    stop,
	}
	s.setupMiddleware()
	s.setupRoutes(ctx)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies, s.logger))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.StripSlashes)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}

	// Security hardening
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes. Paths are registered without
// trailing slashes; StripSlashes makes "/vehicle_data/" match too.
func (s *Server) setupRoutes(ctx context.Context) {
	s.router.Get("/healthz", s.handleHealth)

	apiLimit := s.rateLimit(ctx, s.cfg.Rate.RequestsPerMinute)
	uploadLimit := s.rateLimit(ctx, s.cfg.Rate.UploadLimit)

	s.router.Route("/vehicle_data", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiLimit)

			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Get("/export", s.handleExport)
			r.Get("/{id}", s.handleGet)
		})

		// Chunked upload: one request per chunk, so a separate budget
		r.Group(func(r chi.Router) {
			r.Use(uploadLimit)

			r.Post("/upload_chunk", s.handleUploadChunk)
			r.Post("/finalize_upload", s.handleFinalizeUpload)
		})
	})
}

// rateLimit returns a per-IP limiter middleware, or a pass-through when
// rate limiting is disabled.
func (s *Server) rateLimit(ctx context.Context, perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewRateLimiter(ctx, perMinute, time.Minute).Handler
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 lets exports stream
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON and file downloads only; nothing may be loaded or framed
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
