// Package web provides the HTTP API for starting conversion runs and
// fetching their documents.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
	"github.com/JonMunkholm/dpmconv/internal/store"
	weblog "github.com/JonMunkholm/dpmconv/internal/web/middleware"
)

// RowStore is the part of a store the API reads from.
type RowStore interface {
	Rows(ctx context.Context, section string) ([]store.StoredRow, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the conversion service.
type Server struct {
	cfg     config.ServerConfig
	service *core.Service
	store   RowStore // nil when no database is configured
	log     *slog.Logger
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance. rows may be nil.
func NewServer(cfg config.ServerConfig, service *core.Service, rows RowStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		service: service,
		store:   rows,
		log:     log.With("component", "web"),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(weblog.Logger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "application/json"))
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			}

			r.Get("/kinds", s.handleKinds)

			r.Post("/runs", s.handleStartRun)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)
			r.Get("/runs/{runID}/metadata", s.handleRunMetadata)
			r.Get("/runs/{runID}/graph", s.handleRunGraph)
			r.Get("/runs/{runID}/graph/{link}", s.handleGraphLink)

			r.Get("/sections/{section}/rows", s.handleStoredRows)
		})

		// Documents can be large; they stream without a request timeout.
		r.Get("/runs/{runID}/document", s.handleDocument)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode error", "error", err)
	}
}
