// Package server assembles the HTTP surface: the chi router, ambient
// middleware (request IDs, logging, recovery, tracing), the security
// pipeline, and the operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/smart-advisor/gateway/internal/gateway"
)

type Server struct {
	Router *chi.Mux
	port   int
	logger *slog.Logger
	http   *http.Server
}

// New builds the server. Routes registered through the mount callback pass
// through the security pipeline; /health and /metrics sit outside it so
// probes and scrapes are never throttled or audited.
func New(port int, logger *slog.Logger, pipe *gateway.Pipeline, allowedOrigins []string, mount func(chi.Router)) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "security-gateway")
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"api-gateway"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The guarded surface: origin policy wraps the security chain, the
	// chain wraps business routes.
	r.Group(func(g chi.Router) {
		g.Use(gateway.CORS(allowedOrigins))
		g.Use(TimeoutMiddleware(30 * time.Second))
		g.Use(pipe.Wrap)
		if mount != nil {
			mount(g)
		}
	})

	return &Server{
		Router: r,
		port:   port,
		logger: logger,
	}
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.port))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
