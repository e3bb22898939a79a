// Command gateway runs the security gateway: every inbound request passes
// through rate limiting, size guarding, WAF inspection, bearer
// authentication, and input sanitization before any handler sees it.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/smart-advisor/gateway/internal/audit"
	"github.com/smart-advisor/gateway/internal/cache"
	"github.com/smart-advisor/gateway/internal/config"
	"github.com/smart-advisor/gateway/internal/gateway"
	"github.com/smart-advisor/gateway/internal/identity"
	"github.com/smart-advisor/gateway/internal/server"
	"github.com/smart-advisor/gateway/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("security-gateway", logger)
	if err != nil {
		log.Fatalf("init tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// The cache manager is constructed exactly once and injected wherever a
	// stage needs it; the remote tier is probed here and never retried.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cacheManager := cache.NewManager(ctx, cache.Options{
		RedisURL: cfg.Cache.RedisURL,
		Logger:   logger,
	})
	cancel()

	var verifier *identity.Verifier
	if len(cfg.Auth.ProtectedPaths) > 0 {
		verifier, err = identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.ExpiryLeeway())
		if err != nil {
			log.Fatalf("init verifier: %v", err)
		}
	}

	sink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		log.Fatalf("init audit sink: %v", err)
	}
	defer closeSink()

	pipe, err := gateway.New(gateway.Options{
		Config:   cfg,
		Cache:    cacheManager,
		Verifier: verifier,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	srv := server.New(cfg.Server.Port, logger, pipe, cfg.CORS.AllowedOrigins, func(r chi.Router) {
		// Stand-in for the business layer: echoes the identity the
		// gateway resolved. Real handlers mount here the same way.
		r.Get("/users/me", func(w http.ResponseWriter, req *http.Request) {
			claims := identity.FromContext(req.Context())
			if claims == nil {
				http.Error(w, "no identity", http.StatusInternalServerError)
				return
			}
			server.AddLogField(req.Context(), "user_id", claims.Subject)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"user_id": claims.Subject,
				"role":    claims.Role,
			})
		})
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}
}

func buildSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, func(), error) {
	if cfg.Audit.Backend == "sqlite" {
		sink, err := audit.NewSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { sink.Close() }, nil
	}
	return audit.NewLogSink(logger), func() {}, nil
}
