package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/auth"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/config"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/health"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/logging"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/middleware"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/ratelimit"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/server"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// `server <port>` overrides PORT.
	var portArg string
	if len(os.Args) > 1 {
		portArg = os.Args[1]
	}

	cfg, err := config.ValidateEnv(portArg)
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	users, err := auth.LoadPasswordsFile(cfg.PasswordsFile)
	if err != nil {
		slog.Error("Failed to load passwords file", "path", cfg.PasswordsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded user directory", "path", cfg.PasswordsFile, "users", users.Len())

	// --- Tracing (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), "text-conferencing-server", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					slog.Error("Tracer shutdown failed", "error", err)
				}
			}()
			slog.Info("OTLP tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	limiter, err := ratelimit.NewConnLimiter(cfg.RateLimitConnIP, cfg.RateLimitConnIP != "")
	if err != nil {
		slog.Error("Invalid connect rate limit", "rate", cfg.RateLimitConnIP, "error", err)
		os.Exit(1)
	}

	srv := server.New(users,
		server.WithMaxConnections(cfg.MaxConnections),
		server.WithConnLimiter(limiter),
	)

	// --- Ops HTTP Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(srv, srv.Registry())
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	opsSrv := &http.Server{
		Addr:    ":" + cfg.OpsPort,
		Handler: router,
	}

	// --- Run both servers until a signal arrives ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Chat server starting", "port", cfg.Port)
		return srv.Listen("0.0.0.0:" + cfg.Port)
	})
	g.Go(func() error {
		slog.Info("Ops server starting", "port", cfg.OpsPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error during chat server shutdown", "error", err)
		}
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Ops server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server exiting")
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
