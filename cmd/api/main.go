package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/therealutkarshpriyadarshi/vision/internal/app"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/middleware"
)

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	// JSON logger for failures before the configured one exists
	boot, err := logging.NewDefaultLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	boot = boot.WithComponent("api")

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		boot.Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		boot.Fatalf("Failed to create logger: %v", err)
	}
	log = log.WithComponent("api")

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Streams left STARTING/STOPPING by a crashed process
	if cfg.Reaper.TransientThreshold > cfg.Lifecycle.ActuatorTimeout {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		fixed, err := a.Streams.ReconcileTransient(ctx, cfg.Reaper.TransientThreshold)
		cancel()
		if err != nil {
			log.WarnWithErr("Startup reconciliation failed", err)
		} else if len(fixed) > 0 {
			log.Infof("Reconciled %d streams stuck in a transient state", len(fixed))
		}
	}

	api := &API{
		streams:  a.Streams,
		archiver: a.Archiver,
		log:      log,
		checks:   a.Checks,
		monitor:  a.Monitor,
		tracer:   a.Tracer,
	}
	if cfg.Auth.Enabled {
		api.auth = middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.RateLimit.Enabled {
		api.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go api.limiter.Cleanup(ctx, 10*time.Minute)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, log, a.Checks)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      setupRouter(api),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("Server stopped")
}
