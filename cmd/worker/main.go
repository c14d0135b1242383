package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/therealutkarshpriyadarshi/vision/internal/app"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/scheduler"
	"golang.org/x/sync/errgroup"
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
	boot = boot.WithComponent("worker")

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
	log = log.WithComponent("worker")

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if a.Queue == nil && !cfg.Reaper.Enabled {
		log.Fatal("Nothing to do: queue and reaper are both disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Telemetry from the media engines. A closed delivery channel ends the
	// group so the worker exits and its supervisor restarts it.
	if a.Queue != nil {
		g.Go(func() error {
			return a.Queue.ConsumeTelemetry(ctx, a.Streams.ApplyTelemetry, log)
		})
	}

	// Inactivity reaper
	if cfg.Reaper.Enabled {
		reaper := scheduler.NewReaper(a.Streams, scheduler.Config{
			Interval:           cfg.Reaper.Interval,
			InactiveThreshold:  cfg.Reaper.InactiveThreshold,
			TransientThreshold: cfg.Reaper.TransientThreshold,
		}, log)
		if err := reaper.Start(ctx); err != nil {
			log.Fatalf("Failed to start reaper: %v", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			reaper.Stop()
			return nil
		})
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.SampleInterval > 0 {
			a.Monitor.Start(ctx, cfg.Metrics.SampleInterval)
		}

		metricsServer := metrics.NewServer(cfg.Metrics.Port, log, a.Checks)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	log.Info("Worker started")
	<-ctx.Done()
	log.Info("Shutting down worker gracefully")

	if err := g.Wait(); err != nil {
		log.ErrorWithErr("Worker stopped with error", err)
		a.Close()
		os.Exit(1)
	}
	log.Info("Worker stopped")
}
