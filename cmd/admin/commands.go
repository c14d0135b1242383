package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/therealutkarshpriyadarshi/vision/internal/app"
	"github.com/therealutkarshpriyadarshi/vision/internal/cache"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
	"github.com/therealutkarshpriyadarshi/vision/internal/database"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/middleware"
	"github.com/therealutkarshpriyadarshi/vision/internal/queue"
	"github.com/therealutkarshpriyadarshi/vision/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/vision/internal/storage"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

const commandTimeout = 30 * time.Second

func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id recorded as the actor")
	email := fs.String("email", "", "optional email claim")
	ttl := fs.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is not configured")
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	token, err := middleware.NewAuthenticator(cfg.Auth.JWTSecret).GenerateToken(*user, *email, *ttl)
	if err != nil {
		return err
	}

	color.Green("Token for %s (expires in %s):", *user, *ttl)
	fmt.Println(token)
	return nil
}

func registerDevice(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("device", flag.ContinueOnError)
	deviceID := fs.String("device-id", "", "external device identifier")
	name := fs.String("name", "", "display name")
	status := fs.String("status", "ONLINE", "device status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deviceID == "" || *name == "" {
		return fmt.Errorf("-device-id and -name are required")
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("devices are only stored by the postgres driver")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	d := &models.Device{DeviceID: *deviceID, Name: *name, Status: *status}
	if err := database.NewDeviceRepository(db).Register(ctx, d); err != nil {
		return err
	}

	color.Green("Registered device %s with id %d", d.DeviceID, d.ID)
	return nil
}

func openQueue(cfg *config.Config) (*queue.Queue, error) {
	if !cfg.Queue.Enabled {
		return nil, fmt.Errorf("queue is disabled")
	}
	return queue.New(cfg.Queue)
}

func dlqDepth(cfg *config.Config, args []string) error {
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	depth, err := q.GetQueueDepth()
	if err != nil {
		return err
	}
	dead, err := q.GetDLQDepth()
	if err != nil {
		return err
	}

	fmt.Printf("telemetry:   %d\n", depth)
	c := color.New(color.FgGreen)
	if dead > 0 {
		c = color.New(color.FgYellow)
	}
	c.Printf("dead letter: %d\n", dead)
	return nil
}

func dlqReplay(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "maximum messages to replay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("-limit must be positive")
	}

	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	n, err := q.ReplayDeadLetters(ctx, *limit)
	if n > 0 {
		color.Green("Replayed %d telemetry messages", n)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		color.Cyan("Dead letter queue is empty")
	}
	return nil
}

func showStatistics(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fresh := fs.Bool("fresh", false, "drop the cached rollup first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if *fresh && cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		err = c.InvalidateStatistics(ctx)
		c.Close()
		if err != nil {
			return err
		}
	}

	a, err := quietApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Streams.Statistics(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func reapOnce(cfg *config.Config, args []string) error {
	a, err := quietApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reaper := scheduler.NewReaper(a.Streams, scheduler.Config{
		InactiveThreshold:  cfg.Reaper.InactiveThreshold,
		TransientThreshold: cfg.Reaper.TransientThreshold,
	}, a.Log)
	reaped, reconciled := reaper.RunOnce(ctx)

	color.Green("Stopped %d inactive streams, reconciled %d stuck streams", reaped, reconciled)
	return nil
}

func pruneArchives(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	streamID := fs.String("stream", "", "stream id whose snapshots are pruned")
	keep := fs.Int("keep", 5, "snapshots to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *streamID == "" {
		return fmt.Errorf("-stream is required")
	}
	if !cfg.Storage.Enabled {
		return fmt.Errorf("storage is disabled")
	}

	s, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	removed, err := storage.NewArchiver(s).PruneArchives(ctx, *streamID, *keep)
	if err != nil {
		return err
	}

	color.Green("Removed %d snapshots of %s", removed, *streamID)
	return nil
}

// quietApp builds the full service with warnings only, so command output
// stays readable
func quietApp(cfg *config.Config) (*app.App, error) {
	log, err := logging.NewLogger(logging.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}
