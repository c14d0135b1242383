// Package app wires configuration into a ready stream service. Both the API
// server and the worker build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/therealutkarshpriyadarshi/vision/internal/actuator"
	"github.com/therealutkarshpriyadarshi/vision/internal/cache"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
	"github.com/therealutkarshpriyadarshi/vision/internal/database"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vision/internal/queue"
	"github.com/therealutkarshpriyadarshi/vision/internal/storage"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/internal/tracing"
)

// App holds the wired components
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Tracer   opentracing.Tracer
	Streams  *stream.Service
	Queue    *queue.Queue      // nil when the queue is disabled
	Archiver *storage.Archiver // nil when storage is disabled
	Monitor  *monitoring.Monitor
	Checks   map[string]metrics.HealthCheck

	closers []io.Closer
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// New connects every enabled backend and builds the stream service.
// On error, anything already opened is closed.
func New(cfg *config.Config, log *logging.Logger) (a *App, err error) {
	a = &App{
		Config: cfg,
		Log:    log,
		Checks: make(map[string]metrics.HealthCheck),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tracer, closer, err := tracing.InitTracer(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	a.Tracer = tracer
	a.closers = append(a.closers, closer)

	opts := stream.Options{
		ActuatorTimeout: cfg.Lifecycle.ActuatorTimeout,
		RestartDelay:    cfg.Lifecycle.RestartDelay,
		StatsTTL:        cfg.Cache.StatsTTL,
		Logger:          log,
	}

	store, err := a.openStore(&opts)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c)
		a.Checks["redis"] = c.Ping

		opts.StatsCache = c
		// Local mutex first so goroutines in this process queue up without
		// polling Redis
		opts.Locker = stream.ChainLockers(stream.NewKeyedMutex(), cache.NewRedisLocker(c.Client(), cfg.Cache.LockTTL))
		log.Info("Redis cache and distributed lock enabled")
	}

	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q)
		a.Queue = q
		opts.Publisher = q
		log.Infof("Publishing stream events to exchange %s", cfg.Queue.EventsExchange)
	}

	if cfg.Storage.Enabled {
		s, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.Archiver = storage.NewArchiver(s)
		opts.Archiver = a.Archiver
		log.Infof("Archiving deleted streams to bucket %s", cfg.Storage.BucketName)
	}

	act, err := newActuator(cfg.Lifecycle)
	if err != nil {
		return nil, err
	}

	a.Streams = stream.NewService(store, act, opts)

	var depths monitoring.QueueProvider
	if a.Queue != nil {
		depths = a.Queue
	}
	a.Monitor = monitoring.NewMonitor(a.Streams, depths, log)
	return a, nil
}

func (a *App) openStore(opts *stream.Options) (stream.Store, error) {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		a.Log.Warn("Using in-memory stream registry; data is lost on restart")
		return stream.NewMemoryStore(), nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeFunc(db.Close))
	a.Checks["database"] = db.Health

	if cfg.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}

	opts.Devices = database.NewDeviceRepository(db)
	return database.NewStreamRepository(db, a.Log), nil
}

func newActuator(cfg config.LifecycleConfig) (stream.Actuator, error) {
	switch cfg.Actuator {
	case "simulated":
		return actuator.NewSimulated(cfg.StartLatency, cfg.StopLatency), nil
	case "http":
		return actuator.NewHTTP(cfg.ActuatorURL, cfg.ActuatorSecret, cfg.ActuatorTimeout), nil
	}
	return nil, fmt.Errorf("unknown actuator %q", cfg.Actuator)
}

// Close releases every backend in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.WarnWithErr("Failed to close component", err)
		}
	}
	a.closers = nil
}
