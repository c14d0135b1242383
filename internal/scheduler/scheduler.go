package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Sweeper is the part of the stream service the reaper drives
type Sweeper interface {
	CleanupInactive(ctx context.Context, threshold time.Duration) ([]*models.Stream, error)
	ReconcileTransient(ctx context.Context, olderThan time.Duration) ([]*models.Stream, error)
}

// Config controls the reaper cadence and thresholds
type Config struct {
	Interval           time.Duration
	InactiveThreshold  time.Duration
	TransientThreshold time.Duration
}

// Reaper periodically stops idle streams and reconciles stuck transitions
type Reaper struct {
	sweeper Sweeper
	cfg     Config
	log     *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReaper creates a reaper; call Start to begin ticking
func NewReaper(sweeper Sweeper, cfg Config, log *logging.Logger) *Reaper {
	return &Reaper{
		sweeper: sweeper,
		cfg:     cfg,
		log:     log.WithComponent("reaper"),
	}
}

// Start begins the reaper loop. It stops when ctx is done or Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", r.cfg.Interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reaper already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)

	r.log.WithFields(map[string]interface{}{
		"interval":            r.cfg.Interval.String(),
		"inactive_threshold":  r.cfg.InactiveThreshold.String(),
		"transient_threshold": r.cfg.TransientThreshold.String(),
	}).Info("Reaper started")
	return nil
}

// Stop stops the loop and waits for an in-flight sweep to finish
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.log.Info("Reaper stopped")
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many streams each pass
// touched. Pass failures are logged; one failing pass does not skip the other.
func (r *Reaper) RunOnce(ctx context.Context) (reaped, reconciled int) {
	began := time.Now()

	if r.cfg.InactiveThreshold > 0 {
		streams, err := r.sweeper.CleanupInactive(ctx, r.cfg.InactiveThreshold)
		if err != nil {
			metrics.RecordError("reaper", "cleanup")
			r.log.ErrorWithErr("Inactivity cleanup failed", err)
		}
		reaped = len(streams)
	}

	if r.cfg.TransientThreshold > 0 {
		streams, err := r.sweeper.ReconcileTransient(ctx, r.cfg.TransientThreshold)
		if err != nil {
			metrics.RecordError("reaper", "reconcile")
			r.log.ErrorWithErr("Transient reconciliation failed", err)
		}
		reconciled = len(streams)
	}

	metrics.RecordReaperRun(reaped, reconciled, time.Since(began).Seconds())
	if reaped > 0 || reconciled > 0 {
		r.log.Infof("Reaper sweep: %d auto-stopped, %d reconciled", reaped, reconciled)
	}
	return reaped, reconciled
}
