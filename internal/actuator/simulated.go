// Package actuator holds the media engine adapters behind stream.Actuator.
package actuator

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Simulated stands in for a media engine by sleeping. Starting takes longer
// than stopping, as it does on a real engine.
type Simulated struct {
	StartLatency time.Duration
	StopLatency  time.Duration
}

var _ stream.Actuator = (*Simulated)(nil)

// NewSimulated creates a simulated actuator
func NewSimulated(startLatency, stopLatency time.Duration) *Simulated {
	return &Simulated{StartLatency: startLatency, StopLatency: stopLatency}
}

// Activate waits StartLatency or until ctx is done
func (s *Simulated) Activate(ctx context.Context, st *models.Stream) error {
	return sleep(ctx, s.StartLatency)
}

// Deactivate waits StopLatency or until ctx is done
func (s *Simulated) Deactivate(ctx context.Context, st *models.Stream) error {
	return sleep(ctx, s.StopLatency)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
