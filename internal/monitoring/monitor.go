package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Health levels
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// Snapshot is the latest sample of registry and queue health
type Snapshot struct {
	TotalStreams  int64     `json:"total_streams"`
	ActiveStreams int64     `json:"active_streams"`
	ErrorStreams  int64     `json:"error_streams"`
	StuckStreams  int64     `json:"stuck_streams"` // STARTING or STOPPING
	TotalViewers  int64     `json:"total_viewers"`
	QueueDepth    int       `json:"queue_depth"`
	DLQDepth      int       `json:"dlq_depth"`
	Health        string    `json:"health"`
	Alerts        []string  `json:"alerts,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
}

// StatsSource provides the registry rollup
type StatsSource interface {
	Statistics(ctx context.Context) (*models.StreamStatistics, error)
}

// QueueProvider defines the interface for queue metrics
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Thresholds decide when a snapshot is degraded
type Thresholds struct {
	QueueWarning       int
	DLQWarning         int
	DLQCritical        int
	ErrorRatioWarning  float64
	ErrorRatioCritical float64
}

// DefaultThresholds returns the thresholds used by NewMonitor
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueWarning:       1000,
		DLQWarning:         1,
		DLQCritical:        100,
		ErrorRatioWarning:  0.1,
		ErrorRatioCritical: 0.5,
	}
}

// Monitor periodically samples the registry and the telemetry queue
type Monitor struct {
	stats      StatsSource
	queue      QueueProvider // optional
	thresholds Thresholds
	log        *logging.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewMonitor creates a monitor. queue may be nil when the broker is disabled.
func NewMonitor(stats StatsSource, queue QueueProvider, log *logging.Logger) *Monitor {
	return &Monitor{
		stats:      stats,
		queue:      queue,
		thresholds: DefaultThresholds(),
		log:        log.WithComponent("monitor"),
		snapshot:   &Snapshot{Health: HealthUnknown},
	}
}

// SetThresholds replaces the alerting thresholds
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Start collects a snapshot every interval until ctx is done
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Collect(ctx); err != nil {
					m.log.WarnWithErr("Failed to collect health snapshot", err)
				}
			}
		}
	}()
}

// Collect takes a fresh sample, stores it and returns a copy
func (m *Monitor) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := m.stats.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	snap := &Snapshot{
		TotalStreams:  stats.TotalStreams,
		ActiveStreams: stats.ActiveStreams,
		ErrorStreams:  stats.ErrorStreams,
		StuckStreams:  stats.StatusCounts[models.StreamStatusStarting] + stats.StatusCounts[models.StreamStatusStopping],
		TotalViewers:  stats.TotalViewers,
		LastUpdated:   time.Now(),
	}

	if m.queue != nil {
		if snap.QueueDepth, err = m.queue.GetQueueDepth(); err != nil {
			return nil, fmt.Errorf("failed to get queue depth: %w", err)
		}
		if snap.DLQDepth, err = m.queue.GetDLQDepth(); err != nil {
			return nil, fmt.Errorf("failed to get DLQ depth: %w", err)
		}
		metrics.UpdateQueueDepth("telemetry", snap.QueueDepth)
		metrics.UpdateQueueDepth("dead_letter", snap.DLQDepth)
	}

	m.mu.Lock()
	snap.Health, snap.Alerts = evaluate(snap, m.thresholds)
	m.snapshot = snap
	m.mu.Unlock()

	if snap.Health != HealthHealthy {
		m.log.WithField("health", snap.Health).Warnf("System degraded: %v", snap.Alerts)
	}

	out := *snap
	return &out, nil
}

// Snapshot returns the last collected sample
func (m *Monitor) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Create a copy to avoid race conditions
	snap := *m.snapshot
	return &snap
}

func evaluate(s *Snapshot, t Thresholds) (string, []string) {
	health := HealthHealthy
	var alerts []string
	raise := func(level, alert string) {
		alerts = append(alerts, alert)
		if level == HealthCritical || health == HealthHealthy {
			health = level
		}
	}

	switch {
	case t.DLQCritical > 0 && s.DLQDepth >= t.DLQCritical:
		raise(HealthCritical, fmt.Sprintf("High DLQ depth: %d messages", s.DLQDepth))
	case t.DLQWarning > 0 && s.DLQDepth >= t.DLQWarning:
		raise(HealthWarning, fmt.Sprintf("Dead-lettered telemetry: %d messages", s.DLQDepth))
	}

	if t.QueueWarning > 0 && s.QueueDepth >= t.QueueWarning {
		raise(HealthWarning, fmt.Sprintf("High queue depth: %d messages pending", s.QueueDepth))
	}

	if s.TotalStreams > 0 {
		ratio := float64(s.ErrorStreams) / float64(s.TotalStreams)
		switch {
		case t.ErrorRatioCritical > 0 && ratio >= t.ErrorRatioCritical:
			raise(HealthCritical, fmt.Sprintf("Streams in error: %d/%d", s.ErrorStreams, s.TotalStreams))
		case t.ErrorRatioWarning > 0 && ratio >= t.ErrorRatioWarning:
			raise(HealthWarning, fmt.Sprintf("Streams in error: %d/%d", s.ErrorStreams, s.TotalStreams))
		}
	}

	if s.StuckStreams > 0 {
		raise(HealthWarning, fmt.Sprintf("Streams in a transient state: %d", s.StuckStreams))
	}

	return health, alerts
}
