package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

type fakeStats struct {
	stats *models.StreamStatistics
	err   error
}

func (f *fakeStats) Statistics(ctx context.Context) (*models.StreamStatistics, error) {
	return f.stats, f.err
}

type fakeQueue struct {
	depth, dlq int
	err        error
}

func (f *fakeQueue) GetQueueDepth() (int, error) { return f.depth, f.err }
func (f *fakeQueue) GetDLQDepth() (int, error)   { return f.dlq, f.err }

func statistics(total, active, errored int64) *models.StreamStatistics {
	return &models.StreamStatistics{
		StatusCounts: map[models.StreamStatus]int64{
			models.StreamStatusActive: active,
			models.StreamStatusError:  errored,
		},
		TotalStreams:  total,
		ActiveStreams: active,
		ErrorStreams:  errored,
	}
}

func TestCollectHealthy(t *testing.T) {
	m := NewMonitor(&fakeStats{stats: statistics(10, 8, 0)}, &fakeQueue{depth: 3}, logging.NewNopLogger())

	snap, err := m.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HealthHealthy, snap.Health)
	assert.Empty(t, snap.Alerts)
	assert.EqualValues(t, 10, snap.TotalStreams)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, snap, m.Snapshot())
}

func TestSnapshotBeforeCollect(t *testing.T) {
	m := NewMonitor(&fakeStats{}, nil, logging.NewNopLogger())
	assert.Equal(t, HealthUnknown, m.Snapshot().Health)
}

func TestCollectWithoutQueue(t *testing.T) {
	m := NewMonitor(&fakeStats{stats: statistics(1, 1, 0)}, nil, logging.NewNopLogger())

	snap, err := m.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.QueueDepth)
	assert.Equal(t, HealthHealthy, snap.Health)
}

func TestCollectErrors(t *testing.T) {
	m := NewMonitor(&fakeStats{err: errors.New("db down")}, nil, logging.NewNopLogger())
	_, err := m.Collect(context.Background())
	assert.Error(t, err)

	m = NewMonitor(&fakeStats{stats: statistics(1, 1, 0)}, &fakeQueue{err: errors.New("channel closed")}, logging.NewNopLogger())
	_, err = m.Collect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, HealthUnknown, m.Snapshot().Health)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		snap   Snapshot
		health string
		alerts int
	}{
		{"quiet", Snapshot{TotalStreams: 5}, HealthHealthy, 0},
		{"empty registry", Snapshot{}, HealthHealthy, 0},
		{"some dead letters", Snapshot{DLQDepth: 4}, HealthWarning, 1},
		{"dlq overflow", Snapshot{DLQDepth: 150}, HealthCritical, 1},
		{"backlog", Snapshot{QueueDepth: 2000}, HealthWarning, 1},
		{"error ratio warning", Snapshot{TotalStreams: 10, ErrorStreams: 2}, HealthWarning, 1},
		{"error ratio critical", Snapshot{TotalStreams: 10, ErrorStreams: 6}, HealthCritical, 1},
		{"stuck transitions", Snapshot{TotalStreams: 3, StuckStreams: 1}, HealthWarning, 1},
		{"critical wins", Snapshot{DLQDepth: 200, QueueDepth: 5000, StuckStreams: 2}, HealthCritical, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health, alerts := evaluate(&tt.snap, DefaultThresholds())
			assert.Equal(t, tt.health, health)
			assert.Len(t, alerts, tt.alerts)
		})
	}
}

func TestSetThresholds(t *testing.T) {
	m := NewMonitor(&fakeStats{stats: statistics(10, 8, 2)}, nil, logging.NewNopLogger())
	m.SetThresholds(Thresholds{ErrorRatioCritical: 0.2})

	snap, err := m.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, snap.Health)
}
