package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

type fakeSweeper struct {
	mu           sync.Mutex
	cleanups     []time.Duration
	reconciles   []time.Duration
	cleanupErr   error
	reconcileErr error
	reaped       []*models.Stream
	fixed        []*models.Stream
}

func (f *fakeSweeper) CleanupInactive(ctx context.Context, threshold time.Duration) ([]*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, threshold)
	return f.reaped, f.cleanupErr
}

func (f *fakeSweeper) ReconcileTransient(ctx context.Context, olderThan time.Duration) ([]*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles = append(f.reconciles, olderThan)
	return f.fixed, f.reconcileErr
}

func (f *fakeSweeper) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleanups)
}

func TestRunOnce(t *testing.T) {
	sweeper := &fakeSweeper{
		reaped: []*models.Stream{{StreamID: "a"}, {StreamID: "b"}},
		fixed:  []*models.Stream{{StreamID: "c"}},
	}
	r := NewReaper(sweeper, Config{
		Interval:           time.Minute,
		InactiveThreshold:  30 * time.Minute,
		TransientThreshold: 5 * time.Minute,
	}, logging.NewNopLogger())

	reaped, reconciled := r.RunOnce(context.Background())
	assert.Equal(t, 2, reaped)
	assert.Equal(t, 1, reconciled)
	assert.Equal(t, []time.Duration{30 * time.Minute}, sweeper.cleanups)
	assert.Equal(t, []time.Duration{5 * time.Minute}, sweeper.reconciles)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	sweeper := &fakeSweeper{
		cleanupErr: errors.New("database unavailable"),
		fixed:      []*models.Stream{{StreamID: "c"}},
	}
	r := NewReaper(sweeper, Config{
		Interval:           time.Minute,
		InactiveThreshold:  30 * time.Minute,
		TransientThreshold: 5 * time.Minute,
	}, logging.NewNopLogger())

	reaped, reconciled := r.RunOnce(context.Background())
	assert.Equal(t, 0, reaped)
	assert.Equal(t, 1, reconciled)
	assert.Len(t, sweeper.reconciles, 1)
}

func TestRunOnceSkipsDisabledPasses(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, Config{Interval: time.Minute, InactiveThreshold: time.Minute}, logging.NewNopLogger())

	r.RunOnce(context.Background())
	assert.Len(t, sweeper.cleanups, 1)
	assert.Empty(t, sweeper.reconciles)
}

func TestReaperStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, Config{
		Interval:          5 * time.Millisecond,
		InactiveThreshold: time.Minute,
	}, logging.NewNopLogger())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start should fail")

	assert.Eventually(t, func() bool { return sweeper.sweeps() >= 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	after := sweeper.sweeps()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, sweeper.sweeps(), "no sweeps after stop")

	// Stop is idempotent
	r.Stop()
}

func TestReaperStopsWithContext(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := NewReaper(sweeper, Config{Interval: 5 * time.Millisecond, InactiveThreshold: time.Minute}, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("reaper loop did not exit after context cancel")
	}
	r.Stop()
}

func TestReaperInvalidInterval(t *testing.T) {
	r := NewReaper(&fakeSweeper{}, Config{}, logging.NewNopLogger())
	assert.Error(t, r.Start(context.Background()))
}
