package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

func TestMapWriteError(t *testing.T) {
	other := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, stream.ErrDuplicateStreamID},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), stream.ErrDuplicateStreamID},
		{"no rows", pgx.ErrNoRows, stream.ErrNotFound},
		{"check violation passes through", &pgconn.PgError{Code: "23514"}, nil},
		{"other error passes through", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWriteError(tt.err)
			if tt.want == nil {
				assert.Equal(t, tt.err, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestTransitionQuery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * time.Minute)

	query, args := transitionQuery(7, stream.Transition{
		From:             []models.StreamStatus{models.StreamStatusActive},
		LastActiveBefore: &cutoff,
		To:               models.StreamStatusInactive,
		ResetViewers:     true,
		Error:            &stream.ErrorMark{Message: "inactive timeout", At: now},
		Actor:            "system:reaper",
	}, now)

	assert.Contains(t, query, "updated_at = $2")
	assert.Contains(t, query, "status = $3, status_changed_at = $2")
	assert.Contains(t, query, "viewer_count = 0")
	assert.Contains(t, query, "last_error = $4")
	assert.Contains(t, query, "error_count = error_count + 1")
	assert.Contains(t, query, "updated_by = $6")
	assert.Contains(t, query, "WHERE id = $1 AND status = ANY($7::text[]) AND last_active_time < $8")
	assert.Contains(t, query, "RETURNING")

	require.Len(t, args, 8)
	assert.Equal(t, int64(7), args[0])
	assert.Equal(t, "INACTIVE", args[2])
	assert.Equal(t, []string{"ACTIVE"}, args[6])
	assert.Equal(t, cutoff, args[7])
}

func TestTransitionQueryStatusAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-5 * time.Minute)

	query, args := transitionQuery(4, stream.Transition{
		From:         []models.StreamStatus{models.StreamStatusStarting},
		StatusBefore: &cutoff,
		To:           models.StreamStatusError,
	}, now)
	assert.Contains(t, query, "WHERE id = $1 AND status = ANY($4::text[]) AND status_changed_at < $5")
	require.Len(t, args, 5)
	assert.Equal(t, cutoff, args[4])

	// Error bookkeeping alone leaves the status age untouched
	query, _ = transitionQuery(4, stream.Transition{ClearError: true}, now)
	assert.NotContains(t, query, "status_changed_at")
}

func TestTransitionQueryErrorColumns(t *testing.T) {
	now := time.Now()
	mark := &stream.ErrorMark{Message: "boom", At: now}

	t.Run("clear only", func(t *testing.T) {
		query, _ := transitionQuery(1, stream.Transition{ClearError: true}, now)
		assert.Contains(t, query, "last_error = NULL")
		assert.Contains(t, query, "error_count = 0")
	})

	t.Run("record only", func(t *testing.T) {
		query, _ := transitionQuery(1, stream.Transition{Error: mark}, now)
		assert.Contains(t, query, "error_count = error_count + 1")
		assert.NotContains(t, query, "last_error = NULL")
	})

	t.Run("clear then record assigns each column once", func(t *testing.T) {
		query, _ := transitionQuery(1, stream.Transition{ClearError: true, Error: mark}, now)
		assert.Contains(t, query, "error_count = 1")
		assert.NotContains(t, query, "error_count = 0")
		assert.NotContains(t, query, "last_error = NULL")
	})
}

func TestListWhere(t *testing.T) {
	where, args := listWhere(stream.ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	deviceID := int64(3)
	where, args = listWhere(stream.ListFilter{
		Statuses: []models.StreamStatus{models.StreamStatusActive, models.StreamStatusError},
		Type:     models.StreamTypeRTSP,
		DeviceID: &deviceID,
		Keyword:  "50%_off",
	})

	assert.Equal(t, " WHERE status = ANY($1::text[]) AND type = $2 AND device_id = $3 AND (name ILIKE $4 OR description ILIKE $4)", where)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"ACTIVE", "ERROR"}, args[0])
	assert.Equal(t, `%50\%\_off%`, args[3])

	cutoff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	where, args = listWhere(stream.ListFilter{StatusBefore: &cutoff})
	assert.Equal(t, " WHERE status_changed_at < $1", where)
	assert.Equal(t, []interface{}{cutoff}, args)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `lobby`, escapeLike("lobby"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
	assert.Equal(t, `100\%`, escapeLike("100%"))
}

// testDB connects to VISION_TEST_DATABASE_URL and applies the schema
func testDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("VISION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test - VISION_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, url, 4, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE streams, devices RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

func newStream(streamID string) *models.Stream {
	return &models.Stream{
		StreamID:  streamID,
		Name:      "Camera " + streamID,
		Type:      models.StreamTypeRTSP,
		Status:    models.StreamStatusInactive,
		SourceURL: "rtsp://10.0.0.1/" + streamID,
		CreatedBy: "tester",
		UpdatedBy: "tester",
	}
}

func TestStreamRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewStreamRepository(db, logging.NewNopLogger())
	ctx := context.Background()

	s := newStream("cam-1")
	require.NoError(t, repo.Create(ctx, s))
	assert.NotZero(t, s.ID)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", got.StreamID)
	assert.Equal(t, models.StreamStatusInactive, got.Status)
	assert.Zero(t, got.ViewerCount)

	byStreamID, err := repo.GetByStreamID(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byStreamID.ID)

	err = repo.Create(ctx, newStream("cam-1"))
	assert.ErrorIs(t, err, stream.ErrDuplicateStreamID)

	_, err = repo.Get(ctx, s.ID+100)
	assert.ErrorIs(t, err, stream.ErrNotFound)
}

func TestStreamRepository_GuardedTransition(t *testing.T) {
	db := testDB(t)
	repo := NewStreamRepository(db, logging.NewNopLogger())
	ctx := context.Background()

	s := newStream("cam-2")
	require.NoError(t, repo.Create(ctx, s))

	started, err := repo.Transition(ctx, s.ID, stream.Transition{
		From: []models.StreamStatus{models.StreamStatusInactive},
		To:   models.StreamStatusStarting,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusStarting, started.Status)

	_, err = repo.Transition(ctx, s.ID, stream.Transition{
		From: []models.StreamStatus{models.StreamStatusInactive},
		To:   models.StreamStatusStarting,
	})
	assert.ErrorIs(t, err, stream.ErrStatusConflict)

	_, err = repo.Transition(ctx, s.ID+100, stream.Transition{To: models.StreamStatusError})
	assert.ErrorIs(t, err, stream.ErrNotFound)

	now := time.Now().UTC()
	errored, err := repo.Transition(ctx, s.ID, stream.Transition{
		To:    models.StreamStatusError,
		Error: &stream.ErrorMark{Message: "engine refused", At: now},
	})
	require.NoError(t, err)
	require.NotNil(t, errored.LastError)
	assert.Equal(t, "engine refused", *errored.LastError)
	assert.Equal(t, 1, errored.ErrorCount)
}

func TestStreamRepository_Telemetry(t *testing.T) {
	db := testDB(t)
	repo := NewStreamRepository(db, logging.NewNopLogger())
	ctx := context.Background()

	s := newStream("cam-3")
	require.NoError(t, repo.Create(ctx, s))

	now := time.Now().UTC()
	require.NoError(t, repo.AdjustViewers(ctx, "cam-3", 1, &now))
	require.NoError(t, repo.AdjustViewers(ctx, "cam-3", -1, nil))
	require.NoError(t, repo.AdjustViewers(ctx, "cam-3", -1, nil))

	got, err := repo.GetByStreamID(ctx, "cam-3")
	require.NoError(t, err)
	assert.Zero(t, got.ViewerCount)
	require.NotNil(t, got.LastActiveTime)

	cpu := 12.5
	require.NoError(t, repo.UpdateMetrics(ctx, "cam-3", stream.Metrics{CPUUsage: &cpu}, now))
	got, err = repo.GetByStreamID(ctx, "cam-3")
	require.NoError(t, err)
	require.NotNil(t, got.CPUUsage)
	assert.Equal(t, 12.5, *got.CPUUsage)
	assert.Nil(t, got.MemoryUsage)
	assert.True(t, s.StatusChangedAt.Equal(got.StatusChangedAt), "telemetry must not move status_changed_at")

	assert.ErrorIs(t, repo.AdjustViewers(ctx, "missing", 1, nil), stream.ErrNotFound)
}

func TestStreamRepository_ListAndStatistics(t *testing.T) {
	db := testDB(t)
	repo := NewStreamRepository(db, logging.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newStream(fmt.Sprintf("list-%d", i))))
	}

	page, total, err := repo.List(ctx, stream.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)

	stats, err := repo.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalStreams)
	assert.Equal(t, int64(3), stats.StatusCounts[models.StreamStatusInactive])
	assert.Equal(t, int64(3), stats.TypeCounts[models.StreamTypeRTSP])
	assert.Nil(t, stats.AverageCPUUsage)
}

func TestDeviceRepository_Resolve(t *testing.T) {
	db := testDB(t)
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	d := &models.Device{DeviceID: "dev-1", Name: "Lobby", Status: "ONLINE"}
	require.NoError(t, repo.Register(ctx, d))

	got, err := repo.Resolve(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", got.Name)

	_, err = repo.Resolve(ctx, d.ID+100)
	assert.ErrorIs(t, err, stream.ErrDeviceNotFound)
}
