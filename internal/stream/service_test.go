package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

func TestCreate(t *testing.T) {
	env := newTestEnv(t, Options{})

	st, err := env.svc.Create(WithActor(context.Background(), "admin"), descriptor("cam-01"))
	require.NoError(t, err)

	assert.NotZero(t, st.ID)
	assert.Equal(t, "cam-01", st.StreamID)
	assert.Equal(t, models.StreamStatusInactive, st.Status)
	assert.Zero(t, st.ViewerCount)
	assert.Zero(t, st.ErrorCount)
	assert.Nil(t, st.LastActiveTime)
	assert.Equal(t, "admin", st.CreatedBy)
	assert.Equal(t, "admin", st.UpdatedBy)
	assert.Equal(t, []string{models.StreamEventCreated}, env.events.types())
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		mutate func(d *models.StreamDescriptor)
	}{
		{"missing stream id", func(d *models.StreamDescriptor) { d.StreamID = "" }},
		{"missing name", func(d *models.StreamDescriptor) { d.Name = "" }},
		{"missing source url", func(d *models.StreamDescriptor) { d.SourceURL = "" }},
		{"unknown type", func(d *models.StreamDescriptor) { d.Type = "MPEG-DASH" }},
		{"unknown protocol", func(d *models.StreamDescriptor) { d.Protocol = "QUIC" }},
		{"unknown quality", func(d *models.StreamDescriptor) { d.Quality = "8K" }},
		{"stream id wider than its column", func(d *models.StreamDescriptor) {
			d.StreamID = strings.Repeat("c", models.MaxStreamIDLength+1)
		}},
		{"name wider than its column", func(d *models.StreamDescriptor) {
			d.Name = strings.Repeat("n", models.MaxNameLength+1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptor("cam-01")
			tt.mutate(d)

			_, err := env.svc.Create(context.Background(), d)
			assert.ErrorIs(t, err, ErrInvalidStream)
		})
	}
}

func TestCreateDuplicateLeavesExistingUnchanged(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	original := env.create(t, "cam-01")
	before := env.get(t, original.ID)

	dup := descriptor("cam-01")
	dup.Name = "Impostor"
	dup.SourceURL = "rtsp://attacker/stream"
	env.clock.Advance(1)

	_, err := env.svc.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateStreamID)
	assert.Equal(t, before, env.get(t, original.ID))

	// Exact, case-sensitive match only
	_, err = env.svc.Create(ctx, descriptor("CAM-01"))
	assert.NoError(t, err)
}

func TestCreateWithDevice(t *testing.T) {
	deviceID := int64(7)

	t.Run("resolved", func(t *testing.T) {
		devices := new(mockDevices)
		devices.On("Resolve", mock.Anything, deviceID).Return(&models.Device{ID: deviceID, DeviceID: "nvr-7"}, nil)
		env := newTestEnv(t, Options{Devices: devices})

		d := descriptor("cam-01")
		d.DeviceID = &deviceID
		st, err := env.svc.Create(context.Background(), d)
		require.NoError(t, err)
		require.NotNil(t, st.DeviceID)
		assert.Equal(t, deviceID, *st.DeviceID)
		devices.AssertExpectations(t)
	})

	t.Run("unknown device", func(t *testing.T) {
		devices := new(mockDevices)
		devices.On("Resolve", mock.Anything, deviceID).Return(nil, ErrDeviceNotFound)
		env := newTestEnv(t, Options{Devices: devices})

		d := descriptor("cam-01")
		d.DeviceID = &deviceID
		_, err := env.svc.Create(context.Background(), d)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		_, err = env.store.GetByStreamID(context.Background(), "cam-01")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no device registry", func(t *testing.T) {
		env := newTestEnv(t, Options{})

		d := descriptor("cam-01")
		d.DeviceID = &deviceID
		_, err := env.svc.Create(context.Background(), d)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("registry unavailable", func(t *testing.T) {
		devices := new(mockDevices)
		devices.On("Resolve", mock.Anything, deviceID).Return(nil, errors.New("connection refused"))
		env := newTestEnv(t, Options{Devices: devices})

		d := descriptor("cam-01")
		d.DeviceID = &deviceID
		_, err := env.svc.Create(context.Background(), d)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDeviceNotFound)
	})
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	st := env.createActive(t, "cam-01")
	require.NoError(t, env.svc.IncrementViewerCount(ctx, st.StreamID))

	d := descriptor("cam-01-renamed")
	d.Name = "Lobby"
	d.Type = models.StreamTypeHLS
	updated, err := env.svc.Update(WithActor(ctx, "editor"), st.ID, d)
	require.NoError(t, err)

	assert.Equal(t, "cam-01-renamed", updated.StreamID)
	assert.Equal(t, "Lobby", updated.Name)
	assert.Equal(t, models.StreamTypeHLS, updated.Type)
	assert.Equal(t, "editor", updated.UpdatedBy)

	// Status and telemetry are owned elsewhere
	assert.Equal(t, models.StreamStatusActive, updated.Status)
	assert.Equal(t, int64(1), updated.ViewerCount)

	_, err = env.svc.GetByStreamID(ctx, "cam-01")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.GetByStreamID(ctx, "cam-01-renamed")
	assert.NoError(t, err)
}

func TestUpdateDuplicateStreamID(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	first := env.create(t, "cam-01")
	second := env.create(t, "cam-02")
	before := env.get(t, second.ID)

	_, err := env.svc.Update(ctx, second.ID, descriptor(first.StreamID))
	assert.ErrorIs(t, err, ErrDuplicateStreamID)
	assert.Equal(t, before, env.get(t, second.ID))

	// Keeping its own stream id is not a collision
	_, err = env.svc.Update(ctx, second.ID, descriptor(second.StreamID))
	assert.NoError(t, err)
}

func TestUpdateNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.Update(context.Background(), 99, descriptor("cam-99"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteActiveStopsFirst(t *testing.T) {
	archiver := new(mockArchiver)
	archiver.On("ArchiveStream", mock.Anything, mock.MatchedBy(func(s *models.Stream) bool {
		return s.StreamID == "cam-01" && s.Status == models.StreamStatusInactive
	})).Return(nil)

	env := newTestEnv(t, Options{Archiver: archiver})
	st := env.createActive(t, "cam-01")

	require.NoError(t, env.svc.Delete(context.Background(), st.ID))

	_, deactivations := env.actuator.calls()
	assert.Equal(t, 1, deactivations)

	_, err := env.svc.Get(context.Background(), st.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	archiver.AssertExpectations(t)
	assert.Contains(t, env.events.types(), models.StreamEventStopped)
	assert.Contains(t, env.events.types(), models.StreamEventDeleted)
}

func TestDeleteAbortsWhenStopFails(t *testing.T) {
	env := newTestEnv(t, Options{})
	st := env.createActive(t, "cam-01")
	env.actuator.setStopErr(errors.New("engine unreachable"))

	err := env.svc.Delete(context.Background(), st.ID)
	assert.ErrorIs(t, err, ErrStopFailed)

	got := env.get(t, st.ID)
	assert.Equal(t, models.StreamStatusError, got.Status)
}

func TestDeleteInactiveSkipsActuator(t *testing.T) {
	archiver := new(mockArchiver)
	archiver.On("ArchiveStream", mock.Anything, mock.Anything).Return(errors.New("bucket unavailable"))

	env := newTestEnv(t, Options{Archiver: archiver})
	st := env.create(t, "cam-01")

	// Archive failure does not block deletion
	require.NoError(t, env.svc.Delete(context.Background(), st.ID))

	_, deactivations := env.actuator.calls()
	assert.Zero(t, deactivations)
	assert.ErrorIs(t, env.svc.Delete(context.Background(), st.ID), ErrNotFound)
}

func TestList(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	lobby := descriptor("cam-lobby")
	lobby.Name = "Lobby entrance"
	_, err := env.svc.Create(ctx, lobby)
	require.NoError(t, err)

	env.clock.Advance(1)
	dock := descriptor("cam-dock")
	dock.Name = "Loading dock"
	dock.Type = models.StreamTypeRTMP
	dockStream, err := env.svc.Create(ctx, dock)
	require.NoError(t, err)

	env.clock.Advance(1)
	env.createActive(t, "cam-roof")

	all, total, err := env.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, "cam-roof", all[0].StreamID)

	active, total, err := env.svc.List(ctx, ListFilter{Statuses: []models.StreamStatus{models.StreamStatusActive}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "cam-roof", active[0].StreamID)

	rtmp, _, err := env.svc.List(ctx, ListFilter{Type: models.StreamTypeRTMP})
	require.NoError(t, err)
	require.Len(t, rtmp, 1)
	assert.Equal(t, dockStream.ID, rtmp[0].ID)

	search, _, err := env.svc.List(ctx, ListFilter{Keyword: "LOBBY"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "cam-lobby", search[0].StreamID)

	page, total, err := env.svc.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "cam-dock", page[0].StreamID)

	_, _, err = env.svc.List(ctx, ListFilter{Statuses: []models.StreamStatus{"BROKEN"}})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	roof := env.createActive(t, "cam-roof")
	hall := env.createActive(t, "cam-hall")
	env.create(t, "cam-idle")
	broken := env.create(t, "cam-broken")

	cpu, mem, bw := 40.0, 512.0, 2.5
	require.NoError(t, env.svc.UpdateMetrics(ctx, roof.StreamID, Metrics{CPUUsage: &cpu, MemoryUsage: &mem, NetworkBandwidth: &bw}))
	cpu2 := 60.0
	require.NoError(t, env.svc.UpdateMetrics(ctx, hall.StreamID, Metrics{CPUUsage: &cpu2}))
	require.NoError(t, env.svc.IncrementViewerCount(ctx, roof.StreamID))
	require.NoError(t, env.svc.IncrementViewerCount(ctx, hall.StreamID))
	require.NoError(t, env.svc.IncrementViewerCount(ctx, hall.StreamID))
	_, err := env.svc.RecordError(ctx, broken.StreamID, "no signal")
	require.NoError(t, err)

	stats, err := env.svc.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalStreams)
	assert.Equal(t, int64(2), stats.ActiveStreams)
	assert.Equal(t, int64(1), stats.ErrorStreams)
	assert.Equal(t, int64(3), stats.TotalViewers)
	assert.Equal(t, int64(2), stats.StatusCounts[models.StreamStatusActive])
	assert.Equal(t, int64(1), stats.StatusCounts[models.StreamStatusInactive])
	assert.Equal(t, int64(4), stats.TypeCounts[models.StreamTypeRTSP])
	require.NotNil(t, stats.AverageCPUUsage)
	assert.InDelta(t, 50.0, *stats.AverageCPUUsage, 0.001)
	require.NotNil(t, stats.AverageMemoryUsage)
	assert.InDelta(t, 512.0, *stats.AverageMemoryUsage, 0.001)
	require.NotNil(t, stats.TotalNetworkBandwidth)
	assert.InDelta(t, 2.5, *stats.TotalNetworkBandwidth, 0.001)
}

func TestStatisticsCached(t *testing.T) {
	cache := &memoryStatsCache{}
	env := newTestEnv(t, Options{StatsCache: cache})
	ctx := context.Background()
	env.create(t, "cam-01")

	first, err := env.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.TotalStreams)
	assert.Equal(t, 1, cache.sets)

	env.create(t, "cam-02")

	second, err := env.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.TotalStreams, "served from cache")
	assert.Equal(t, 1, cache.sets)
}

func TestBatchUpdateStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	a := env.create(t, "cam-a")
	b := env.create(t, "cam-b")

	results, err := env.svc.BatchUpdateStatus(context.Background(), []int64{a.ID, 999, b.ID}, models.StreamStatusMaintenance)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].OK)

	assert.Equal(t, models.StreamStatusMaintenance, env.get(t, a.ID).Status)
	assert.Equal(t, models.StreamStatusMaintenance, env.get(t, b.ID).Status)

	_, err = env.svc.BatchUpdateStatus(context.Background(), []int64{a.ID}, "PAUSED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestBatchDelete(t *testing.T) {
	env := newTestEnv(t, Options{})
	active := env.createActive(t, "cam-a")
	idle := env.create(t, "cam-b")

	results := env.svc.BatchDelete(context.Background(), []int64{active.ID, idle.ID, 999})
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)
	assert.False(t, results[2].OK)

	_, deactivations := env.actuator.calls()
	assert.Equal(t, 1, deactivations)

	_, total, err := env.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
