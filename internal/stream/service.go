package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Actuator starts and stops stream transport on the media engine.
// Calls must honor ctx; the service bounds each call with a timeout.
type Actuator interface {
	Activate(ctx context.Context, s *models.Stream) error
	Deactivate(ctx context.Context, s *models.Stream) error
}

// DeviceResolver validates the optional device association of a stream.
// Resolve returns ErrDeviceNotFound when no device has the given id.
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceID int64) (*models.Device, error)
}

// EventPublisher receives an event after every committed change
type EventPublisher interface {
	PublishStreamEvent(ctx context.Context, event *models.StreamEvent) error
}

// StatsCache caches the statistics rollup. A miss is (nil, nil).
type StatsCache interface {
	GetStatistics(ctx context.Context) (*models.StreamStatistics, error)
	SetStatistics(ctx context.Context, stats *models.StreamStatistics, ttl time.Duration) error
}

// Archiver stores the final snapshot of a stream before it is deleted
type Archiver interface {
	ArchiveStream(ctx context.Context, s *models.Stream) error
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	ActuatorTimeout time.Duration
	RestartDelay    time.Duration
	Locker          Locker
	Devices         DeviceResolver
	Publisher       EventPublisher
	StatsCache      StatsCache
	StatsTTL        time.Duration
	Archiver        Archiver
	Logger          *logging.Logger
}

// DefaultActuatorTimeout bounds a single media engine call
const DefaultActuatorTimeout = 10 * time.Second

// Service is the stream lifecycle and health-monitoring engine
type Service struct {
	store    Store
	actuator Actuator
	locker   Locker

	devices   DeviceResolver
	publisher EventPublisher
	cache     StatsCache
	archiver  Archiver
	log       *logging.Logger

	actuatorTimeout time.Duration
	restartDelay    time.Duration
	statsTTL        time.Duration

	now func() time.Time
}

// NewService creates a stream service on top of a store and an actuator
func NewService(store Store, actuator Actuator, opts Options) *Service {
	s := &Service{
		store:           store,
		actuator:        actuator,
		locker:          opts.Locker,
		devices:         opts.Devices,
		publisher:       opts.Publisher,
		cache:           opts.StatsCache,
		archiver:        opts.Archiver,
		log:             opts.Logger,
		actuatorTimeout: opts.ActuatorTimeout,
		restartDelay:    opts.RestartDelay,
		statsTTL:        opts.StatsTTL,
		now:             time.Now,
	}

	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.log == nil {
		s.log = logging.NewNopLogger()
	}
	if s.actuatorTimeout <= 0 {
		s.actuatorTimeout = DefaultActuatorTimeout
	}
	if s.statsTTL <= 0 {
		s.statsTTL = 30 * time.Second
	}
	s.log = s.log.WithComponent("stream")

	return s
}

// Create registers a new stream. Status is always INACTIVE and every counter
// starts at zero.
func (s *Service) Create(ctx context.Context, d *models.StreamDescriptor) (*models.Stream, error) {
	if err := d.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}
	if err := s.resolveDevice(ctx, d.DeviceID); err != nil {
		return nil, err
	}

	actor := ActorFrom(ctx)
	st := &models.Stream{
		Status:    models.StreamStatusInactive,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	d.Apply(st)

	if err := s.store.Create(ctx, st); err != nil {
		if errors.Is(err, ErrDuplicateStreamID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStreamID, d.StreamID)
		}
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	s.emit(ctx, models.StreamEventCreated, st, "", nil)
	return st, nil
}

// Update replaces the descriptive fields of a stream. Status and telemetry are
// left alone.
func (s *Service) Update(ctx context.Context, id int64, d *models.StreamDescriptor) (*models.Stream, error) {
	if err := d.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}
	if err := s.resolveDevice(ctx, d.DeviceID); err != nil {
		return nil, err
	}

	st, err := s.store.UpdateDescriptor(ctx, id, d, ActorFrom(ctx))
	if err != nil {
		if errors.Is(err, ErrDuplicateStreamID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStreamID, d.StreamID)
		}
		return nil, err
	}

	s.emit(ctx, models.StreamEventUpdated, st, "", nil)
	return st, nil
}

// Delete removes a stream, stopping it first when it is ACTIVE. A failed stop
// aborts the delete.
func (s *Service) Delete(ctx context.Context, id int64) error {
	span, ctx := tracing.StartStreamSpan(ctx, "stream.delete", id)
	defer tracing.FinishSpan(span)

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	err = s.delete(ctx, id)
	tracing.LogError(span, err)
	return err
}

func (s *Service) delete(ctx context.Context, id int64) error {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if st.IsActive() {
		stopped, err := s.stop(ctx, id)
		if err != nil {
			return fmt.Errorf("stop before delete: %w", err)
		}
		st = stopped
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveStream(ctx, st); err != nil {
			s.log.WithStreamID(st.StreamID).WarnWithErr("Failed to archive stream before delete", err)
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.emit(ctx, models.StreamEventDeleted, st, "", nil)
	return nil
}

// Get returns a stream by record id
func (s *Service) Get(ctx context.Context, id int64) (*models.Stream, error) {
	return s.store.Get(ctx, id)
}

// GetByStreamID returns a stream by its caller-chosen identifier
func (s *Service) GetByStreamID(ctx context.Context, streamID string) (*models.Stream, error) {
	return s.store.GetByStreamID(ctx, streamID)
}

// List returns streams matching f along with the total match count
func (s *Service) List(ctx context.Context, f ListFilter) ([]*models.Stream, int64, error) {
	for _, status := range f.Statuses {
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, invalidf("unknown stream type %q", f.Type)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, 0, invalidf("limit and offset must not be negative")
	}
	return s.store.List(ctx, f)
}

// Statistics returns the registry rollup, served from the cache when one is
// configured and warm.
func (s *Service) Statistics(ctx context.Context) (*models.StreamStatistics, error) {
	if s.cache != nil {
		cached, err := s.cache.GetStatistics(ctx)
		if err != nil {
			s.log.WarnWithErr("Statistics cache read failed", err)
		}
		metrics.RecordCacheAccess("statistics", cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	stats, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	counts := make(map[string]int64, len(stats.StatusCounts))
	for status, n := range stats.StatusCounts {
		counts[string(status)] = n
	}
	metrics.UpdateRegistryMetrics(counts, stats.TotalViewers)

	if s.cache != nil {
		if err := s.cache.SetStatistics(ctx, stats, s.statsTTL); err != nil {
			s.log.WarnWithErr("Statistics cache write failed", err)
		}
	}
	return stats, nil
}

// BatchResult is the outcome of one id in a batch operation
type BatchResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BatchUpdateStatus applies the administrative status override to every id.
// Failures are reported per id and never stop the batch.
func (s *Service) BatchUpdateStatus(ctx context.Context, ids []int64, status models.StreamStatus) ([]BatchResult, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		_, err := s.updateStatusByID(ctx, id, status)
		results = append(results, batchResult(id, err))
	}
	return results, nil
}

// BatchDelete deletes every id, stopping active streams first.
// Failures are reported per id and never stop the batch.
func (s *Service) BatchDelete(ctx context.Context, ids []int64) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, batchResult(id, s.Delete(ctx, id)))
	}
	return results
}

func batchResult(id int64, err error) BatchResult {
	if err != nil {
		return BatchResult{ID: id, Error: err.Error()}
	}
	return BatchResult{ID: id, OK: true}
}

func (s *Service) resolveDevice(ctx context.Context, deviceID *int64) error {
	if deviceID == nil {
		return nil
	}
	if s.devices == nil {
		return fmt.Errorf("%w: %d", ErrDeviceNotFound, *deviceID)
	}

	if _, err := s.devices.Resolve(ctx, *deviceID); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return fmt.Errorf("%w: %d", ErrDeviceNotFound, *deviceID)
		}
		return fmt.Errorf("failed to resolve device %d: %w", *deviceID, err)
	}
	return nil
}

// emit logs a committed change and hands it to the publisher. Publishing is
// best-effort and detached from the caller's cancellation.
func (s *Service) emit(ctx context.Context, eventType string, st *models.Stream, message string, details models.Metadata) {
	s.log.LogStreamEvent(st.StreamID, eventType, string(st.Status), details)

	if s.publisher == nil {
		return
	}

	event := &models.StreamEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		StreamID:  st.StreamID,
		RecordID:  st.ID,
		Status:    st.Status,
		Message:   message,
		Actor:     ActorFrom(ctx),
		Details:   details,
		Timestamp: s.now(),
	}

	err := s.publisher.PublishStreamEvent(context.WithoutCancel(ctx), event)
	metrics.RecordEventPublished(eventType, err)
	if err != nil {
		s.log.WithStreamID(st.StreamID).WarnWithErr("Failed to publish stream event", err)
	}
}
