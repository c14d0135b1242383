package stream

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Store is the durable registry of stream records.
//
// Status, telemetry and error fields are only ever written through the
// field-level methods (Transition, AdjustViewers, UpdateMetrics), each of which
// must be a single atomic read-modify-write of the affected columns.
type Store interface {
	Create(ctx context.Context, s *models.Stream) error
	Get(ctx context.Context, id int64) (*models.Stream, error)
	GetByStreamID(ctx context.Context, streamID string) (*models.Stream, error)
	UpdateDescriptor(ctx context.Context, id int64, d *models.StreamDescriptor, actor string) (*models.Stream, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f ListFilter) ([]*models.Stream, int64, error)

	Transition(ctx context.Context, id int64, t Transition) (*models.Stream, error)
	AdjustViewers(ctx context.Context, streamID string, delta int64, activeAt *time.Time) error
	UpdateMetrics(ctx context.Context, streamID string, m Metrics, activeAt time.Time) error

	Statistics(ctx context.Context) (*models.StreamStatistics, error)
}

// ListFilter selects streams. Zero values match everything.
type ListFilter struct {
	Statuses         []models.StreamStatus
	Type             models.StreamType
	DeviceID         *int64
	Keyword          string // matched against name and description
	LastActiveBefore *time.Time
	StatusBefore     *time.Time // status_changed_at older than this
	Limit            int
	Offset           int
}

// Transition is a field-level status/error update.
//
// When From is non-empty the update only applies if the current status is one
// of From; otherwise the store returns ErrStatusConflict. LastActiveBefore and
// StatusBefore add the same kind of guard on timestamps.
type Transition struct {
	From             []models.StreamStatus
	LastActiveBefore *time.Time
	StatusBefore     *time.Time

	To           models.StreamStatus // empty keeps the current status
	ActiveAt     *time.Time          // sets last_active_time
	ResetViewers bool
	ClearError   bool
	Error        *ErrorMark
	Actor        string
}

// ErrorMark records a failure: last_error, last_error_time and error_count+1
type ErrorMark struct {
	Message string
	At      time.Time
}

// Metrics is a resource sample. Every field is written, nil included.
type Metrics struct {
	CPUUsage         *float64 `json:"cpu_usage"`
	MemoryUsage      *float64 `json:"memory_usage"`
	NetworkBandwidth *float64 `json:"network_bandwidth"`
}

// Matches reports whether a stream satisfies the transition guards
func (t Transition) Matches(s *models.Stream) bool {
	if len(t.From) > 0 && !statusIn(s.Status, t.From) {
		return false
	}
	if t.LastActiveBefore != nil {
		if s.LastActiveTime == nil || !s.LastActiveTime.Before(*t.LastActiveBefore) {
			return false
		}
	}
	if t.StatusBefore != nil && !s.StatusChangedAt.Before(*t.StatusBefore) {
		return false
	}
	return true
}

// Apply mutates s according to the transition. Guards are not checked.
func (t Transition) Apply(s *models.Stream, now time.Time) {
	if t.To != "" {
		s.Status = t.To
		s.StatusChangedAt = now
	}
	if t.ActiveAt != nil {
		at := *t.ActiveAt
		s.LastActiveTime = &at
	}
	if t.ResetViewers {
		s.ViewerCount = 0
	}
	if t.ClearError {
		s.LastError = nil
		s.LastErrorTime = nil
		s.ErrorCount = 0
	}
	if t.Error != nil {
		msg := t.Error.Message
		at := t.Error.At
		s.LastError = &msg
		s.LastErrorTime = &at
		s.ErrorCount++
	}
	if t.Actor != "" {
		s.UpdatedBy = t.Actor
	}
	s.UpdatedAt = now
}

func statusIn(s models.StreamStatus, set []models.StreamStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// allExcept returns every status other than the excluded ones
func allExcept(excluded ...models.StreamStatus) []models.StreamStatus {
	out := make([]models.StreamStatus, 0, len(models.AllStreamStatuses))
	for _, s := range models.AllStreamStatuses {
		if !statusIn(s, excluded) {
			out = append(out, s)
		}
	}
	return out
}
