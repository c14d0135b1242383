package stream

import (
	"context"

	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// UnspecifiedErrorMessage is recorded when a caller reports an error without text
const UnspecifiedErrorMessage = "unspecified stream error"

// RecordError writes the failure trail and forces ERROR from any state.
// It does not take the stream lock, so it can interrupt an in-flight start or
// stop; the interrupted operation then fails instead of overwriting ERROR.
func (s *Service) RecordError(ctx context.Context, streamID, message string) (*models.Stream, error) {
	if message == "" {
		message = UnspecifiedErrorMessage
	}

	cur, err := s.store.GetByStreamID(ctx, streamID)
	if err != nil {
		return nil, err
	}

	st, err := s.store.Transition(ctx, cur.ID, Transition{
		To:    models.StreamStatusError,
		Error: &ErrorMark{Message: message, At: s.now()},
		Actor: ActorFrom(ctx),
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("record_error", string(models.StreamStatusError))
	metrics.RecordStreamError("reported")
	s.emit(ctx, models.StreamEventError, st, message, nil)
	return st, nil
}

// ClearError resets last_error, last_error_time and error_count. Status is
// not touched; callers start the stream again separately.
func (s *Service) ClearError(ctx context.Context, streamID string) (*models.Stream, error) {
	cur, err := s.store.GetByStreamID(ctx, streamID)
	if err != nil {
		return nil, err
	}

	st, err := s.store.Transition(ctx, cur.ID, Transition{
		ClearError: true,
		Actor:      ActorFrom(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, models.StreamEventErrorCleared, st, "", nil)
	return st, nil
}
