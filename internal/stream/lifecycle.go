package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

var errInterrupted = errors.New("interrupted by a concurrent status change")

// Start activates a stream on the media engine.
//
// STARTING is persisted before the engine is called. On success the stream is
// ACTIVE with a fresh last_active_time and a cleared error trail; on failure or
// timeout it is left in ERROR and the returned error matches ErrStartFailed.
func (s *Service) Start(ctx context.Context, id int64) (*models.Stream, error) {
	span, ctx := tracing.StartStreamSpan(ctx, "stream.start", id)
	defer tracing.FinishSpan(span)

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.start(ctx, id)
	tracing.LogError(span, err)
	return st, err
}

// Stop deactivates a stream on the media engine.
//
// STOPPING is persisted before the engine is called. On success the stream is
// INACTIVE with zero viewers; on failure or timeout it is left in ERROR and the
// returned error matches ErrStopFailed.
func (s *Service) Stop(ctx context.Context, id int64) (*models.Stream, error) {
	span, ctx := tracing.StartStreamSpan(ctx, "stream.stop", id)
	defer tracing.FinishSpan(span)

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.stop(ctx, id)
	tracing.LogError(span, err)
	return st, err
}

// Restart runs stop then start while holding the stream lock, so no other
// transition can slip in between. Either failure fails the restart, and once
// stop has committed any failure leaves the stream in ERROR, including a
// context cancelled during the restart delay.
func (s *Service) Restart(ctx context.Context, id int64) (*models.Stream, error) {
	span, ctx := tracing.StartStreamSpan(ctx, "stream.restart", id)
	defer tracing.FinishSpan(span)

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	stopped, err := s.stop(ctx, id)
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("restart: %w", err)
	}

	if s.restartDelay > 0 {
		timer := time.NewTimer(s.restartDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err := s.fail(ctx, stopped, &ActuatorError{Op: OpStart, StreamID: stopped.StreamID, Err: ctx.Err()})
			tracing.LogError(span, err)
			return nil, fmt.Errorf("restart interrupted after stop: %w", err)
		}
	}

	st, err := s.start(ctx, id)
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("restart: %w", err)
	}
	return st, nil
}

// UpdateStatus is the administrative override. It sets any valid status
// without calling the media engine, including edges start and stop never
// take (for example INACTIVE to MAINTENANCE). Setting ACTIVE refreshes
// last_active_time.
func (s *Service) UpdateStatus(ctx context.Context, streamID string, status models.StreamStatus) (*models.Stream, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	st, err := s.store.GetByStreamID(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return s.updateStatusByID(ctx, st.ID, status)
}

func (s *Service) updateStatusByID(ctx context.Context, id int64, status models.StreamStatus) (*models.Stream, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	t := Transition{To: status, Actor: ActorFrom(ctx)}
	if status == models.StreamStatusActive {
		now := s.now()
		t.ActiveAt = &now
	}

	st, err := s.store.Transition(ctx, id, t)
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("update_status", string(status))
	s.emit(ctx, models.StreamEventStatusChanged, st, "", nil)
	return st, nil
}

// start and stop expect the stream lock to be held

func (s *Service) start(ctx context.Context, id int64) (*models.Stream, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsActive() {
		return nil, ErrAlreadyActive
	}

	actor := ActorFrom(ctx)
	starting, err := s.store.Transition(ctx, id, Transition{
		From:  allExcept(models.StreamStatusActive),
		To:    models.StreamStatusStarting,
		Actor: actor,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("failed to persist STARTING: %w", err)
	}
	metrics.RecordTransition(OpStart, string(models.StreamStatusStarting))
	s.emit(ctx, models.StreamEventStarting, starting, "", nil)

	if aerr := s.actuate(ctx, OpStart, starting); aerr != nil {
		return nil, s.fail(ctx, starting, aerr)
	}

	// The engine has acted; persist the outcome even if the caller gave up.
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	active, err := s.store.Transition(ctx, id, Transition{
		From:       []models.StreamStatus{models.StreamStatusStarting},
		To:         models.StreamStatusActive,
		ActiveAt:   &now,
		ClearError: true,
		Actor:      actor,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, &ActuatorError{Op: OpStart, StreamID: starting.StreamID, Err: errInterrupted}
		}
		return nil, s.fail(ctx, starting, &ActuatorError{Op: OpStart, StreamID: starting.StreamID, Err: err})
	}

	metrics.RecordTransition(OpStart, string(models.StreamStatusActive))
	s.emit(ctx, models.StreamEventStarted, active, "", nil)
	return active, nil
}

func (s *Service) stop(ctx context.Context, id int64) (*models.Stream, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsInactive() {
		return nil, ErrAlreadyInactive
	}

	actor := ActorFrom(ctx)
	stopping, err := s.store.Transition(ctx, id, Transition{
		From:  allExcept(models.StreamStatusInactive),
		To:    models.StreamStatusStopping,
		Actor: actor,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrAlreadyInactive
		}
		return nil, fmt.Errorf("failed to persist STOPPING: %w", err)
	}
	metrics.RecordTransition(OpStop, string(models.StreamStatusStopping))
	s.emit(ctx, models.StreamEventStopping, stopping, "", nil)

	if aerr := s.actuate(ctx, OpStop, stopping); aerr != nil {
		return nil, s.fail(ctx, stopping, aerr)
	}

	ctx = context.WithoutCancel(ctx)
	inactive, err := s.store.Transition(ctx, id, Transition{
		From:         []models.StreamStatus{models.StreamStatusStopping},
		To:           models.StreamStatusInactive,
		ResetViewers: true,
		Actor:        actor,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, &ActuatorError{Op: OpStop, StreamID: stopping.StreamID, Err: errInterrupted}
		}
		return nil, s.fail(ctx, stopping, &ActuatorError{Op: OpStop, StreamID: stopping.StreamID, Err: err})
	}

	metrics.RecordTransition(OpStop, string(models.StreamStatusInactive))
	s.emit(ctx, models.StreamEventStopped, inactive, "", nil)
	return inactive, nil
}

// actuate calls the media engine with a bounded timeout. The call runs in its
// own goroutine so an engine that ignores ctx cannot hold the stream lock past
// the deadline.
func (s *Service) actuate(ctx context.Context, op string, st *models.Stream) *ActuatorError {
	callCtx, cancel := context.WithTimeout(ctx, s.actuatorTimeout)
	defer cancel()

	metrics.StreamsInFlight.Inc()
	defer metrics.StreamsInFlight.Dec()

	call := s.actuator.Activate
	if op == OpStop {
		call = s.actuator.Deactivate
	}

	done := make(chan error, 1)
	began := time.Now()
	go func(target *models.Stream) {
		done <- call(callCtx, target)
	}(st.Clone())

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	elapsed := time.Since(began)

	timeout := err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	metrics.RecordActuatorCall(op, elapsed.Seconds(), err, timeout)
	s.log.LogActuatorCall(st.StreamID, op, elapsed, err)

	if err != nil {
		return &ActuatorError{Op: op, StreamID: st.StreamID, Timeout: timeout, Err: err}
	}
	return nil
}

// fail records the actuator failure against the stream, forcing ERROR.
// The transient state is never left as the visible outcome.
func (s *Service) fail(ctx context.Context, st *models.Stream, aerr *ActuatorError) error {
	ctx = context.WithoutCancel(ctx)

	failed, err := s.store.Transition(ctx, st.ID, Transition{
		To:    models.StreamStatusError,
		Error: &ErrorMark{Message: aerr.Error(), At: s.now()},
		Actor: ActorFrom(ctx),
	})
	if err != nil {
		s.log.WithStreamID(st.StreamID).ErrorWithErr("Failed to record actuator failure", err)
		return aerr
	}

	metrics.RecordTransition(aerr.Op, string(models.StreamStatusError))
	metrics.RecordStreamError("actuator")
	s.emit(ctx, models.StreamEventError, failed, aerr.Error(), models.Metadata{
		"operation": aerr.Op,
		"timeout":   aerr.Timeout,
	})
	return aerr
}
