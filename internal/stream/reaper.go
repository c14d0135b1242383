package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Identity and synthetic error message used by the reaper
const (
	ReaperActor          = "system:reaper"
	InactiveTimeoutError = "inactive timeout, auto-stopped"
)

// CleanupInactive forces every ACTIVE stream whose last_active_time is older
// than threshold to INACTIVE with zero viewers, and records a synthetic error
// documenting the forced shutdown. Status stays INACTIVE.
//
// Best-effort: a stream that fails to update, or that saw fresh activity
// after it was selected, is skipped. The streams actually processed are
// returned.
func (s *Service) CleanupInactive(ctx context.Context, threshold time.Duration) ([]*models.Stream, error) {
	if threshold <= 0 {
		return nil, invalidf("threshold must be positive, got %s", threshold)
	}

	ctx = WithActor(ctx, ReaperActor)
	cutoff := s.now().Add(-threshold)

	candidates, _, err := s.store.List(ctx, ListFilter{
		Statuses:         []models.StreamStatus{models.StreamStatusActive},
		LastActiveBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select inactive streams: %w", err)
	}

	log := s.log.WithField("threshold", threshold.String())
	reaped := make([]*models.Stream, 0, len(candidates))
	for _, c := range candidates {
		st, err := s.store.Transition(ctx, c.ID, Transition{
			From:             []models.StreamStatus{models.StreamStatusActive},
			LastActiveBefore: &cutoff,
			To:               models.StreamStatusInactive,
			ResetViewers:     true,
			Error:            &ErrorMark{Message: InactiveTimeoutError, At: s.now()},
			Actor:            ReaperActor,
		})
		if err != nil {
			log.WithStreamID(c.StreamID).WarnWithErr("Skipping stream during inactivity cleanup", err)
			continue
		}

		metrics.RecordStreamError("reaper")
		s.emit(ctx, models.StreamEventReaped, st, InactiveTimeoutError, models.Metadata{
			"last_active_time": c.LastActiveTime,
		})
		reaped = append(reaped, st)
	}

	if len(reaped) > 0 {
		log.Infof("Auto-stopped %d of %d inactive streams", len(reaped), len(candidates))
	}
	return reaped, nil
}

// ReconcileTransient moves streams stuck in STARTING or STOPPING for longer
// than olderThan to ERROR. Age is measured from the last status change, so
// telemetry from an engine that did come up does not hide a stuck stream. A
// stream is only stuck when the process driving its transition died, so
// olderThan must exceed the actuator timeout.
func (s *Service) ReconcileTransient(ctx context.Context, olderThan time.Duration) ([]*models.Stream, error) {
	if olderThan <= s.actuatorTimeout {
		return nil, invalidf("reconcile threshold %s must exceed actuator timeout %s", olderThan, s.actuatorTimeout)
	}

	ctx = WithActor(ctx, ReaperActor)
	cutoff := s.now().Add(-olderThan)

	candidates, _, err := s.store.List(ctx, ListFilter{
		Statuses:      []models.StreamStatus{models.StreamStatusStarting, models.StreamStatusStopping},
		StatusBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select transient streams: %w", err)
	}

	reconciled := make([]*models.Stream, 0, len(candidates))
	for _, c := range candidates {
		message := fmt.Sprintf("stuck in %s, reconciled", c.Status)
		st, err := s.store.Transition(ctx, c.ID, Transition{
			From:         []models.StreamStatus{c.Status},
			StatusBefore: &cutoff,
			To:           models.StreamStatusError,
			Error:        &ErrorMark{Message: message, At: s.now()},
			Actor:        ReaperActor,
		})
		if err != nil {
			s.log.WithStreamID(c.StreamID).WarnWithErr("Skipping stream during transient reconciliation", err)
			continue
		}

		metrics.RecordStreamError("reconcile")
		s.emit(ctx, models.StreamEventReconciled, st, message, models.Metadata{
			"previous_status": string(c.Status),
		})
		reconciled = append(reconciled, st)
	}
	return reconciled, nil
}
