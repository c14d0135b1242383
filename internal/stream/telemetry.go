package stream

import (
	"context"
	"errors"

	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Viewer and metrics updates skip status validation and are silent no-ops for
// an unknown stream id. Concurrent writers race last-write-wins on these
// fields only.

// IncrementViewerCount adds a viewer and refreshes last_active_time
func (s *Service) IncrementViewerCount(ctx context.Context, streamID string) error {
	now := s.now()
	return ignoreMissing(s.store.AdjustViewers(ctx, streamID, 1, &now))
}

// DecrementViewerCount removes a viewer; the count never drops below zero
func (s *Service) DecrementViewerCount(ctx context.Context, streamID string) error {
	return ignoreMissing(s.store.AdjustViewers(ctx, streamID, -1, nil))
}

// UpdateMetrics overwrites all three resource fields, nil meaning "set to
// null", and refreshes last_active_time.
func (s *Service) UpdateMetrics(ctx context.Context, streamID string, m Metrics) error {
	return ignoreMissing(s.store.UpdateMetrics(ctx, streamID, m, s.now()))
}

// ApplyTelemetry dispatches one telemetry signal from the ingest queue
func (s *Service) ApplyTelemetry(ctx context.Context, msg *models.TelemetryMessage) error {
	if msg.StreamID == "" {
		metrics.RecordTelemetry(msg.Type, "invalid")
		return invalidf("telemetry message without stream_id")
	}

	var err error
	switch msg.Type {
	case models.TelemetryViewerJoin:
		err = s.IncrementViewerCount(ctx, msg.StreamID)
	case models.TelemetryViewerLeave:
		err = s.DecrementViewerCount(ctx, msg.StreamID)
	case models.TelemetryMetrics:
		err = s.UpdateMetrics(ctx, msg.StreamID, Metrics{
			CPUUsage:         msg.CPUUsage,
			MemoryUsage:      msg.MemoryUsage,
			NetworkBandwidth: msg.NetworkBandwidth,
		})
	case models.TelemetryError:
		message := msg.Message
		if message == "" {
			message = "error reported by media engine"
		}
		_, err = s.RecordError(ctx, msg.StreamID, message)
	case models.TelemetryStatus:
		_, err = s.UpdateStatus(ctx, msg.StreamID, msg.Status)
	default:
		metrics.RecordTelemetry(msg.Type, "invalid")
		return invalidf("unknown telemetry type %q", msg.Type)
	}

	if err != nil {
		metrics.RecordTelemetry(msg.Type, "error")
		return err
	}
	metrics.RecordTelemetry(msg.Type, "ok")
	return nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
