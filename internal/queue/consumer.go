package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// TelemetryActor is recorded as updated_by for changes made from telemetry
const TelemetryActor = "system:telemetry"

// ErrDeliveryClosed is returned by ConsumeTelemetry when the broker closes the
// delivery channel, for example on a broker restart
var ErrDeliveryClosed = errors.New("telemetry delivery channel closed")

// TelemetryHandler applies one telemetry message
type TelemetryHandler func(ctx context.Context, msg *models.TelemetryMessage) error

type disposition string

const (
	dispositionAck     disposition = "ack"
	dispositionRequeue disposition = "requeue"
	dispositionDrop    disposition = "drop"
)

// ConsumeTelemetry consumes the telemetry queue and blocks until ctx is done,
// returning nil, or until the delivery channel closes, returning
// ErrDeliveryClosed.
//
// Malformed and permanently invalid messages are dead-lettered. A transient
// handler failure is requeued once; a redelivered message that fails again is
// dead-lettered.
func (q *Queue) ConsumeTelemetry(ctx context.Context, handler TelemetryHandler, log *logging.Logger) error {
	prefetch := q.prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	// Set QoS to limit in-flight messages
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.telemetry,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log = log.WithComponent("telemetry")
	log.Infof("Consuming telemetry from %s", q.telemetry)

	return consume(stream.WithActor(ctx, TelemetryActor), msgs, handler, log)
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, handler TelemetryHandler, log *logging.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("Telemetry delivery channel closed")
				return ErrDeliveryClosed
			}
			handleDelivery(ctx, msg, handler, log)
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, handler TelemetryHandler, log *logging.Logger) disposition {
	var msg models.TelemetryMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		metrics.RecordTelemetry("unknown", "malformed")
		log.WarnWithErr("Dropping malformed telemetry message", err)
		d.Nack(false, false)
		return dispositionDrop
	}

	err := handler(ctx, &msg)
	switch {
	case err == nil:
		d.Ack(false)
		return dispositionAck
	case isPermanent(err):
		log.WithStreamID(msg.StreamID).WarnWithErr("Dropping invalid telemetry message", err)
		d.Nack(false, false)
		return dispositionDrop
	case d.Redelivered:
		log.WithStreamID(msg.StreamID).ErrorWithErr("Telemetry message failed twice, dead-lettering", err)
		d.Nack(false, false)
		return dispositionDrop
	default:
		log.WithStreamID(msg.StreamID).WarnWithErr("Telemetry message failed, requeueing", err)
		d.Nack(false, true)
		return dispositionRequeue
	}
}

// isPermanent reports errors that a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, stream.ErrInvalidStream) ||
		errors.Is(err, stream.ErrInvalidStatus) ||
		errors.Is(err, stream.ErrNotFound)
}
