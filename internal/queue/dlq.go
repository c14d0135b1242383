package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

func (q *Queue) deadLetterExchange() string {
	return q.telemetry + ".dlx"
}

func (q *Queue) deadLetterQueue() string {
	return q.telemetry + ".dlq"
}

// SetupDeadLetterQueue declares the exchange and queue that receive rejected
// telemetry
func (q *Queue) SetupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		q.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		q.deadLetterQueue(),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		q.deadLetterQueue(),
		q.deadLetterQueue(),
		q.deadLetterExchange(),
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	return nil
}

// GetDLQDepth returns the number of dead-lettered telemetry messages
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(q.deadLetterQueue())
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

// ReplayDeadLetters moves up to limit dead-lettered messages back onto the
// telemetry queue. Messages that no longer parse are discarded.
func (q *Queue) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	replayed := 0
	for replayed < limit {
		d, ok, err := q.channel.Get(q.deadLetterQueue(), false)
		if err != nil {
			return replayed, fmt.Errorf("failed to read DLQ: %w", err)
		}
		if !ok {
			break
		}

		var msg models.TelemetryMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			d.Ack(false)
			continue
		}

		if err := q.PublishTelemetry(ctx, &msg); err != nil {
			d.Nack(false, true)
			return replayed, err
		}
		d.Ack(false)
		replayed++
	}

	return replayed, nil
}
