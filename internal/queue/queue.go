package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Queue publishes stream events to a topic exchange and carries the telemetry
// ingest queue. Events are routed by their type, e.g. "stream.started".
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	// publishing and consuming use separate channels
	pubMu     sync.Mutex
	pubChan   *amqp.Channel
	exchange  string
	telemetry string
	prefetch  int
}

var _ stream.EventPublisher = (*Queue)(nil)

// New creates a new queue client and declares its topology
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	q := &Queue{
		conn:      conn,
		exchange:  cfg.EventsExchange,
		telemetry: cfg.TelemetryQueue,
		prefetch:  cfg.Prefetch,
	}

	if q.channel, err = conn.Channel(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if q.pubChan, err = conn.Channel(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		q.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Rejected telemetry is dead-lettered for inspection
	if err := q.SetupDeadLetterQueue(); err != nil {
		return err
	}

	_, err = q.channel.QueueDeclare(
		q.telemetry,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    q.deadLetterExchange(),
			"x-dead-letter-routing-key": q.deadLetterQueue(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare telemetry queue: %w", err)
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.pubChan != nil {
		q.pubChan.Close()
	}
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishStreamEvent publishes a lifecycle event
func (q *Queue) PublishStreamEvent(ctx context.Context, event *models.StreamEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return q.publish(ctx, q.exchange, event.Type, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ID,
		Type:         event.Type,
		Body:         body,
		Timestamp:    event.Timestamp,
	})
}

// PublishTelemetry enqueues a telemetry message on the ingest queue.
// Media engines normally publish directly; this is used by tooling and tests.
func (q *Queue) PublishTelemetry(ctx context.Context, msg *models.TelemetryMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	return q.publish(ctx, "", q.telemetry, amqp.Publishing{
		ContentType: "application/json",
		Type:        msg.Type,
		Body:        body,
		Timestamp:   msg.Timestamp,
	})
}

func (q *Queue) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	err := q.pubChan.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// GetQueueDepth returns the number of messages waiting on the telemetry queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(q.telemetry)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
