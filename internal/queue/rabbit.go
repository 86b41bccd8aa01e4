package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/promoreel/promoreel-api/internal/generation"
)

// DefaultQueueName is the durable queue jobs are published to.
const DefaultQueueName = "promoreel.generation.queue"

// RabbitDispatcher publishes jobs to a durable RabbitMQ queue. Messages
// are persistent and consumed one at a time per worker (QoS 1), so an
// accepted job survives broker and worker restarts.
type RabbitDispatcher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *slog.Logger
}

// Compile-time check that RabbitDispatcher implements Dispatcher.
var _ Dispatcher = (*RabbitDispatcher)(nil)

// NewRabbitDispatcher connects to the broker and declares the durable
// job queue.
func NewRabbitDispatcher(url, queueName string, logger *slog.Logger) (*RabbitDispatcher, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare queue: %w", err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: set qos: %w", err)
	}

	return &RabbitDispatcher{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		logger:    logger,
	}, nil
}

// Connect probes the broker with a bounded number of attempts before
// giving up. Callers fall back to direct mode on ErrBrokerUnavailable.
func Connect(ctx context.Context, url, queueName string, attempts int, delay time.Duration, logger *slog.Logger) (*RabbitDispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		d, err := NewRabbitDispatcher(url, queueName, logger)
		if err == nil {
			logger.Info("connected to broker",
				slog.String("queue", d.queueName),
				slog.Int("attempt", attempt),
			)
			return d, nil
		}
		lastErr = err
		logger.Warn("broker connection failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, lastErr)
}

// Dispatch publishes one persistent job message.
func (d *RabbitDispatcher) Dispatch(ctx context.Context, job *generation.Job) error {
	if d.conn.IsClosed() {
		return ErrClosed
	}

	body, err := json.Marshal(jobMessage{
		Request:         job.Request,
		CreditsReserved: job.CreditsReserved,
	})
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if err := d.channel.PublishWithContext(ctx,
		"",          // default exchange
		d.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("queue: publish job: %w", err)
	}

	d.logger.Info("job dispatched to queue",
		slog.String("job_id", job.ID()),
		slog.String("queue", d.queueName),
	)
	return nil
}

// Consume receives jobs and runs them through runner until ctx is
// cancelled or the delivery channel closes. Messages are acked after
// the run returns: the pipeline settles every outcome itself, so a
// failed run is not redelivered.
func (d *RabbitDispatcher) Consume(ctx context.Context, runner Runner) error {
	deliveries, err := d.channel.Consume(
		d.queueName,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			d.handle(ctx, runner, delivery)
		}
	}
}

func (d *RabbitDispatcher) handle(ctx context.Context, runner Runner, delivery amqp.Delivery) {
	var msg jobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		d.logger.Error("dropping malformed job message",
			slog.String("message_id", delivery.MessageId),
			slog.String("error", err.Error()),
		)
		_ = delivery.Nack(false, false)
		return
	}

	job := generation.NewJob(msg.Request)
	job.CreditsReserved = msg.CreditsReserved

	if err := runner.Run(ctx, job); err != nil {
		d.logger.Warn("job run failed",
			slog.String("job_id", job.ID()),
			slog.String("error", err.Error()),
		)
	}
	if err := delivery.Ack(false); err != nil {
		d.logger.Error("failed to ack delivery",
			slog.String("job_id", job.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// Stats inspects the queue depth and consumer count.
func (d *RabbitDispatcher) Stats(_ context.Context) (Stats, error) {
	q, err := d.channel.QueueInspect(d.queueName)
	if err != nil {
		return Stats{Mode: ModeQueue}, fmt.Errorf("queue: inspect: %w", err)
	}
	return Stats{
		Mode:      ModeQueue,
		Pending:   q.Messages,
		Consumers: q.Consumers,
	}, nil
}

// Mode reports the queue strategy.
func (d *RabbitDispatcher) Mode() Mode {
	return ModeQueue
}

// Ping reports broker connectivity.
func (d *RabbitDispatcher) Ping() error {
	if d.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close releases the channel and connection.
func (d *RabbitDispatcher) Close() error {
	if d.channel != nil {
		_ = d.channel.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
