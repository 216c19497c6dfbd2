package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/internal/rabbitmq"
)

// AttemptHeader carries the retry attempt count in broker-visible message
// metadata so it survives worker restarts.
const AttemptHeader = "x-retry-attempt"

// LastErrorHeader records the most recent handler error on a redelivery.
const LastErrorHeader = "x-last-error"

// DelayScheduler redelivers failed messages after a backoff delay using
// broker-native TTL queues: the message is republished to a wait queue whose
// x-message-ttl equals the delay and whose dead letter target is the primary
// exchange, so it flows back into the work queue with no in-process timer.
type DelayScheduler struct {
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	logger    *slog.Logger
}

// DelaySchedulerOption configures the scheduler.
type DelaySchedulerOption func(*DelayScheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) DelaySchedulerOption {
	return func(s *DelayScheduler) {
		s.logger = logger
	}
}

// NewDelayScheduler creates a scheduler over the given pool.
func NewDelayScheduler(pool *rabbitmq.ChannelPool, publisher *rabbitmq.Publisher, options ...DelaySchedulerOption) *DelayScheduler {
	s := &DelayScheduler{
		pool:      pool,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// ScheduleRedelivery republishes the original body to a wait queue so the
// broker delivers it back to the descriptor's queue after delay. The attempt
// header is incremented so the next delivery knows how many tries preceded it.
func (s *DelayScheduler) ScheduleRedelivery(ctx context.Context, d rabbitmq.QueueDescriptor, delivery amqp.Delivery, nextAttempt int, delay time.Duration, lastErr error) error {
	ttl := delay.Milliseconds()
	waitQueue := waitQueueName(d.Name, ttl)
	if err := s.ensureWaitQueue(ctx, waitQueue, d, ttl); err != nil {
		return fmt.Errorf("ensure wait queue: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(nextAttempt)
	if lastErr != nil {
		headers[LastErrorHeader] = lastErr.Error()
	}

	msg := amqp.Publishing{
		ContentType:   delivery.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     delivery.MessageId,
		CorrelationId: delivery.CorrelationId,
		Priority:      delivery.Priority,
		Timestamp:     delivery.Timestamp,
		Headers:       headers,
		Body:          delivery.Body,
	}

	// Publish through the default exchange straight onto the wait queue.
	if err := s.publisher.Publish(ctx, "", waitQueue, msg); err != nil {
		return err
	}

	s.logger.Info("scheduled redelivery",
		"queue", d.Name,
		"messageId", delivery.MessageId,
		"attempt", nextAttempt,
		"delay", delay,
	)
	return nil
}

// Attempt extracts the retry attempt count from a delivery's headers; first
// deliveries have no header and count as attempt 0.
func Attempt(delivery amqp.Delivery) int {
	raw, ok := delivery.Headers[AttemptHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// ensureWaitQueue declares the TTL wait queue for a (queue, ttl) pair. The
// declare runs before every redelivery because the queue expires when idle
// (x-expires) and may need recreating; redeclaring an identical queue is a
// broker no-op.
func (s *DelayScheduler) ensureWaitQueue(ctx context.Context, name string, d rabbitmq.QueueDescriptor, ttl int64) error {
	return s.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             ttl,
			"x-dead-letter-exchange":    d.Exchange,
			"x-dead-letter-routing-key": d.RoutingKey,
			"x-expires":                 ttl + int64(5*time.Minute/time.Millisecond),
		})
		return err
	})
}

// waitQueueName encodes the exact TTL in the queue name. The name must
// uniquely determine the declare arguments: jittered delays land on distinct
// millisecond values, and a coarser bucket would redeclare an existing queue
// with a different x-message-ttl, which the broker rejects.
func waitQueueName(queue string, ttlMillis int64) string {
	return fmt.Sprintf("retry.delay.%s.%dms", queue, ttlMillis)
}
