package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cognive/controlplane-go/contracts"
	"github.com/cognive/controlplane-go/internal/rabbitmq"
)

// Consumer runs the blocking consume loop for one queue. Per-message
// failures are isolated: decode and handler errors reject without requeue so
// the broker dead-letters the message, and the loop keeps going. The loop
// itself only exits on Stop, context cancellation, or transport failure.
type Consumer struct {
	subscriber TransportSubscriber
	descriptor rabbitmq.QueueDescriptor
	executor   Executor
	prefetch   int
	logger     *slog.Logger
	metrics    MetricsCollector

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithPrefetch bounds unacknowledged deliveries on the channel. The default
// of 1 gives fair dispatch and strict FIFO from a single consumer.
func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetch = n
	}
}

// WithExecutor wires the retry executor around the handler.
func WithExecutor(e Executor) ConsumerOption {
	return func(c *Consumer) {
		c.executor = e
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithConsumerMetrics sets the metrics collector.
func WithConsumerMetrics(m MetricsCollector) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer creates a consumer bound to one registry queue. Concurrency
// across queues comes from running one Consumer per queue, each owning its
// own channel, not from multiplexing.
func NewConsumer(subscriber TransportSubscriber, registry *rabbitmq.Registry, queue string, options ...ConsumerOption) (*Consumer, error) {
	d, ok := registry.Get(queue)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}

	c := &Consumer{
		subscriber: subscriber,
		descriptor: d,
		prefetch:   1,
		logger:     slog.Default(),
		metrics:    NoOpMetrics{},
		stopCh:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Consume blocks processing deliveries until Stop is called, the context is
// cancelled, or the delivery stream closes.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.subscriber.Subscribe(ctx, c.descriptor.Name, c.prefetch)
	if err != nil {
		return err
	}

	c.logger.Info("consumer started",
		"queue", c.descriptor.Name,
		"prefetch", c.prefetch,
	)

	defer func() {
		if err := c.subscriber.Unsubscribe(context.Background(), c.descriptor.Name); err != nil {
			c.logger.Warn("unsubscribe failed", "queue", c.descriptor.Name, "error", err)
		}
	}()

	for {
		select {
		case <-c.stopCh:
			c.logger.Info("consumer stopping", "queue", c.descriptor.Name)
			return nil

		case <-ctx.Done():
			return ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				return rabbitmq.ErrDeliveriesClosed
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

// Stop signals the consume loop to exit after the in-flight delivery
// completes. Safe to call concurrently, repeatedly, and before Consume.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// handleDelivery settles exactly one delivery: reject without requeue on
// decode or handler failure, acknowledge on success.
func (c *Consumer) handleDelivery(ctx context.Context, delivery TransportDelivery, handler Handler) {
	env, err := contracts.ParseEnvelope(delivery.Body())
	if err != nil {
		var decodeErr *contracts.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &contracts.DecodeError{Err: err}
		}
		c.logger.Error("rejecting undecodable message",
			"queue", c.descriptor.Name,
			"messageId", delivery.MessageID(),
			"error", decodeErr,
		)
		c.metrics.RecordConsumed(c.descriptor.Name, false)
		c.metrics.RecordDeadLettered(c.descriptor.Name, "decode_failure")
		c.reject(delivery)
		return
	}
	if env.Queue == "" {
		env.Queue = c.descriptor.Name
	}

	if err := c.execute(ctx, delivery, env, handler); err != nil {
		c.logger.Error("handler failed, rejecting message",
			"queue", c.descriptor.Name,
			"messageId", delivery.MessageID(),
			"error", err,
		)
		c.metrics.RecordConsumed(c.descriptor.Name, false)
		c.metrics.RecordDeadLettered(c.descriptor.Name, "handler_failure")
		c.reject(delivery)
		return
	}

	if err := delivery.Acknowledge(); err != nil {
		c.logger.Error("ack failed",
			"queue", c.descriptor.Name,
			"messageId", delivery.MessageID(),
			"error", err,
		)
		return
	}
	c.metrics.RecordConsumed(c.descriptor.Name, true)
}

func (c *Consumer) execute(ctx context.Context, delivery TransportDelivery, env *contracts.Envelope, handler Handler) error {
	if c.executor != nil {
		return c.executor.Execute(ctx, delivery, env, handler)
	}
	return handler(ctx, env)
}

func (c *Consumer) reject(delivery TransportDelivery) {
	if err := delivery.Reject(false); err != nil {
		c.logger.Error("reject failed",
			"queue", c.descriptor.Name,
			"messageId", delivery.MessageID(),
			"error", err,
		)
	}
}
