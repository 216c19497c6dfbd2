package messaging

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/internal/rabbitmq"
)

// TransportPublisher is the confirmed-publish surface the event publisher
// builds on. The production implementation is the pooled AMQP publisher;
// tests substitute mocks.
type TransportPublisher interface {
	// Publish sends one message and waits for the broker confirm.
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error

	// PublishBatch sends messages on one channel sharing a confirm cycle and
	// returns how many at the head of the batch were confirmed.
	PublishBatch(ctx context.Context, exchange, routingKey string, msgs []amqp.Publishing) (int, error)
}

// TransportDelivery is one message handed to a consumer, with manual
// settlement.
type TransportDelivery interface {
	// Body returns the message body.
	Body() []byte

	// MessageID returns the broker-level message id property.
	MessageID() string

	// Headers returns the AMQP application headers.
	Headers() map[string]interface{}

	// Raw returns the underlying AMQP delivery for redelivery scheduling.
	Raw() amqp.Delivery

	// Acknowledge marks the message as successfully processed.
	Acknowledge() error

	// Reject rejects the message; requeue=false routes it to the DLQ.
	Reject(requeue bool) error
}

// TransportSubscriber registers queue subscriptions with bounded prefetch.
type TransportSubscriber interface {
	// Subscribe starts consuming the queue and returns the delivery stream.
	Subscribe(ctx context.Context, queue string, prefetch int) (<-chan TransportDelivery, error)

	// Unsubscribe cancels the queue's subscription and releases its channel.
	Unsubscribe(ctx context.Context, queue string) error
}

// RedeliveryScheduler schedules a failed delivery back onto its queue after
// a backoff delay using broker-native mechanisms.
type RedeliveryScheduler interface {
	ScheduleRedelivery(ctx context.Context, d rabbitmq.QueueDescriptor, delivery amqp.Delivery, nextAttempt int, delay time.Duration, lastErr error) error
}
