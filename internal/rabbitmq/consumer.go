package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscription is a live consume registration on a dedicated channel. The
// channel is owned by the subscription for its whole lifetime: one channel,
// one queue, bounded prefetch, fair dispatch.
type Subscription struct {
	Deliveries <-chan amqp.Delivery

	channel *amqp.Channel
	tag     string
}

// Subscribe opens a dedicated channel on the connection, applies QoS, and
// starts consuming the queue with manual acknowledgment.
func Subscribe(cm *ConnectionManager, queue string, prefetch int) (*Subscription, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	ch, err := cm.Channel()
	if err != nil {
		return nil, &ConsumerError{Queue: queue, Op: "open channel", Err: err, Timestamp: time.Now()}
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, &ConsumerError{Queue: queue, Op: "set qos", Err: err, Timestamp: time.Now()}
	}

	tag := fmt.Sprintf("controlplane.%s", queue)
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, &ConsumerError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	return &Subscription{
		Deliveries: deliveries,
		channel:    ch,
		tag:        tag,
	}, nil
}

// Cancel stops delivery and closes the subscription's channel. In-flight
// unacked deliveries are redelivered by the broker.
func (s *Subscription) Cancel(ctx context.Context) error {
	if err := s.channel.Cancel(s.tag, false); err != nil {
		s.channel.Close()
		return fmt.Errorf("cancel consumer %s: %w", s.tag, err)
	}
	return s.channel.Close()
}
