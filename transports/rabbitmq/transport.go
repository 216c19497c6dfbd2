// Package rabbitmq adapts the internal AMQP plumbing to the messaging
// layer's transport interfaces.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/internal/rabbitmq"
	"github.com/cognive/controlplane-go/internal/reliability"
	"github.com/cognive/controlplane-go/messaging"
)

// Transport bundles one broker connection with the channel pool, confirmed
// publisher, delay scheduler, and subscription management built on it.
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	scheduler *reliability.DelayScheduler
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// subscription pairs a broker consume registration with the stop signal for
// its forwarding goroutine.
type subscription struct {
	sub  *rabbitmq.Subscription
	done chan struct{}
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the logger used by the transport and its parts.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a transport for the broker URL. Connect must be
// called before use.
func NewTransport(url string, options ...TransportOption) (*Transport, error) {
	t := &Transport{
		logger: slog.Default(),
		subs:   make(map[string]*subscription),
	}
	for _, opt := range options {
		opt(t)
	}

	t.manager = rabbitmq.NewConnectionManager(url, rabbitmq.WithConnectionLogger(t.logger))

	pool, err := rabbitmq.NewChannelPool(t.manager)
	if err != nil {
		return nil, err
	}
	t.pool = pool
	t.publisher = rabbitmq.NewPublisher(pool)
	t.scheduler = reliability.NewDelayScheduler(pool, t.publisher,
		reliability.WithSchedulerLogger(t.logger))
	return t, nil
}

// Connect establishes the broker connection.
func (t *Transport) Connect(ctx context.Context) error {
	return t.manager.Connect(ctx)
}

// DeclareTopology declares the full topology for the registry. Fatal on
// conflict; call at every process start.
func (t *Transport) DeclareTopology(ctx context.Context, registry *rabbitmq.Registry) error {
	return rabbitmq.NewTopologyManager(t.pool).DeclareAll(ctx, registry)
}

// Pool exposes the shared channel pool for auxiliary consumers such as
// health inspection.
func (t *Transport) Pool() *rabbitmq.ChannelPool {
	return t.pool
}

// Publisher returns the confirmed-publish surface.
func (t *Transport) Publisher() messaging.TransportPublisher {
	return t.publisher
}

// Scheduler returns the broker-side redelivery scheduler.
func (t *Transport) Scheduler() messaging.RedeliveryScheduler {
	return t.scheduler
}

// Subscribe opens a dedicated channel for the queue and streams deliveries.
func (t *Transport) Subscribe(ctx context.Context, queue string, prefetch int) (<-chan messaging.TransportDelivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subs[queue]; exists {
		return nil, fmt.Errorf("already subscribed to queue %q", queue)
	}

	sub, err := rabbitmq.Subscribe(t.manager, queue, prefetch)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	t.subs[queue] = &subscription{sub: sub, done: done}

	out := make(chan messaging.TransportDelivery)
	go pump(sub.Deliveries, out, done)
	return out, nil
}

// pump forwards deliveries until the source closes or done is signalled. The
// done signal keeps the goroutine from blocking forever on a send after the
// consumer loop stops reading; an unforwarded delivery stays unacked and is
// redelivered once the subscription's channel closes.
func pump(src <-chan amqp.Delivery, out chan<- messaging.TransportDelivery, done <-chan struct{}) {
	defer close(out)
	for d := range src {
		select {
		case out <- &delivery{d: d}:
		case <-done:
			return
		}
	}
}

// Unsubscribe cancels the queue's consumer and closes its channel.
func (t *Transport) Unsubscribe(ctx context.Context, queue string) error {
	t.mu.Lock()
	sub, ok := t.subs[queue]
	delete(t.subs, queue)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	close(sub.done)
	return sub.sub.Cancel(ctx)
}

// Close cancels all subscriptions and tears down the pool and connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	for queue, sub := range subs {
		close(sub.done)
		if err := sub.sub.Cancel(context.Background()); err != nil {
			t.logger.Warn("cancel subscription failed", "queue", queue, "error", err)
		}
	}

	if err := t.pool.Close(); err != nil {
		t.logger.Warn("channel pool close failed", "error", err)
	}
	return t.manager.Close()
}

// IsConnected reports broker connectivity.
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// delivery adapts amqp.Delivery to messaging.TransportDelivery.
type delivery struct {
	d amqp.Delivery
}

func (d *delivery) Body() []byte { return d.d.Body }

func (d *delivery) MessageID() string { return d.d.MessageId }

func (d *delivery) Headers() map[string]interface{} { return d.d.Headers }

func (d *delivery) Raw() amqp.Delivery { return d.d }

func (d *delivery) Acknowledge() error { return d.d.Ack(false) }

func (d *delivery) Reject(requeue bool) error { return d.d.Reject(requeue) }
