package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/contracts"
)

// DLXName is the single shared dead letter exchange every queue's
// dead-letter routing key targets.
const DLXName = "dlx"

// dlqTTLFactor scales a queue's message TTL into its DLQ retention TTL.
// Dead-lettered messages are kept longer than live ones so operators can
// inspect them.
const dlqTTLFactor = 7

// QueueDescriptor is the immutable description of one logical queue and its
// paired dead letter queue. Constructed once at startup and shared read-only
// across topology, publisher, and consumer code.
type QueueDescriptor struct {
	Name          string
	Exchange      string
	RoutingKey    string
	DLQName       string
	DLQRoutingKey string
	MessageTTL    time.Duration
	MaxRetries    int
	Durable       bool
}

// DLQTTL returns the retention TTL for the descriptor's dead letter queue.
func (d QueueDescriptor) DLQTTL() time.Duration {
	return d.MessageTTL * dlqTTLFactor
}

// Registry is the validated, immutable set of queue descriptors. It is the
// single source of truth for both topology declaration and message routing.
type Registry struct {
	byName map[string]QueueDescriptor
	order  []string
}

// NewRegistry validates the descriptors and builds a registry. DLQ routing
// keys must be unique and distinct from every primary routing key.
func NewRegistry(descriptors ...QueueDescriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]QueueDescriptor, len(descriptors))}

	primaryKeys := make(map[string]string, len(descriptors))
	dlqKeys := make(map[string]string, len(descriptors))

	for _, d := range descriptors {
		if d.Name == "" || d.Exchange == "" || d.RoutingKey == "" {
			return nil, fmt.Errorf("%w: descriptor %q missing name, exchange, or routing key", ErrInvalidConfiguration, d.Name)
		}
		if d.DLQName == "" || d.DLQRoutingKey == "" {
			return nil, fmt.Errorf("%w: descriptor %q missing DLQ name or routing key", ErrInvalidConfiguration, d.Name)
		}
		if d.MessageTTL <= 0 {
			return nil, fmt.Errorf("%w: descriptor %q has non-positive message TTL", ErrInvalidConfiguration, d.Name)
		}
		if d.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: descriptor %q has negative max retries", ErrInvalidConfiguration, d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate queue name %q", ErrInvalidConfiguration, d.Name)
		}
		if owner, dup := dlqKeys[d.DLQRoutingKey]; dup {
			return nil, fmt.Errorf("%w: DLQ routing key %q shared by %q and %q", ErrInvalidConfiguration, d.DLQRoutingKey, owner, d.Name)
		}
		primaryKeys[d.RoutingKey] = d.Name
		dlqKeys[d.DLQRoutingKey] = d.Name
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}

	for key, owner := range dlqKeys {
		if primary, clash := primaryKeys[key]; clash {
			return nil, fmt.Errorf("%w: DLQ routing key %q of %q collides with primary routing key of %q", ErrInvalidConfiguration, key, owner, primary)
		}
	}

	return r, nil
}

// DefaultRegistry returns the control plane's standard queues: run lifecycle
// events, LLM call events, tool invocations, and budget alerts. Every queue
// is durable with a 24h message TTL. Event queues get 3 retries; alert
// delivery gets 5 since a dropped alert is worse than a late one.
func DefaultRegistry() *Registry {
	names := []string{
		contracts.QueueAgentRunEvents,
		contracts.QueueAgentLLMCalls,
		contracts.QueueAgentToolInvocations,
		contracts.QueueBudgetAlerts,
	}

	descriptors := make([]QueueDescriptor, 0, len(names))
	for _, name := range names {
		maxRetries := 3
		if name == contracts.QueueBudgetAlerts {
			maxRetries = 5
		}
		descriptors = append(descriptors, QueueDescriptor{
			Name:          name,
			Exchange:      name,
			RoutingKey:    name,
			DLQName:       "dlq." + name,
			DLQRoutingKey: "dlq." + name,
			MessageTTL:    24 * time.Hour,
			MaxRetries:    maxRetries,
			Durable:       true,
		})
	}

	r, err := NewRegistry(descriptors...)
	if err != nil {
		// The defaults are static; a validation failure here is a programming error.
		panic(err)
	}
	return r
}

// Get looks up a descriptor by queue name.
func (r *Registry) Get(name string) (QueueDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns the descriptors in registration order.
func (r *Registry) All() []QueueDescriptor {
	out := make([]QueueDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// topologyChannel is the subset of *amqp.Channel the declarer needs; tests
// substitute a fake.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// TopologyManager declares the full broker topology for a registry.
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a topology manager over a channel pool.
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// DeclareAll declares the shared DLX, every DLQ, and every primary exchange,
// queue, and binding. Declarations are idempotent: re-running against an
// identical topology is a no-op, while conflicting arguments against an
// existing queue surface as a TopologyError.
func (tm *TopologyManager) DeclareAll(ctx context.Context, registry *Registry) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return declareAll(ch, registry)
	})
}

func declareAll(ch topologyChannel, registry *Registry) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return &TopologyError{Component: "exchange", Name: DLXName, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	for _, d := range registry.All() {
		if err := declareDLQ(ch, d); err != nil {
			return err
		}
	}

	for _, d := range registry.All() {
		if err := declareQueue(ch, d); err != nil {
			return err
		}
	}

	return nil
}

// declareDLQ declares one dead letter queue and binds it to the shared DLX.
func declareDLQ(ch topologyChannel, d QueueDescriptor) error {
	_, err := ch.QueueDeclare(d.DLQName, true, false, false, false, amqp.Table{
		"x-message-ttl": int64(d.DLQTTL() / time.Millisecond),
	})
	if err != nil {
		return &TopologyError{Component: "queue", Name: d.DLQName, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	if err := ch.QueueBind(d.DLQName, d.DLQRoutingKey, DLXName, false, nil); err != nil {
		return &TopologyError{Component: "binding", Name: d.DLQName, Op: "bind", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// declareQueue declares one primary exchange, its queue with dead-letter
// arguments, and the binding between them.
func declareQueue(ch topologyChannel, d QueueDescriptor) error {
	if err := ch.ExchangeDeclare(d.Exchange, "direct", d.Durable, false, false, false, nil); err != nil {
		return &TopologyError{Component: "exchange", Name: d.Exchange, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	_, err := ch.QueueDeclare(d.Name, d.Durable, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": d.DLQRoutingKey,
		"x-message-ttl":             int64(d.MessageTTL / time.Millisecond),
	})
	if err != nil {
		return &TopologyError{Component: "queue", Name: d.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	if err := ch.QueueBind(d.Name, d.RoutingKey, d.Exchange, false, nil); err != nil {
		return &TopologyError{Component: "binding", Name: d.Name, Op: "bind", Err: err, Timestamp: time.Now()}
	}
	return nil
}
