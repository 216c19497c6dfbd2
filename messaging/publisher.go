package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/contracts"
	"github.com/cognive/controlplane-go/internal/rabbitmq"
)

// ErrUnknownQueue is returned for queue names absent from the registry.
var ErrUnknownQueue = errors.New("messaging: unknown queue")

// EventPublisher publishes enriched envelopes to registry queues. Every
// publish is persistent, confirmed, and mandatory: an unroutable message is
// an error, not a silent drop.
type EventPublisher struct {
	transport TransportPublisher
	registry  *rabbitmq.Registry
	logger    *slog.Logger
	metrics   MetricsCollector
}

// EventPublisherOption configures the publisher.
type EventPublisherOption func(*EventPublisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) EventPublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(m MetricsCollector) EventPublisherOption {
	return func(p *EventPublisher) {
		p.metrics = m
	}
}

// NewEventPublisher creates a publisher over the transport and registry.
func NewEventPublisher(transport TransportPublisher, registry *rabbitmq.Registry, options ...EventPublisherOption) *EventPublisher {
	p := &EventPublisher{
		transport: transport,
		registry:  registry,
		logger:    slog.Default(),
		metrics:   NoOpMetrics{},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish enriches the payload into an envelope and publishes it to the
// queue's exchange, returning the generated message id for caller-side
// correlation.
func (p *EventPublisher) Publish(ctx context.Context, queue string, payload interface{}, options ...contracts.EnvelopeOption) (string, error) {
	d, ok := p.registry.Get(queue)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}

	env, err := contracts.NewEnvelope(queue, payload, options...)
	if err != nil {
		return "", err
	}

	msg, err := toPublishing(env)
	if err != nil {
		return "", err
	}

	if err := p.transport.Publish(ctx, d.Exchange, d.RoutingKey, msg); err != nil {
		p.metrics.RecordPublished(queue, 1, false)
		return "", err
	}

	p.metrics.RecordPublished(queue, 1, true)
	p.logger.Info("published message",
		"queue", queue,
		"messageId", env.MessageID,
	)
	return env.MessageID, nil
}

// PublishBatch enriches and publishes the payloads on one channel sharing a
// single confirm cycle. On failure it returns the ids of the messages that
// were confirmed before the batch aborted, alongside the error.
func (p *EventPublisher) PublishBatch(ctx context.Context, queue string, payloads []interface{}) ([]string, error) {
	d, ok := p.registry.Get(queue)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}

	ids := make([]string, 0, len(payloads))
	msgs := make([]amqp.Publishing, 0, len(payloads))
	for i, payload := range payloads {
		env, err := contracts.NewEnvelope(queue, payload)
		if err != nil {
			return nil, fmt.Errorf("enrich payload %d: %w", i, err)
		}
		msg, err := toPublishing(env)
		if err != nil {
			return nil, fmt.Errorf("encode payload %d: %w", i, err)
		}
		ids = append(ids, env.MessageID)
		msgs = append(msgs, msg)
	}

	confirmed, err := p.transport.PublishBatch(ctx, d.Exchange, d.RoutingKey, msgs)
	if err != nil {
		p.metrics.RecordPublished(queue, confirmed, false)
		return ids[:confirmed], err
	}

	p.metrics.RecordPublished(queue, confirmed, true)
	p.logger.Info("published batch",
		"queue", queue,
		"count", confirmed,
	)
	return ids, nil
}

// toPublishing converts an envelope into its AMQP form: JSON body with
// merged metadata, persistent delivery, properties mirroring the envelope.
func toPublishing(env *contracts.Envelope) (amqp.Publishing, error) {
	body, err := env.Body()
	if err != nil {
		return amqp.Publishing{}, err
	}

	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = v
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.MessageID,
		CorrelationId: env.CorrelationID,
		Priority:      env.Priority,
		Timestamp:     env.PublishedAt,
		Headers:       headers,
		Body:          body,
	}, nil
}

// PublishRunEvent publishes an agent run lifecycle event.
func (p *EventPublisher) PublishRunEvent(ctx context.Context, runID, agentID, eventType string, data map[string]interface{}) (string, error) {
	return p.Publish(ctx, contracts.QueueAgentRunEvents, contracts.RunEvent{
		RunID:     runID,
		AgentID:   agentID,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// PublishLLMCallEvent publishes an LLM call event for cost tracking.
func (p *EventPublisher) PublishLLMCallEvent(ctx context.Context, event contracts.LLMCallEvent) (string, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.Publish(ctx, contracts.QueueAgentLLMCalls, event)
}

// PublishToolInvocation publishes a tool invocation event.
func (p *EventPublisher) PublishToolInvocation(ctx context.Context, event contracts.ToolInvocationEvent) (string, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.Publish(ctx, contracts.QueueAgentToolInvocations, event)
}

// PublishBudgetAlert publishes a budget threshold alert. Critical and
// exceeded alerts are published at elevated priority.
func (p *EventPublisher) PublishBudgetAlert(ctx context.Context, alert contracts.BudgetAlert) (string, error) {
	var priority uint8
	if alert.AlertType == "critical" || alert.AlertType == "exceeded" {
		priority = 5
	}
	return p.Publish(ctx, contracts.QueueBudgetAlerts, alert,
		contracts.WithEnvelopePriority(priority))
}
