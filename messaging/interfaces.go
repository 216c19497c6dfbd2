package messaging

import (
	"context"
	"time"

	"github.com/cognive/controlplane-go/contracts"
)

// Handler processes one decoded envelope. A non-nil error rejects the
// delivery (without requeue once retries are exhausted).
type Handler func(ctx context.Context, env *contracts.Envelope) error

// Executor runs a handler for one delivery, owning the retry decision.
// Returning nil acknowledges the delivery; returning an error rejects it
// without requeue so the broker dead-letters it.
type Executor interface {
	Execute(ctx context.Context, delivery TransportDelivery, env *contracts.Envelope, handler Handler) error
}

// TaskStatus is the terminal or intermediate outcome recorded for one
// delivery attempt.
type TaskStatus string

const (
	TaskStatusSucceeded    TaskStatus = "succeeded"
	TaskStatusRetrying     TaskStatus = "retrying"
	TaskStatusDeadLettered TaskStatus = "dead_lettered"
)

// TaskResult is the observable record of one processing attempt, keyed by
// message id so duplicate deliveries are distinguishable from new work.
type TaskResult struct {
	MessageID  string     `json:"message_id"`
	Queue      string     `json:"queue"`
	Status     TaskStatus `json:"status"`
	Attempt    int        `json:"attempt"`
	Error      string     `json:"error,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ResultRecorder persists task results for observability. The store is
// best-effort: recording failures are logged, never fatal to processing.
type ResultRecorder interface {
	Record(ctx context.Context, result TaskResult) error
}

// MetricsCollector receives messaging metrics. DLQ depth and retry counts
// are the layer's primary failure signals.
type MetricsCollector interface {
	// RecordPublished counts published messages per queue.
	RecordPublished(queue string, count int, success bool)

	// RecordConsumed counts processed deliveries per queue.
	RecordConsumed(queue string, success bool)

	// RecordRetryScheduled counts broker-side redeliveries.
	RecordRetryScheduled(queue string, attempt int)

	// RecordDeadLettered counts messages rejected to the DLQ, by reason.
	RecordDeadLettered(queue string, reason string)
}

// NoOpMetrics is the default MetricsCollector.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordPublished(queue string, count int, success bool) {}

func (NoOpMetrics) RecordConsumed(queue string, success bool) {}

func (NoOpMetrics) RecordRetryScheduled(queue string, attempt int) {}

func (NoOpMetrics) RecordDeadLettered(queue string, reason string) {}
