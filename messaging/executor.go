package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/cognive/controlplane-go/contracts"
	"github.com/cognive/controlplane-go/internal/rabbitmq"
	"github.com/cognive/controlplane-go/internal/reliability"
)

// RetryableExecutor wraps handler execution with a bounded retry policy.
// Failed work is rescheduled through the broker with backoff until the
// attempt budget is spent, at which point the failure propagates so the
// consumer dead-letters the message. Transient infrastructure errors and
// application errors consume the same budget.
type RetryableExecutor struct {
	scheduler  RedeliveryScheduler
	policy     reliability.RetryPolicy
	descriptor rabbitmq.QueueDescriptor
	results    ResultRecorder
	logger     *slog.Logger
	metrics    MetricsCollector
}

// RetryableExecutorOption configures the executor.
type RetryableExecutorOption func(*RetryableExecutor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) RetryableExecutorOption {
	return func(e *RetryableExecutor) {
		e.logger = logger
	}
}

// WithExecutorMetrics sets the metrics collector.
func WithExecutorMetrics(m MetricsCollector) RetryableExecutorOption {
	return func(e *RetryableExecutor) {
		e.metrics = m
	}
}

// WithResultRecorder wires best-effort task result persistence.
func WithResultRecorder(r ResultRecorder) RetryableExecutorOption {
	return func(e *RetryableExecutor) {
		e.results = r
	}
}

// NewRetryableExecutor creates an executor for one queue. When policy is
// nil, an exponential backoff with a 60s base bounded by the descriptor's
// max retries is used.
func NewRetryableExecutor(scheduler RedeliveryScheduler, d rabbitmq.QueueDescriptor, policy reliability.RetryPolicy, options ...RetryableExecutorOption) *RetryableExecutor {
	if policy == nil {
		policy = reliability.NewExponentialBackoff(60*time.Second, 30*time.Minute, d.MaxRetries)
	}

	e := &RetryableExecutor{
		scheduler:  scheduler,
		policy:     policy,
		descriptor: d,
		logger:     slog.Default(),
		metrics:    NoOpMetrics{},
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Execute runs the handler once. On failure with budget remaining, a copy is
// scheduled for redelivery and nil is returned so the consumer acknowledges
// the original; once attempts are exhausted the error propagates and the
// broker's DLQ becomes authoritative.
func (e *RetryableExecutor) Execute(ctx context.Context, delivery TransportDelivery, env *contracts.Envelope, handler Handler) error {
	attempt := reliability.Attempt(delivery.Raw())

	err := handler(ctx, env)
	if err == nil {
		e.record(ctx, env, TaskStatusSucceeded, attempt, nil)
		return nil
	}

	shouldRetry, delay := e.policy.ShouldRetry(attempt, err)
	if !shouldRetry {
		e.logger.Error("retries exhausted, dead-lettering",
			"queue", e.descriptor.Name,
			"messageId", env.MessageID,
			"attempt", attempt,
			"maxRetries", e.policy.MaxRetries(),
			"error", err,
		)
		e.record(ctx, env, TaskStatusDeadLettered, attempt, err)
		return err
	}

	if schedErr := e.scheduler.ScheduleRedelivery(ctx, e.descriptor, delivery.Raw(), attempt+1, delay, err); schedErr != nil {
		// Could not park the message for retry; propagate the original
		// failure so the delivery is at least preserved in the DLQ.
		e.logger.Error("redelivery scheduling failed",
			"queue", e.descriptor.Name,
			"messageId", env.MessageID,
			"error", schedErr,
		)
		e.record(ctx, env, TaskStatusDeadLettered, attempt, err)
		return err
	}

	e.logger.Warn("handler failed, retry scheduled",
		"queue", e.descriptor.Name,
		"messageId", env.MessageID,
		"attempt", attempt+1,
		"delay", delay,
		"error", err,
	)
	e.metrics.RecordRetryScheduled(e.descriptor.Name, attempt+1)
	e.record(ctx, env, TaskStatusRetrying, attempt, err)
	return nil
}

func (e *RetryableExecutor) record(ctx context.Context, env *contracts.Envelope, status TaskStatus, attempt int, taskErr error) {
	if e.results == nil {
		return
	}

	result := TaskResult{
		MessageID:  env.MessageID,
		Queue:      e.descriptor.Name,
		Status:     status,
		Attempt:    attempt,
		RecordedAt: time.Now().UTC(),
	}
	if taskErr != nil {
		result.Error = taskErr.Error()
	}

	if err := e.results.Record(ctx, result); err != nil {
		e.logger.Warn("task result recording failed",
			"queue", e.descriptor.Name,
			"messageId", env.MessageID,
			"error", err,
		)
	}
}
