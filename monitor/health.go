// Package monitor provides passive broker health inspection: queue depths,
// consumer counts, and dead letter backlog for every registry queue.
package monitor

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cognive/controlplane-go/internal/rabbitmq"
)

// QueueHealth is one queue's observed state.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// HealthReport is one snapshot across the registry. Growth in DLQ depth is
// the primary signal that handlers are failing past their retry budget.
type HealthReport struct {
	Healthy      bool          `json:"healthy"`
	Queues       []QueueHealth `json:"queues"`
	DeadLetters  []QueueHealth `json:"dead_letters"`
	DLQBacklog   int           `json:"dlq_backlog"`
	Dependencies []DepStatus   `json:"dependencies,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// DepStatus reports one auxiliary dependency check.
type DepStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Pinger is an auxiliary dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor inspects registry queues over the shared channel pool. Inspection
// is passive: it never declares or mutates topology.
type Monitor struct {
	pool     *rabbitmq.ChannelPool
	registry *rabbitmq.Registry
	deps     map[string]Pinger
	logger   *slog.Logger
}

// MonitorOption configures the monitor.
type MonitorOption func(*Monitor)

// WithDependency adds a named auxiliary dependency to each health report.
func WithDependency(name string, p Pinger) MonitorOption {
	return func(m *Monitor) {
		m.deps[name] = p
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor over the pool and registry.
func NewMonitor(pool *rabbitmq.ChannelPool, registry *rabbitmq.Registry, options ...MonitorOption) *Monitor {
	m := &Monitor{
		pool:     pool,
		registry: registry,
		deps:     make(map[string]Pinger),
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// CheckHealth inspects every primary queue and DLQ. The error is non-nil only
// when the broker itself is unreachable; a missing queue marks the report
// unhealthy but inspection continues.
func (m *Monitor) CheckHealth(ctx context.Context) (HealthReport, error) {
	report := HealthReport{Healthy: true}

	err := m.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, d := range m.registry.All() {
			q, err := ch.QueueInspect(d.Name)
			if err != nil {
				// Inspect failures close the channel; report and stop here.
				m.logger.Error("queue inspection failed", "queue", d.Name, "error", err)
				report.Healthy = false
				return err
			}
			report.Queues = append(report.Queues, QueueHealth{
				Queue:     q.Name,
				Messages:  q.Messages,
				Consumers: q.Consumers,
			})
		}
		return nil
	})
	if err != nil {
		report.Healthy = false
		report.CheckedAt = time.Now().UTC()
		return report, err
	}

	// DLQs are inspected on a separate channel so a missing DLQ does not
	// abort the primary pass.
	err = m.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, d := range m.registry.All() {
			q, err := ch.QueueInspect(d.DLQName)
			if err != nil {
				m.logger.Error("DLQ inspection failed", "queue", d.DLQName, "error", err)
				report.Healthy = false
				return err
			}
			report.DeadLetters = append(report.DeadLetters, QueueHealth{
				Queue:     q.Name,
				Messages:  q.Messages,
				Consumers: q.Consumers,
			})
			report.DLQBacklog += q.Messages
		}
		return nil
	})
	if err != nil {
		report.Healthy = false
	}

	for name, dep := range m.deps {
		status := DepStatus{Name: name, Healthy: true}
		if err := dep.Ping(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			report.Healthy = false
		}
		report.Dependencies = append(report.Dependencies, status)
	}

	report.CheckedAt = time.Now().UTC()
	return report, nil
}
