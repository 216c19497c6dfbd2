// Package metrics exposes messaging throughput and failure counters in
// Prometheus format.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements messaging.MetricsCollector over Prometheus counters.
type Collector struct {
	published      *prometheus.CounterVec
	consumed       *prometheus.CounterVec
	retryScheduled *prometheus.CounterVec
	deadLettered   *prometheus.CounterVec
}

// NewCollector creates and registers the counters on the registerer. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "messaging",
			Name:      "published_total",
			Help:      "Messages published, by queue and confirm outcome.",
		}, []string{"queue", "success"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "messaging",
			Name:      "consumed_total",
			Help:      "Deliveries processed, by queue and outcome.",
		}, []string{"queue", "success"}),
		retryScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "messaging",
			Name:      "retries_scheduled_total",
			Help:      "Broker-side redeliveries scheduled, by queue.",
		}, []string{"queue"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlplane",
			Subsystem: "messaging",
			Name:      "dead_lettered_total",
			Help:      "Messages rejected to the dead letter queue, by reason.",
		}, []string{"queue", "reason"}),
	}

	reg.MustRegister(c.published, c.consumed, c.retryScheduled, c.deadLettered)
	return c
}

func (c *Collector) RecordPublished(queue string, count int, success bool) {
	c.published.WithLabelValues(queue, strconv.FormatBool(success)).Add(float64(count))
}

func (c *Collector) RecordConsumed(queue string, success bool) {
	c.consumed.WithLabelValues(queue, strconv.FormatBool(success)).Inc()
}

func (c *Collector) RecordRetryScheduled(queue string, attempt int) {
	c.retryScheduled.WithLabelValues(queue).Inc()
}

func (c *Collector) RecordDeadLettered(queue string, reason string) {
	c.deadLettered.WithLabelValues(queue, reason).Inc()
}
