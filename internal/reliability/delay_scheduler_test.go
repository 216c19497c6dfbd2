package reliability

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestAttempt(t *testing.T) {
	t.Run("Missing header counts as first attempt", func(t *testing.T) {
		assert.Equal(t, 0, Attempt(amqp.Delivery{}))
		assert.Equal(t, 0, Attempt(amqp.Delivery{Headers: amqp.Table{}}))
	})

	t.Run("Reads the broker integer widths", func(t *testing.T) {
		assert.Equal(t, 2, Attempt(amqp.Delivery{Headers: amqp.Table{AttemptHeader: int32(2)}}))
		assert.Equal(t, 3, Attempt(amqp.Delivery{Headers: amqp.Table{AttemptHeader: int64(3)}}))
		assert.Equal(t, 4, Attempt(amqp.Delivery{Headers: amqp.Table{AttemptHeader: 4}}))
	})

	t.Run("Unexpected header types count as zero", func(t *testing.T) {
		assert.Equal(t, 0, Attempt(amqp.Delivery{Headers: amqp.Table{AttemptHeader: "2"}}))
	})
}

func TestWaitQueueName(t *testing.T) {
	t.Run("Encodes queue and exact TTL milliseconds", func(t *testing.T) {
		assert.Equal(t, "retry.delay.agent.llm.calls.30000ms", waitQueueName("agent.llm.calls", (30*time.Second).Milliseconds()))
		assert.Equal(t, "retry.delay.budget.alerts.240000ms", waitQueueName("budget.alerts", (4*time.Minute).Milliseconds()))
	})

	t.Run("Same delay maps to the same queue", func(t *testing.T) {
		a := waitQueueName("agent.runs.events", (60 * time.Second).Milliseconds())
		b := waitQueueName("agent.runs.events", time.Minute.Milliseconds())
		assert.Equal(t, a, b)
	})

	t.Run("Jittered delays in the same second get distinct queues", func(t *testing.T) {
		// Backoff jitter produces delays like 30.000s and 30.412s; each
		// must declare its own queue or the TTL args would conflict.
		a := waitQueueName("agent.llm.calls", (30 * time.Second).Milliseconds())
		b := waitQueueName("agent.llm.calls", (30*time.Second + 412*time.Millisecond).Milliseconds())
		assert.NotEqual(t, a, b)
	})

	t.Run("Sub-millisecond differences collapse with their TTL", func(t *testing.T) {
		// Truncation to milliseconds happens before naming, so two delays
		// sharing a name also share the declared x-message-ttl.
		a := (30 * time.Second).Milliseconds()
		b := (30*time.Second + 500*time.Microsecond).Milliseconds()
		assert.Equal(t, a, b)
		assert.Equal(t, waitQueueName("agent.llm.calls", a), waitQueueName("agent.llm.calls", b))
	})
}
