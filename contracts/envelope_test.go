package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("Generates unique message IDs", func(t *testing.T) {
		first, err := NewEnvelope(QueueAgentRunEvents, map[string]interface{}{"run_id": "r1"})
		require.NoError(t, err)
		second, err := NewEnvelope(QueueAgentRunEvents, map[string]interface{}{"run_id": "r1"})
		require.NoError(t, err)

		assert.NotEmpty(t, first.MessageID)
		assert.NotEqual(t, first.MessageID, second.MessageID)

		_, err = uuid.Parse(first.MessageID)
		assert.NoError(t, err)
	})

	t.Run("Correlation ID defaults to message ID", func(t *testing.T) {
		env, err := NewEnvelope(QueueAgentRunEvents, map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, env.MessageID, env.CorrelationID)
	})

	t.Run("Options override defaults", func(t *testing.T) {
		env, err := NewEnvelope(QueueBudgetAlerts, map[string]interface{}{"a": 1},
			WithCorrelationID("corr-42"),
			WithEnvelopePriority(5),
			WithEnvelopeHeaders(map[string]interface{}{"x-source": "test"}),
		)
		require.NoError(t, err)

		assert.Equal(t, "corr-42", env.CorrelationID)
		assert.Equal(t, uint8(5), env.Priority)
		assert.Equal(t, "test", env.Headers["x-source"])
	})

	t.Run("Priority above the maximum is clamped", func(t *testing.T) {
		env, err := NewEnvelope(QueueBudgetAlerts, map[string]interface{}{"a": 1},
			WithEnvelopePriority(200),
		)
		require.NoError(t, err)
		assert.Equal(t, uint8(MaxPriority), env.Priority)

		env, err = NewEnvelope(QueueBudgetAlerts, map[string]interface{}{"a": 1},
			WithEnvelopePriority(MaxPriority),
		)
		require.NoError(t, err)
		assert.Equal(t, uint8(MaxPriority), env.Priority)
	})

	t.Run("Struct payloads are flattened to object fields", func(t *testing.T) {
		event := RunEvent{RunID: "run-1", AgentID: "agent-1", EventType: "started", Timestamp: time.Now().UTC()}
		env, err := NewEnvelope(QueueAgentRunEvents, event)
		require.NoError(t, err)

		assert.Equal(t, "run-1", env.Payload["run_id"])
		assert.Equal(t, "started", env.Payload["event_type"])
	})

	t.Run("Non-object payloads are rejected", func(t *testing.T) {
		_, err := NewEnvelope(QueueAgentRunEvents, []string{"not", "an", "object"})
		assert.Error(t, err)

		_, err = NewEnvelope(QueueAgentRunEvents, 42)
		assert.Error(t, err)
	})
}

func TestEnvelopeBody(t *testing.T) {
	t.Run("Merges metadata alongside payload fields", func(t *testing.T) {
		env, err := NewEnvelope(QueueAgentLLMCalls, map[string]interface{}{"model": "gpt-4o", "cost": 0.12})
		require.NoError(t, err)

		body, err := env.Body()
		require.NoError(t, err)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &fields))

		assert.Equal(t, "gpt-4o", fields["model"])
		assert.Equal(t, 0.12, fields["cost"])

		meta, ok := fields[MetadataKey].(map[string]interface{})
		require.True(t, ok, "body must carry a %s object", MetadataKey)
		assert.Equal(t, env.MessageID, meta["message_id"])
		assert.Equal(t, QueueAgentLLMCalls, meta["queue"])
		assert.NotEmpty(t, meta["published_at"])
	})

	t.Run("Payload is not mutated by Body", func(t *testing.T) {
		payload := map[string]interface{}{"a": 1}
		env, err := NewEnvelope(QueueAgentRunEvents, payload)
		require.NoError(t, err)

		_, err = env.Body()
		require.NoError(t, err)

		_, hasMeta := payload[MetadataKey]
		assert.False(t, hasMeta)
	})
}

func TestParseEnvelope(t *testing.T) {
	t.Run("Round trip restores metadata and payload", func(t *testing.T) {
		env, err := NewEnvelope(QueueAgentToolInvocations, map[string]interface{}{"tool_name": "search"})
		require.NoError(t, err)

		body, err := env.Body()
		require.NoError(t, err)

		parsed, err := ParseEnvelope(body)
		require.NoError(t, err)

		assert.Equal(t, env.MessageID, parsed.MessageID)
		assert.Equal(t, QueueAgentToolInvocations, parsed.Queue)
		assert.WithinDuration(t, env.PublishedAt, parsed.PublishedAt, time.Second)
		assert.Equal(t, "search", parsed.Payload["tool_name"])
		_, hasMeta := parsed.Payload[MetadataKey]
		assert.False(t, hasMeta, "metadata must be stripped from payload")
	})

	t.Run("Bodies without metadata are accepted", func(t *testing.T) {
		parsed, err := ParseEnvelope([]byte(`{"run_id":"r1"}`))
		require.NoError(t, err)

		assert.Empty(t, parsed.MessageID)
		assert.Equal(t, "r1", parsed.Payload["run_id"])
	})

	t.Run("Invalid JSON returns a decode error", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{not json`))
		require.Error(t, err)

		var decodeErr *DecodeError
		assert.ErrorAs(t, err, &decodeErr)
	})

	t.Run("Malformed metadata returns a decode error", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{"_metadata":{"message_id":12345,"queue":[]}}`))
		require.Error(t, err)

		var decodeErr *DecodeError
		assert.ErrorAs(t, err, &decodeErr)
	})
}
