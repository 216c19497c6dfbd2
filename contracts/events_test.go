package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	t.Run("Run event queue decodes typed run event", func(t *testing.T) {
		event := DecodeEvent(QueueAgentRunEvents, map[string]interface{}{
			"run_id":     "run-1",
			"agent_id":   "agent-1",
			"event_type": "completed",
		})

		assert.Equal(t, EventKindRun, event.Kind)
		require.NotNil(t, event.Run)
		assert.Equal(t, "run-1", event.Run.RunID)
		assert.Equal(t, "completed", event.Run.EventType)
	})

	t.Run("LLM call queue decodes cost fields", func(t *testing.T) {
		event := DecodeEvent(QueueAgentLLMCalls, map[string]interface{}{
			"run_id":        "run-1",
			"model":         "claude-sonnet",
			"input_tokens":  1200,
			"output_tokens": 340,
			"cost":          0.0185,
		})

		assert.Equal(t, EventKindLLMCall, event.Kind)
		require.NotNil(t, event.LLMCall)
		assert.Equal(t, 1200, event.LLMCall.InputTokens)
		assert.Equal(t, 0.0185, event.LLMCall.CostUSD)
	})

	t.Run("Tool queue decodes invocation", func(t *testing.T) {
		event := DecodeEvent(QueueAgentToolInvocations, map[string]interface{}{
			"run_id":      "run-1",
			"tool_name":   "web_search",
			"success":     true,
			"duration_ms": 215,
		})

		assert.Equal(t, EventKindTool, event.Kind)
		require.NotNil(t, event.Tool)
		assert.Equal(t, "web_search", event.Tool.ToolName)
		assert.True(t, event.Tool.Success)
	})

	t.Run("Alerts queue decodes budget alert", func(t *testing.T) {
		event := DecodeEvent(QueueBudgetAlerts, map[string]interface{}{
			"organization_id": "org-1",
			"alert_type":      "critical",
			"threshold":       0.90,
			"current_value":   0.93,
		})

		assert.Equal(t, EventKindBudgetAlert, event.Kind)
		require.NotNil(t, event.Alert)
		assert.Equal(t, "critical", event.Alert.AlertType)
		assert.Equal(t, 0.93, event.Alert.CurrentValue)
	})

	t.Run("Unknown queue keeps raw payload", func(t *testing.T) {
		payload := map[string]interface{}{"anything": "goes"}
		event := DecodeEvent("some.other.queue", payload)

		assert.Equal(t, EventKindUnknown, event.Kind)
		assert.Nil(t, event.Run)
		assert.Equal(t, payload, event.Raw)
	})

	t.Run("Type mismatch falls back to unknown", func(t *testing.T) {
		event := DecodeEvent(QueueAgentLLMCalls, map[string]interface{}{
			"input_tokens": "not a number",
		})

		assert.Equal(t, EventKindUnknown, event.Kind)
		assert.Nil(t, event.LLMCall)
		assert.NotNil(t, event.Raw)
	})
}
