package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognive/controlplane-go/contracts"
)

func TestEventDispatcher(t *testing.T) {
	t.Run("Routes by decoded event kind", func(t *testing.T) {
		dispatcher := NewEventDispatcher()

		var gotRun *contracts.RunEvent
		dispatcher.Register(contracts.EventKindRun, func(ctx context.Context, event contracts.Event) error {
			gotRun = event.Run
			return nil
		})

		env, err := contracts.NewEnvelope(contracts.QueueAgentRunEvents, map[string]interface{}{
			"run_id": "r1", "agent_id": "a1", "event_type": "started",
		})
		require.NoError(t, err)

		require.NoError(t, dispatcher.HandleEnvelope(context.Background(), env))
		require.NotNil(t, gotRun)
		assert.Equal(t, "r1", gotRun.RunID)
	})

	t.Run("Handler errors propagate for retry", func(t *testing.T) {
		dispatcher := NewEventDispatcher()
		handlerErr := errors.New("db unavailable")
		dispatcher.Register(contracts.EventKindBudgetAlert, func(ctx context.Context, event contracts.Event) error {
			return handlerErr
		})

		env, err := contracts.NewEnvelope(contracts.QueueBudgetAlerts, map[string]interface{}{
			"organization_id": "org-1", "alert_type": "warning",
		})
		require.NoError(t, err)

		assert.ErrorIs(t, dispatcher.HandleEnvelope(context.Background(), env), handlerErr)
	})

	t.Run("Unhandled kinds are acknowledged by default", func(t *testing.T) {
		dispatcher := NewEventDispatcher()

		env, err := contracts.NewEnvelope("foreign.queue", map[string]interface{}{"x": 1})
		require.NoError(t, err)

		assert.NoError(t, dispatcher.HandleEnvelope(context.Background(), env))
	})

	t.Run("Custom unknown handler receives the raw payload", func(t *testing.T) {
		var got contracts.Event
		dispatcher := NewEventDispatcher(WithUnknownHandler(func(ctx context.Context, event contracts.Event) error {
			got = event
			return nil
		}))

		env, err := contracts.NewEnvelope("foreign.queue", map[string]interface{}{"x": "y"})
		require.NoError(t, err)

		require.NoError(t, dispatcher.HandleEnvelope(context.Background(), env))
		assert.Equal(t, contracts.EventKindUnknown, got.Kind)
		assert.Equal(t, "y", got.Raw["x"])
	})

	t.Run("Registering twice replaces the handler", func(t *testing.T) {
		dispatcher := NewEventDispatcher()

		calls := []string{}
		dispatcher.Register(contracts.EventKindTool, func(ctx context.Context, event contracts.Event) error {
			calls = append(calls, "first")
			return nil
		})
		dispatcher.Register(contracts.EventKindTool, func(ctx context.Context, event contracts.Event) error {
			calls = append(calls, "second")
			return nil
		})

		env, err := contracts.NewEnvelope(contracts.QueueAgentToolInvocations, map[string]interface{}{
			"run_id": "r1", "tool_name": "search",
		})
		require.NoError(t, err)

		require.NoError(t, dispatcher.HandleEnvelope(context.Background(), env))
		assert.Equal(t, []string{"second"}, calls)
	})
}
