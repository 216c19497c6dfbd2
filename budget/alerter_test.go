package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognive/controlplane-go/contracts"
)

// recordingNotifier captures delivered alerts.
type recordingNotifier struct {
	alerts []contracts.BudgetAlert
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, alert contracts.BudgetAlert) error {
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func sampleAlert() contracts.BudgetAlert {
	return contracts.BudgetAlert{
		OrganizationID: "org-1",
		AlertType:      "critical",
		Threshold:      0.90,
		CurrentValue:   0.93,
		Message:        "CRITICAL BUDGET WARNING",
		SentAt:         time.Now().UTC(),
	}
}

func TestAlerter(t *testing.T) {
	t.Run("Delivers to every notifier", func(t *testing.T) {
		first := &recordingNotifier{}
		second := &recordingNotifier{}
		alerter := NewAlerter([]Notifier{first, second})

		require.NoError(t, alerter.Deliver(context.Background(), sampleAlert()))
		assert.Len(t, first.alerts, 1)
		assert.Len(t, second.alerts, 1)
	})

	t.Run("One failed channel fails the delivery but others still run", func(t *testing.T) {
		failing := &recordingNotifier{err: errors.New("webhook 500")}
		healthy := &recordingNotifier{}
		alerter := NewAlerter([]Notifier{failing, healthy})

		err := alerter.Deliver(context.Background(), sampleAlert())
		require.Error(t, err)
		assert.Len(t, healthy.alerts, 1, "healthy channels are not skipped")
	})

	t.Run("Falls back to log notifier when none configured", func(t *testing.T) {
		alerter := NewAlerter(nil)
		assert.NoError(t, alerter.Deliver(context.Background(), sampleAlert()))
	})

	t.Run("HandleEvent requires an alert payload", func(t *testing.T) {
		alerter := NewAlerter(nil)
		err := alerter.HandleEvent(context.Background(), contracts.Event{Kind: contracts.EventKindBudgetAlert})
		assert.Error(t, err)
	})

	t.Run("HandleEvent delivers the decoded alert", func(t *testing.T) {
		notifier := &recordingNotifier{}
		alerter := NewAlerter([]Notifier{notifier})

		alert := sampleAlert()
		err := alerter.HandleEvent(context.Background(), contracts.Event{
			Kind:  contracts.EventKindBudgetAlert,
			Alert: &alert,
		})
		require.NoError(t, err)
		require.Len(t, notifier.alerts, 1)
		assert.Equal(t, "org-1", notifier.alerts[0].OrganizationID)
	})
}

func TestBuildAlertMessage(t *testing.T) {
	t.Run("Exceeded alerts announce the pause", func(t *testing.T) {
		msg := buildAlertMessage(AlertExceeded, "", 120, 100, 120, "monthly")

		assert.Contains(t, msg, "BUDGET EXCEEDED")
		assert.Contains(t, msg, "Your organization has used 120.00% of the monthly budget.")
		assert.Contains(t, msg, "Current Spend: $120.00")
		assert.Contains(t, msg, "Budget Limit: $100.00")
		assert.Contains(t, msg, "Remaining: $0.00")
		assert.Contains(t, msg, "paused")
	})

	t.Run("Critical alerts suggest raising the limit", func(t *testing.T) {
		msg := buildAlertMessage(AlertCritical, "agent-7", 93, 100, 93, "monthly")

		assert.Contains(t, msg, "CRITICAL BUDGET WARNING")
		assert.Contains(t, msg, "Agent agent-7")
		assert.Contains(t, msg, "Remaining: $7.00")
		assert.Contains(t, msg, "service interruption")
	})

	t.Run("Warnings just ask for monitoring", func(t *testing.T) {
		msg := buildAlertMessage(AlertWarning, "", 76, 100, 76, "weekly")

		assert.Contains(t, msg, "Budget Warning")
		assert.Contains(t, msg, "weekly budget")
		assert.Contains(t, msg, "Monitor your usage")
	})
}
