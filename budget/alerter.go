package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cognive/controlplane-go/contracts"
)

// Notifier delivers one alert through a notification channel (email, chat
// webhook, pager). Implementations must be idempotent per alert: redelivery
// after a partial failure will call Notify again with the same alert.
type Notifier interface {
	Notify(ctx context.Context, alert contracts.BudgetAlert) error
}

// LogNotifier writes alerts to the log. It is the default channel until real
// integrations are configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, alert contracts.BudgetAlert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("budget alert",
		"alertType", alert.AlertType,
		"organizationId", alert.OrganizationID,
		"agentId", alert.AgentID,
		"usageRatio", alert.CurrentValue,
		"message", alert.Message,
	)
	return nil
}

// Alerter consumes queued budget alerts and fans them out to the configured
// notifiers. A failed channel makes HandleEvent return an error so the
// consumer's retry schedule redelivers the alert; channels that already
// succeeded will see it again.
type Alerter struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// AlerterOption configures the alerter.
type AlerterOption func(*Alerter)

// WithAlerterLogger sets the logger.
func WithAlerterLogger(logger *slog.Logger) AlerterOption {
	return func(a *Alerter) {
		a.logger = logger
	}
}

// NewAlerter creates an alerter. With no notifiers it falls back to the log
// channel so alerts are never dropped silently.
func NewAlerter(notifiers []Notifier, options ...AlerterOption) *Alerter {
	a := &Alerter{
		notifiers: notifiers,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	if len(a.notifiers) == 0 {
		a.notifiers = []Notifier{LogNotifier{Logger: a.logger}}
	}
	return a
}

// HandleEvent is the dispatch handler for the alerts queue.
func (a *Alerter) HandleEvent(ctx context.Context, event contracts.Event) error {
	if event.Alert == nil {
		return fmt.Errorf("budget: event %q carries no alert payload", event.Kind)
	}
	return a.Deliver(ctx, *event.Alert)
}

// Deliver sends the alert through every channel, collecting failures.
func (a *Alerter) Deliver(ctx context.Context, alert contracts.BudgetAlert) error {
	var errs []error
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			a.logger.Error("alert notification failed",
				"organizationId", alert.OrganizationID,
				"alertType", alert.AlertType,
				"notifier", fmt.Sprintf("%T", n),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildAlertMessage renders the human-readable alert body.
func buildAlertMessage(alertType AlertType, agentID string, currentSpend, budgetLimit, usagePercent float64, period string) string {
	scope := "Your organization"
	if agentID != "" {
		scope = "Agent " + agentID
	}

	var severity, action string
	switch alertType {
	case AlertExceeded:
		severity = "BUDGET EXCEEDED"
		action = "All agent operations have been paused. Please increase your budget limit or wait for the next billing period."
	case AlertCritical:
		severity = "CRITICAL BUDGET WARNING"
		action = "Consider increasing your budget limit to avoid service interruption."
	default:
		severity = "Budget Warning"
		action = "Monitor your usage to stay within budget."
	}

	remaining := budgetLimit - currentSpend
	if remaining < 0 {
		remaining = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", severity)
	fmt.Fprintf(&b, "%s has used %.2f%% of the %s budget.\n\n", scope, usagePercent, period)
	fmt.Fprintf(&b, "Current Spend: $%.2f\n", currentSpend)
	fmt.Fprintf(&b, "Budget Limit: $%.2f\n", budgetLimit)
	fmt.Fprintf(&b, "Remaining: $%.2f\n\n", remaining)
	b.WriteString(action)
	return b.String()
}
