// Package budget implements spend threshold monitoring: classifying usage
// against configured thresholds, enqueueing alerts when a threshold is
// crossed, delivering alerts to notification channels, and sweeping all
// known budgets on a schedule.
package budget

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cognive/controlplane-go/contracts"
)

// AlertType classifies how far spend has progressed against the limit.
type AlertType string

const (
	AlertNone     AlertType = ""
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
	AlertExceeded AlertType = "exceeded"
)

// Thresholds are the usage ratios at which each alert fires.
type Thresholds struct {
	Warning  float64
	Critical float64
	Exceeded float64
}

// DefaultThresholds fire at 75%, 90%, and 100% of the budget limit.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.75, Critical: 0.90, Exceeded: 1.0}
}

// Classify returns the most severe alert the ratio has reached.
func (t Thresholds) Classify(usageRatio float64) AlertType {
	switch {
	case usageRatio >= t.Exceeded:
		return AlertExceeded
	case usageRatio >= t.Critical:
		return AlertCritical
	case usageRatio >= t.Warning:
		return AlertWarning
	default:
		return AlertNone
	}
}

// AlertPublisher enqueues a budget alert for asynchronous delivery.
type AlertPublisher interface {
	PublishBudgetAlert(ctx context.Context, alert contracts.BudgetAlert) (string, error)
}

// CheckRequest describes one budget to evaluate. AgentID is empty for
// organization-wide budgets. Period defaults to monthly.
type CheckRequest struct {
	OrganizationID string
	AgentID        string
	CurrentSpend   float64
	BudgetLimit    float64
	Period         string
}

// CheckResult reports the outcome of a threshold check.
type CheckResult struct {
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	CurrentSpend   float64   `json:"current_spend"`
	BudgetLimit    float64   `json:"budget_limit"`
	UsageRatio     float64   `json:"usage_ratio"`
	UsagePercent   float64   `json:"usage_percent"`
	Period         string    `json:"period"`
	AlertTriggered bool      `json:"alert_triggered"`
	AlertType      AlertType `json:"alert_type,omitempty"`
	Skipped        bool      `json:"skipped,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Checker evaluates spend against thresholds and enqueues alerts when one is
// crossed.
type Checker struct {
	publisher  AlertPublisher
	thresholds Thresholds
	logger     *slog.Logger
}

// CheckerOption configures the checker.
type CheckerOption func(*Checker)

// WithThresholds overrides the default threshold set.
func WithThresholds(t Thresholds) CheckerOption {
	return func(c *Checker) {
		c.thresholds = t
	}
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// NewChecker creates a checker that enqueues alerts through the publisher.
func NewChecker(publisher AlertPublisher, options ...CheckerOption) *Checker {
	c := &Checker{
		publisher:  publisher,
		thresholds: DefaultThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Check classifies the budget and, when a threshold is crossed, enqueues an
// alert. Budgets with a non-positive limit are skipped, never alerted. An
// enqueue failure returns the error so the caller's retry path applies.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if req.Period == "" {
		req.Period = "monthly"
	}

	result := CheckResult{
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		CurrentSpend:   req.CurrentSpend,
		BudgetLimit:    req.BudgetLimit,
		Period:         req.Period,
		CheckedAt:      time.Now().UTC(),
	}

	if req.BudgetLimit <= 0 {
		result.Skipped = true
		return result, nil
	}

	result.UsageRatio = req.CurrentSpend / req.BudgetLimit
	result.UsagePercent = math.Round(result.UsageRatio*10000) / 100

	alertType := c.thresholds.Classify(result.UsageRatio)
	if alertType == AlertNone {
		return result, nil
	}
	result.AlertTriggered = true
	result.AlertType = alertType

	alert := contracts.BudgetAlert{
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		AlertType:      string(alertType),
		Threshold:      c.thresholdFor(alertType),
		CurrentValue:   result.UsageRatio,
		Message: buildAlertMessage(alertType, req.AgentID, req.CurrentSpend,
			req.BudgetLimit, result.UsagePercent, req.Period),
		SentAt: result.CheckedAt,
	}

	messageID, err := c.publisher.PublishBudgetAlert(ctx, alert)
	if err != nil {
		return result, err
	}

	c.logger.Warn("budget threshold crossed, alert enqueued",
		"organizationId", req.OrganizationID,
		"agentId", req.AgentID,
		"alertType", alertType,
		"usagePercent", result.UsagePercent,
		"messageId", messageID,
	)
	return result, nil
}

func (c *Checker) thresholdFor(alertType AlertType) float64 {
	switch alertType {
	case AlertExceeded:
		return c.thresholds.Exceeded
	case AlertCritical:
		return c.thresholds.Critical
	case AlertWarning:
		return c.thresholds.Warning
	default:
		return 0
	}
}
