package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Budget is one budget known to the platform.
type Budget struct {
	OrganizationID string
	AgentID        string
	CurrentSpend   float64
	Limit          float64
	Period         string
}

// BudgetSource lists the budgets to sweep. Backed by the platform's billing
// store; the sweeper only depends on this read surface.
type BudgetSource interface {
	ListBudgets(ctx context.Context) ([]Budget, error)
}

// SweepSummary reports one completed sweep.
type SweepSummary struct {
	ChecksPerformed int       `json:"checks_performed"`
	AlertsTriggered int       `json:"alerts_triggered"`
	Failures        int       `json:"failures"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Sweeper periodically checks every budget from the source. Per-budget
// failures are counted and logged, never abort the sweep.
type Sweeper struct {
	source   BudgetSource
	checker  *Checker
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule sets the cron expression; the default is hourly.
func WithSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		s.schedule = spec
	}
}

// WithSweepTimeout bounds one sweep run.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// NewSweeper creates a sweeper over the source and checker.
func NewSweeper(source BudgetSource, checker *Checker, options ...SweeperOption) *Sweeper {
	s := &Sweeper{
		source:   source,
		checker:  checker,
		schedule: "@hourly",
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start registers the sweep on the schedule and starts the cron runner.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		summary, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("budget sweep failed", "error", err)
			return
		}
		s.logger.Info("budget sweep completed",
			"checksPerformed", summary.ChecksPerformed,
			"alertsTriggered", summary.AlertsTriggered,
			"failures", summary.Failures,
		)
	})
	if err != nil {
		return err
	}

	s.cron = c
	c.Start()
	s.logger.Info("budget sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep checks every budget once and returns the summary. The error is only
// non-nil when the source itself fails; individual check failures are
// aggregated into the summary.
func (s *Sweeper) Sweep(ctx context.Context) (SweepSummary, error) {
	budgets, err := s.source.ListBudgets(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	summary := SweepSummary{}
	for _, b := range budgets {
		result, err := s.checker.Check(ctx, CheckRequest{
			OrganizationID: b.OrganizationID,
			AgentID:        b.AgentID,
			CurrentSpend:   b.CurrentSpend,
			BudgetLimit:    b.Limit,
			Period:         b.Period,
		})
		if err != nil {
			summary.Failures++
			s.logger.Error("budget check failed",
				"organizationId", b.OrganizationID,
				"agentId", b.AgentID,
				"error", err,
			)
			continue
		}
		if result.Skipped {
			continue
		}
		summary.ChecksPerformed++
		if result.AlertTriggered {
			summary.AlertsTriggered++
		}
	}

	summary.CompletedAt = time.Now().UTC()
	return summary, nil
}
