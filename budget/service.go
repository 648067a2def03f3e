package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/maestro/core"
)

// Service is the budget engine: configuration upserts, pre-flight checks,
// spend tracking, and summaries. Safe for concurrent use when the underlying
// store is.
type Service struct {
	store   Store
	logger  core.Logger
	metrics core.Metrics

	// now is swapped in tests to pin period boundaries.
	now func() time.Time
}

// NewService creates a budget service over a store.
func NewService(store Store, logger core.Logger, metrics core.Metrics) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetBudget upserts a tenant's budget config. The warn threshold defaults to
// 80 percent and the policy to WARN.
func (s *Service) SetBudget(ctx context.Context, cfg Config) error {
	if cfg.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if cfg.WarnThresholdPercent <= 0 {
		cfg.WarnThresholdPercent = DefaultWarnThresholdPercent
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyWarn
	}
	if err := s.store.SetConfig(ctx, &cfg); err != nil {
		return core.NewOrchestratorError("budget.SetBudget", "budget", err)
	}
	s.logger.Info("Budget configured", map[string]interface{}{
		"operation":     "budget_set",
		"tenant_id":     cfg.TenantID,
		"daily_limit":   cfg.DailyLimitUsd,
		"weekly_limit":  cfg.WeeklyLimitUsd,
		"monthly_limit": cfg.MonthlyLimitUsd,
		"policy":        string(cfg.Policy),
		"enabled":       cfg.Enabled,
	})
	return nil
}

// CheckBudget runs the pre-flight check: every configured period is
// evaluated against current spend plus the estimate, and the worst outcome
// wins (BLOCKED over WARNED over ALLOWED). Tenants without an enabled config
// are always allowed.
func (s *Service) CheckBudget(ctx context.Context, tenantID string, estimatedCostUsd float64) (*CheckResult, error) {
	cfg, err := s.store.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, core.NewOrchestratorError("budget.CheckBudget", "budget", err)
	}
	if cfg == nil || !cfg.Enabled {
		return &CheckResult{
			Allowed:          true,
			Action:           ActionAllowed,
			EstimatedCostUsd: estimatedCostUsd,
			Reason:           "no budget configured",
		}, nil
	}

	now := s.now()
	worst := &CheckResult{
		Allowed:          true,
		Action:           ActionAllowed,
		EstimatedCostUsd: estimatedCostUsd,
	}
	for _, pl := range cfg.PeriodLimits() {
		records, err := s.store.SpendSince(ctx, tenantID, PeriodStart(pl.Period, now))
		if err != nil {
			return nil, core.NewOrchestratorError("budget.CheckBudget", "budget", err)
		}
		var current float64
		for _, rec := range records {
			current += rec.CostUsd
		}
		projected := current + estimatedCostUsd
		percent := projected / pl.LimitUsd * 100

		result := &CheckResult{
			Allowed:          true,
			Action:           ActionAllowed,
			Period:           pl.Period,
			LimitUsd:         pl.LimitUsd,
			CurrentSpendUsd:  current,
			ProjectedUsd:     projected,
			PercentUsed:      percent,
			EstimatedCostUsd: estimatedCostUsd,
		}
		// A period is exceeded when the projection passes the limit or
		// current spend has already reached it, whatever the estimate.
		switch {
		case projected > pl.LimitUsd || current >= pl.LimitUsd:
			if cfg.Policy == PolicyWarn {
				result.Action = ActionWarned
				result.Reason = fmt.Sprintf("%s budget exceeded (policy WARN)", pl.Period)
			} else {
				result.Allowed = false
				result.Action = ActionBlocked
				result.Reason = fmt.Sprintf("%s budget exceeded", pl.Period)
			}
		case percent >= cfg.WarnThresholdPercent:
			result.Action = ActionWarned
			result.Reason = fmt.Sprintf("%s budget at %.1f%% of limit", pl.Period, percent)
		}

		if result.Action.rank() > worst.Action.rank() {
			worst = result
		} else if worst.Period == "" && result.Action == worst.Action {
			worst = result
		}
	}

	if worst.Action != ActionAllowed {
		s.logger.Warn("Budget check not clean", map[string]interface{}{
			"operation":   "budget_check",
			"tenant_id":   tenantID,
			"action":      string(worst.Action),
			"period":      string(worst.Period),
			"limit_usd":   worst.LimitUsd,
			"current_usd": worst.CurrentSpendUsd,
		})
	}
	return worst, nil
}

// TrackSpend appends a spend record and updates the spend metrics.
func (s *Service) TrackSpend(ctx context.Context, rec SpendRecord) error {
	if rec.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.store.AppendSpend(ctx, &rec); err != nil {
		return core.NewOrchestratorError("budget.TrackSpend", "budget", err)
	}
	s.metrics.Histogram("maestro_spend_usd", rec.CostUsd, map[string]string{
		"tenant_id": rec.TenantID,
		"pipeline":  rec.PipelineName,
		"provider":  rec.Provider,
	})
	s.logger.Debug("Spend tracked", map[string]interface{}{
		"operation":    "spend_tracked",
		"tenant_id":    rec.TenantID,
		"cost_usd":     rec.CostUsd,
		"pipeline":     rec.PipelineName,
		"execution_id": rec.ExecutionID,
	})
	return nil
}

// GetSpendSummary aggregates the tenant's spend for the period containing
// now, broken down by pipeline, provider, and capability.
func (s *Service) GetSpendSummary(ctx context.Context, tenantID string, period Period) (*SpendSummary, error) {
	start := PeriodStart(period, s.now())
	records, err := s.store.SpendSince(ctx, tenantID, start)
	if err != nil {
		return nil, core.NewOrchestratorError("budget.GetSpendSummary", "budget", err)
	}
	summary := &SpendSummary{
		TenantID:     tenantID,
		Period:       period,
		PeriodStart:  start,
		ByPipeline:   make(map[string]float64),
		ByProvider:   make(map[string]float64),
		ByCapability: make(map[string]float64),
	}
	for _, rec := range records {
		summary.TotalUsd += rec.CostUsd
		summary.RecordCount++
		if rec.PipelineName != "" {
			summary.ByPipeline[rec.PipelineName] += rec.CostUsd
		}
		if rec.Provider != "" {
			summary.ByProvider[rec.Provider] += rec.CostUsd
		}
		if rec.Capability != "" {
			summary.ByCapability[rec.Capability] += rec.CostUsd
		}
	}
	return summary, nil
}

// GetBudgetStatus returns the tenant's config with every configured period's
// current standing. Returns ErrBudgetNotConfigured when no config exists.
func (s *Service) GetBudgetStatus(ctx context.Context, tenantID string) (*BudgetStatus, error) {
	cfg, err := s.store.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, core.NewOrchestratorError("budget.GetBudgetStatus", "budget", err)
	}
	if cfg == nil {
		return nil, core.NewOrchestratorError("budget.GetBudgetStatus", "budget",
			core.ErrBudgetNotConfigured)
	}

	now := s.now()
	status := &BudgetStatus{TenantID: tenantID, Config: cfg}
	for _, pl := range cfg.PeriodLimits() {
		records, err := s.store.SpendSince(ctx, tenantID, PeriodStart(pl.Period, now))
		if err != nil {
			return nil, core.NewOrchestratorError("budget.GetBudgetStatus", "budget", err)
		}
		var current float64
		for _, rec := range records {
			current += rec.CostUsd
		}
		status.Periods = append(status.Periods, PeriodStatus{
			Period:          pl.Period,
			LimitUsd:        pl.LimitUsd,
			CurrentSpendUsd: current,
			PercentUsed:     current / pl.LimitUsd * 100,
			RemainingUsd:    pl.LimitUsd - current,
		})
	}
	return status, nil
}
