// Package budget enforces per-tenant spending limits: pre-flight checks
// before a pipeline runs, post-flight spend tracking, and period summaries.
// Budget state lives behind the Store interface; the in-memory store serves
// single-process deployments and the Redis store shares state across
// replicas.
package budget

import (
	"time"
)

// Period is a budget accounting window.
type Period string

const (
	PeriodHourly  Period = "HOURLY"
	PeriodDaily   Period = "DAILY"
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
)

// PeriodStart returns the UTC start of the period containing now.
// Weeks start Monday 00:00 UTC; months on the first.
func PeriodStart(p Period, now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodHourly:
		return now.Truncate(time.Hour)
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // days since Monday
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Policy decides what an exceeded budget does to new executions.
type Policy string

const (
	// PolicyWarn lets executions through with a warning.
	PolicyWarn Policy = "WARN"
	// PolicySoftBlock blocks new executions but allows explicit overrides.
	PolicySoftBlock Policy = "SOFT_BLOCK"
	// PolicyHardBlock blocks new executions unconditionally.
	PolicyHardBlock Policy = "HARD_BLOCK"
)

// Action is the outcome of a budget check.
type Action string

const (
	ActionAllowed Action = "ALLOWED"
	ActionWarned  Action = "WARNED"
	ActionBlocked Action = "BLOCKED"
)

func (a Action) rank() int {
	switch a {
	case ActionBlocked:
		return 2
	case ActionWarned:
		return 1
	default:
		return 0
	}
}

// DefaultWarnThresholdPercent is the warn threshold applied when a config
// leaves it unset.
const DefaultWarnThresholdPercent = 80

// Config is one tenant's budget policy. Limits of zero mean the period is
// not budgeted.
type Config struct {
	TenantID             string  `json:"tenant_id"`
	DailyLimitUsd        float64 `json:"daily_limit_usd,omitempty"`
	WeeklyLimitUsd       float64 `json:"weekly_limit_usd,omitempty"`
	MonthlyLimitUsd      float64 `json:"monthly_limit_usd,omitempty"`
	WarnThresholdPercent float64 `json:"warn_threshold_percent"`
	Policy               Policy  `json:"policy"`
	Enabled              bool    `json:"enabled"`
}

// PeriodLimits pairs each configured period with its limit, in check order.
func (c *Config) PeriodLimits() []PeriodLimit {
	var out []PeriodLimit
	if c.DailyLimitUsd > 0 {
		out = append(out, PeriodLimit{PeriodDaily, c.DailyLimitUsd})
	}
	if c.WeeklyLimitUsd > 0 {
		out = append(out, PeriodLimit{PeriodWeekly, c.WeeklyLimitUsd})
	}
	if c.MonthlyLimitUsd > 0 {
		out = append(out, PeriodLimit{PeriodMonthly, c.MonthlyLimitUsd})
	}
	return out
}

// PeriodLimit is one configured (period, limit) pair.
type PeriodLimit struct {
	Period   Period  `json:"period"`
	LimitUsd float64 `json:"limit_usd"`
}

// SpendRecord is one tracked expenditure.
type SpendRecord struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	CostUsd      float64                `json:"cost_usd"`
	PipelineName string                 `json:"pipeline_name,omitempty"`
	ExecutionID  string                 `json:"execution_id,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	Capability   string                 `json:"capability,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// CheckResult is the outcome of a pre-flight budget check. When multiple
// periods are configured it reflects the worst one.
type CheckResult struct {
	Allowed          bool    `json:"allowed"`
	Action           Action  `json:"action"`
	Period           Period  `json:"period,omitempty"`
	LimitUsd         float64 `json:"limit_usd,omitempty"`
	CurrentSpendUsd  float64 `json:"current_spend_usd"`
	ProjectedUsd     float64 `json:"projected_usd"`
	PercentUsed      float64 `json:"percent_used"`
	Reason           string  `json:"reason,omitempty"`
	EstimatedCostUsd float64 `json:"estimated_cost_usd,omitempty"`
}

// SpendSummary aggregates a tenant's spend for one period.
type SpendSummary struct {
	TenantID     string             `json:"tenant_id"`
	Period       Period             `json:"period"`
	PeriodStart  time.Time          `json:"period_start"`
	TotalUsd     float64            `json:"total_usd"`
	RecordCount  int                `json:"record_count"`
	ByPipeline   map[string]float64 `json:"by_pipeline"`
	ByProvider   map[string]float64 `json:"by_provider"`
	ByCapability map[string]float64 `json:"by_capability"`
}

// PeriodStatus is one period's standing inside a BudgetStatus.
type PeriodStatus struct {
	Period          Period  `json:"period"`
	LimitUsd        float64 `json:"limit_usd"`
	CurrentSpendUsd float64 `json:"current_spend_usd"`
	PercentUsed     float64 `json:"percent_used"`
	RemainingUsd    float64 `json:"remaining_usd"`
}

// BudgetStatus is the full standing of a tenant's budget.
type BudgetStatus struct {
	TenantID string         `json:"tenant_id"`
	Config   *Config        `json:"config"`
	Periods  []PeriodStatus `json:"periods"`
}
