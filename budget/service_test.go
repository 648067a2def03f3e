package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/maestro/core"
)

func TestPeriodStart(t *testing.T) {
	// Saturday, 2026-03-14 09:26:53 UTC.
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), PeriodStart(PeriodHourly, now))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodDaily, now))
	// Weeks start Monday 00:00 UTC; the preceding Monday is March 9.
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodWeekly, now))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodMonthly, now))

	// A Monday is its own week start.
	monday := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodWeekly, monday))
	// A Sunday belongs to the week that started six days earlier.
	sunday := time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodWeekly, sunday))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore(), nil, nil)
	svc.now = func() time.Time {
		return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func spend(t *testing.T, svc *Service, tenant string, cost float64, ts time.Time) {
	t.Helper()
	require.NoError(t, svc.TrackSpend(context.Background(), SpendRecord{
		TenantID:     tenant,
		CostUsd:      cost,
		PipelineName: "transcription",
		Provider:     "deepgram",
		Capability:   "TRANSCRIPTION",
		Timestamp:    ts,
	}))
}

func TestSetBudgetDefaults(t *testing.T) {
	svc := newTestService(t)
	require.Error(t, svc.SetBudget(context.Background(), Config{}))

	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Enabled:       true,
	}))
	cfg, err := svc.store.GetConfig(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultWarnThresholdPercent), cfg.WarnThresholdPercent)
	assert.Equal(t, PolicyWarn, cfg.Policy)
}

func TestCheckBudgetNoConfig(t *testing.T) {
	svc := newTestService(t)
	check, err := svc.CheckBudget(context.Background(), "unknown", 1.0)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, ActionAllowed, check.Action)
	assert.Equal(t, "no budget configured", check.Reason)
}

func TestCheckBudgetDisabledConfig(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 0.01,
		Policy:        PolicyHardBlock,
		Enabled:       false,
	}))
	check, err := svc.CheckBudget(context.Background(), "t1", 100)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestCheckBudgetHardBlock(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Policy:        PolicyHardBlock,
		Enabled:       true,
	}))
	spend(t, svc, "t1", 9.50, svc.now().Add(-time.Hour))

	check, err := svc.CheckBudget(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, ActionBlocked, check.Action)
	assert.Equal(t, PeriodDaily, check.Period)
	assert.InDelta(t, 9.50, check.CurrentSpendUsd, 1e-9)
	assert.InDelta(t, 10.50, check.ProjectedUsd, 1e-9)
}

func TestCheckBudgetHardBlockAtExactLimit(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Policy:        PolicyHardBlock,
		Enabled:       true,
	}))
	spend(t, svc, "t1", 10.00, svc.now().Add(-time.Hour))

	// Spend already at the limit blocks even a zero-cost estimate.
	check, err := svc.CheckBudget(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, ActionBlocked, check.Action)
	assert.InDelta(t, 10.00, check.CurrentSpendUsd, 1e-9)
}

func TestCheckBudgetWarnPolicyNeverBlocks(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Policy:        PolicyWarn,
		Enabled:       true,
	}))
	spend(t, svc, "t1", 50, svc.now().Add(-time.Hour))

	check, err := svc.CheckBudget(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, ActionWarned, check.Action)
}

func TestCheckBudgetWarnThreshold(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Policy:        PolicyHardBlock,
		Enabled:       true,
	}))
	spend(t, svc, "t1", 7.50, svc.now().Add(-time.Hour))

	// 7.50 + 1.00 = 85% of the limit: warned, still allowed.
	check, err := svc.CheckBudget(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, ActionWarned, check.Action)

	// Below the threshold nothing fires.
	check, err = svc.CheckBudget(context.Background(), "t1", 0.01)
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, check.Action)
}

func TestCheckBudgetWorstPeriodWins(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:        "t1",
		DailyLimitUsd:   100, // plenty of headroom today
		MonthlyLimitUsd: 20,  // blown for the month
		Policy:          PolicySoftBlock,
		Enabled:         true,
	}))
	// Spend earlier in the month, outside today's window.
	spend(t, svc, "t1", 25, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	check, err := svc.CheckBudget(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, PeriodMonthly, check.Period)
}

func TestCheckBudgetIgnoresSpendOutsidePeriod(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:      "t1",
		DailyLimitUsd: 10,
		Policy:        PolicyHardBlock,
		Enabled:       true,
	}))
	// Yesterday's spend does not count against today.
	spend(t, svc, "t1", 100, time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC))

	check, err := svc.CheckBudget(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 0.0, check.CurrentSpendUsd)
}

func TestTrackSpendFillsDefaults(t *testing.T) {
	svc := newTestService(t)
	require.Error(t, svc.TrackSpend(context.Background(), SpendRecord{}))

	require.NoError(t, svc.TrackSpend(context.Background(), SpendRecord{
		TenantID: "t1",
		CostUsd:  0.05,
	}))
	records, err := svc.store.SpendSince(context.Background(), "t1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestGetSpendSummary(t *testing.T) {
	svc := newTestService(t)
	base := svc.now().Add(-time.Hour)
	for i, rec := range []SpendRecord{
		{TenantID: "t1", CostUsd: 0.10, PipelineName: "transcription", Provider: "deepgram", Capability: "TRANSCRIPTION"},
		{TenantID: "t1", CostUsd: 0.30, PipelineName: "call_analysis", Provider: "deepgram", Capability: "TRANSCRIPTION_DIARIZATION"},
		{TenantID: "t1", CostUsd: 0.20, PipelineName: "call_analysis", Provider: "anthropic", Capability: "SUMMARIZATION"},
	} {
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.TrackSpend(context.Background(), rec))
	}

	summary, err := svc.GetSpendSummary(context.Background(), "t1", PeriodDaily)
	require.NoError(t, err)
	assert.InDelta(t, 0.60, summary.TotalUsd, 1e-9)
	assert.Equal(t, 3, summary.RecordCount)
	assert.InDelta(t, 0.50, summary.ByPipeline["call_analysis"], 1e-9)
	assert.InDelta(t, 0.40, summary.ByProvider["deepgram"], 1e-9)
	assert.InDelta(t, 0.20, summary.ByCapability["SUMMARIZATION"], 1e-9)
}

func TestGetBudgetStatus(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetBudgetStatus(context.Background(), "unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBudgetNotConfigured)

	require.NoError(t, svc.SetBudget(context.Background(), Config{
		TenantID:        "t1",
		DailyLimitUsd:   10,
		MonthlyLimitUsd: 100,
		Enabled:         true,
	}))
	spend(t, svc, "t1", 2.50, svc.now().Add(-time.Hour))

	status, err := svc.GetBudgetStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, status.Periods, 2)

	daily := status.Periods[0]
	assert.Equal(t, PeriodDaily, daily.Period)
	assert.InDelta(t, 2.50, daily.CurrentSpendUsd, 1e-9)
	assert.InDelta(t, 25.0, daily.PercentUsed, 1e-9)
	assert.InDelta(t, 7.50, daily.RemainingUsd, 1e-9)
}

func TestMemoryStoreCopiesConfig(t *testing.T) {
	store := NewMemoryStore()
	cfg := &Config{TenantID: "t1", DailyLimitUsd: 10, Enabled: true}
	require.NoError(t, store.SetConfig(context.Background(), cfg))

	cfg.DailyLimitUsd = 999
	got, err := store.GetConfig(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.DailyLimitUsd)

	got.DailyLimitUsd = 555
	again, err := store.GetConfig(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.DailyLimitUsd)
}
