package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreConfigRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	cfg, err := store.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, store.SetConfig(ctx, &Config{
		TenantID:             "t1",
		DailyLimitUsd:        10,
		MonthlyLimitUsd:      200,
		WarnThresholdPercent: 85,
		Policy:               PolicySoftBlock,
		Enabled:              true,
	}))

	got, err := store.GetConfig(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, 10.0, got.DailyLimitUsd)
	assert.Equal(t, 200.0, got.MonthlyLimitUsd)
	assert.Equal(t, PolicySoftBlock, got.Policy)
	assert.True(t, got.Enabled)

	// Upsert overwrites.
	require.NoError(t, store.SetConfig(ctx, &Config{TenantID: "t1", DailyLimitUsd: 5, Enabled: false}))
	got, err = store.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.DailyLimitUsd)
	assert.False(t, got.Enabled)
}

func TestRedisStoreSpendSince(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, rec := range []*SpendRecord{
		{ID: "r1", TenantID: "t1", CostUsd: 0.10, Timestamp: now.Add(-3 * time.Hour)},
		{ID: "r2", TenantID: "t1", CostUsd: 0.20, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "r3", TenantID: "t1", CostUsd: 0.30, Timestamp: now.Add(-time.Hour)},
		{ID: "r4", TenantID: "t2", CostUsd: 0.40, Timestamp: now.Add(-time.Hour)},
	} {
		require.NoError(t, store.AppendSpend(ctx, rec), "record %d", i)
	}

	records, err := store.SpendSince(ctx, "t1", now.Add(-150*time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Sorted-set scores keep records ordered oldest first.
	assert.Equal(t, "r2", records[0].ID)
	assert.Equal(t, "r3", records[1].ID)

	all, err := store.SpendSince(ctx, "t1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.SpendSince(ctx, "t3", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisStoreRetentionTrim(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendSpend(ctx, &SpendRecord{
		ID: "stale", TenantID: "t1", CostUsd: 1.00,
		Timestamp: now.Add(-60 * 24 * time.Hour),
	}))
	// Appending a fresh record trims anything past the retention window.
	require.NoError(t, store.AppendSpend(ctx, &SpendRecord{
		ID: "fresh", TenantID: "t1", CostUsd: 0.50, Timestamp: now,
	}))

	records, err := store.SpendSince(ctx, "t1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].ID)
}
