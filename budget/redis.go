package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	configKeyPrefix = "maestro:budget:config:"
	spendKeyPrefix  = "maestro:budget:spend:"

	// spendRetention bounds the sorted sets; monthly is the longest period,
	// so anything older than ~45 days can never affect a check.
	spendRetention = 45 * 24 * time.Hour
)

// RedisStore implements Store on Redis so multiple orchestrator replicas
// share budget state. Configs are JSON values; spend records live in a
// per-tenant sorted set scored by timestamp, which makes SpendSince one
// ZRANGEBYSCORE.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed budget store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetConfig(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling budget config: %w", err)
	}
	if err := s.client.Set(ctx, configKeyPrefix+cfg.TenantID, data, 0).Err(); err != nil {
		return fmt.Errorf("saving budget config: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConfig(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.client.Get(ctx, configKeyPrefix+tenantID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading budget config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling budget config: %w", err)
	}
	return &cfg, nil
}

func (s *RedisStore) AppendSpend(ctx context.Context, rec *SpendRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling spend record: %w", err)
	}
	key := spendKeyPrefix + rec.TenantID
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{
			Score:  float64(rec.Timestamp.UnixNano()),
			Member: data,
		})
		cutoff := time.Now().UTC().Add(-spendRetention).UnixNano()
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending spend record: %w", err)
	}
	return nil
}

func (s *RedisStore) SpendSince(ctx context.Context, tenantID string, since time.Time) ([]*SpendRecord, error) {
	members, err := s.client.ZRangeByScore(ctx, spendKeyPrefix+tenantID, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("querying spend records: %w", err)
	}
	out := make([]*SpendRecord, 0, len(members))
	for _, m := range members {
		var rec SpendRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling spend record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
