package budget

import (
	"context"
	"sync"
	"time"
)

// Store abstracts budget persistence. The in-memory implementation serves
// tests and single-process deployments; RedisStore shares state across
// replicas. GetConfig returns (nil, nil) when no config exists.
type Store interface {
	SetConfig(ctx context.Context, cfg *Config) error
	GetConfig(ctx context.Context, tenantID string) (*Config, error)
	AppendSpend(ctx context.Context, rec *SpendRecord) error
	// SpendSince returns the tenant's records at or after since, oldest first.
	SpendSince(ctx context.Context, tenantID string, since time.Time) ([]*SpendRecord, error)
}

// MemoryStore is the in-process reference store: a config map and an
// append-only record list per tenant, behind one mutex. Reads take the same
// lock for consistent snapshots.
type MemoryStore struct {
	mu      sync.Mutex
	configs map[string]*Config
	records map[string][]*SpendRecord
}

// NewMemoryStore creates an empty in-memory budget store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[string]*Config),
		records: make(map[string][]*SpendRecord),
	}
}

func (s *MemoryStore) SetConfig(_ context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.configs[cfg.TenantID] = &copied
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context, tenantID string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, nil
	}
	copied := *cfg
	return &copied, nil
}

func (s *MemoryStore) AppendSpend(_ context.Context, rec *SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TenantID] = append(s.records[rec.TenantID], rec)
	return nil
}

func (s *MemoryStore) SpendSince(_ context.Context, tenantID string, since time.Time) ([]*SpendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SpendRecord
	for _, rec := range s.records[tenantID] {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}
