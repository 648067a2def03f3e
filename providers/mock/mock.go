// Package mock provides a scriptable in-memory adapter for tests and local
// development: fixed results, per-call scripts, and a full call log.
package mock

import (
	"context"
	"sync"

	"github.com/voxlane/maestro/capability"
)

// Call records one Execute invocation.
type Call struct {
	Capability capability.Capability
	Input      interface{}
	Options    map[string]interface{}
}

// Adapter is a scriptable capability adapter. Results are served from
// per-capability queues first, then the Handler, then a default success.
// Safe for concurrent use.
type Adapter struct {
	name         string
	registration *capability.ProviderRegistration

	mu      sync.Mutex
	queues  map[capability.Capability][]*capability.OperationResult
	calls   []Call
	healthy bool

	// Handler, when set, computes results for calls with no queued script.
	Handler func(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult
}

// New creates a mock adapter offering the given capabilities at priority 1,
// STANDARD tier, one cent per request.
func New(name string, caps ...capability.Capability) *Adapter {
	metadata := make([]capability.CapabilityMetadata, 0, len(caps))
	for _, c := range caps {
		metadata = append(metadata, capability.CapabilityMetadata{
			Capability:   c,
			ProviderName: name,
			CostPerUnit:  0.01,
			CostUnit:     capability.PerRequest,
			QualityTier:  capability.TierStandard,
			Priority:     1,
		})
	}
	return NewWithRegistration(&capability.ProviderRegistration{
		ProviderName: name,
		ProviderType: capability.ProviderInternal,
		IsAvailable:  true,
		Capabilities: metadata,
	})
}

// NewWithRegistration creates a mock adapter with an explicit registration,
// for tests that need specific pricing, tiers, or priorities.
func NewWithRegistration(reg *capability.ProviderRegistration) *Adapter {
	return &Adapter{
		name:         reg.ProviderName,
		registration: reg,
		queues:       make(map[capability.Capability][]*capability.OperationResult),
		healthy:      true,
	}
}

// Factory returns an AdapterFactory that always hands out this instance,
// so tests can script and inspect the adapter the executor uses.
func (a *Adapter) Factory() capability.AdapterFactory {
	return func(capability.AdapterConfig) (capability.Adapter, error) {
		return a, nil
	}
}

// Enqueue scripts results for a capability, served in order.
func (a *Adapter) Enqueue(cap capability.Capability, results ...*capability.OperationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues[cap] = append(a.queues[cap], results...)
}

// SetHealthy controls the HealthCheck return.
func (a *Adapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// Calls returns a copy of the call log.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallCount returns the number of Execute invocations so far.
func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Capability: cap, Input: input, Options: options})
	var scripted *capability.OperationResult
	if q := a.queues[cap]; len(q) > 0 {
		scripted = q[0]
		a.queues[cap] = q[1:]
	}
	a.mu.Unlock()

	if scripted != nil {
		return scripted
	}
	if a.Handler != nil {
		return a.Handler(ctx, cap, input, options)
	}
	return capability.Succeeded(a.name, cap,
		map[string]interface{}{"mock": true},
		map[string]float64{capability.UsageRequestCount: 1}, 0.01)
}

var _ capability.Adapter = (*Adapter)(nil)
