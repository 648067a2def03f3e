package capability

import (
	"context"
	"time"

	"github.com/voxlane/maestro/core"
)

// Adapter is the uniform wrapper around one provider. Implementations must
// be safe for concurrent use and must never return operation failures as
// panics; everything becomes an OperationResult.
type Adapter interface {
	// Execute dispatches one capability invocation. Operation failures are
	// reported inside the result (Success=false), never as a panic, so the
	// executor can decide retry and fallback.
	Execute(ctx context.Context, cap Capability, input interface{}, options map[string]interface{}) *OperationResult

	// HealthCheck reports whether the provider is reachable. Implementations
	// may ping the provider or simply verify client construction.
	HealthCheck(ctx context.Context) bool

	// Registration returns the provider's declared capabilities and metadata.
	Registration() *ProviderRegistration
}

// AdapterConfig carries the per-call overrides an AdapterFactory receives.
// API keys and models are per-call so one registry serves many tenants.
type AdapterConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	Logger    core.Logger
	Telemetry core.Telemetry
}

// AdapterFactory creates adapter instances lazily. Registered alongside a
// ProviderRegistration so adapters are constructed with per-call credentials
// rather than held for the process lifetime.
type AdapterFactory func(cfg AdapterConfig) (Adapter, error)
