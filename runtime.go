package maestro

import (
	"github.com/voxlane/maestro/budget"
	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
	"github.com/voxlane/maestro/events"
	"github.com/voxlane/maestro/pipeline"
	"github.com/voxlane/maestro/providers/anthropic"
	"github.com/voxlane/maestro/providers/deepgram"
	"github.com/voxlane/maestro/providers/openai"
	"github.com/voxlane/maestro/providers/piishield"
	"github.com/voxlane/maestro/saga"
)

// RuntimeConfig configures NewRuntime. Zero values select in-memory stores
// and no-op observability.
type RuntimeConfig struct {
	Logger    core.Logger
	Telemetry core.Telemetry
	Metrics   core.Metrics
	// BudgetStore persists tenant budgets and spend. Defaults to the
	// in-memory store; pass budget.NewRedisStore for shared state.
	BudgetStore budget.Store
	// Events tunes the in-memory event store.
	Events events.StoreConfig
	// RegisterDefaults controls whether the built-in providers (OpenAI,
	// Anthropic, Deepgram, PII Shield) are registered at startup.
	RegisterDefaults bool
}

// Runtime owns one fully wired orchestrator stack. There are no package
// globals; embedders create a Runtime, register any extra providers on
// Registry, and serve Orchestrator.
type Runtime struct {
	Registry     *capability.Registry
	Executor     *pipeline.Executor
	Saga         *saga.Coordinator
	Events       *events.Store
	Budget       *budget.Service
	Orchestrator *Orchestrator
}

// NewRuntime wires registry, executor, saga coordinator, event store, budget
// service, and the orchestrator façade from one config.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	budgetStore := cfg.BudgetStore
	if budgetStore == nil {
		budgetStore = budget.NewMemoryStore()
	}

	registry := capability.NewRegistry(logger)
	if cfg.RegisterDefaults {
		if err := RegisterDefaultProviders(registry); err != nil {
			return nil, err
		}
	}

	eventStore := events.NewStore(cfg.Events, logger)
	executor := pipeline.NewExecutor(registry, logger, telemetry)
	coordinator := saga.NewCoordinator(executor, eventStore, logger, telemetry)
	budgetSvc := budget.NewService(budgetStore, logger, metrics)

	return &Runtime{
		Registry:     registry,
		Executor:     executor,
		Saga:         coordinator,
		Events:       eventStore,
		Budget:       budgetSvc,
		Orchestrator: NewOrchestrator(coordinator, eventStore, budgetSvc, logger, telemetry, metrics),
	}, nil
}

// RegisterDefaultProviders registers the built-in provider adapters.
func RegisterDefaultProviders(registry *capability.Registry) error {
	defaults := []struct {
		reg     *capability.ProviderRegistration
		factory capability.AdapterFactory
	}{
		{openai.Registration(), openai.Factory},
		{anthropic.Registration(), anthropic.Factory},
		{deepgram.Registration(), deepgram.Factory},
		{piishield.Registration(), piishield.Factory},
	}
	for _, d := range defaults {
		if err := registry.RegisterProvider(d.reg, d.factory); err != nil {
			return err
		}
	}
	return nil
}
