package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voxlane/maestro/core"
)

// Registry indexes provider registrations and adapter factories by name and
// by capability. Registration happens at startup; reads are hot-path and
// guarded by a RWMutex so runtime availability flips are atomic to readers.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]*ProviderRegistration
	byCapability map[Capability][]string
	factories    map[string]AdapterFactory
	logger       core.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		providers:    make(map[string]*ProviderRegistration),
		byCapability: make(map[Capability][]string),
		factories:    make(map[string]AdapterFactory),
		logger:       logger,
	}
}

// RegisterProvider registers or replaces a provider. Idempotent by provider
// name: re-registration replaces the previous registration and rebuilds the
// capability index. The factory may be nil for registrations that are only
// routed around (e.g. in tests).
func (r *Registry) RegisterProvider(reg *ProviderRegistration, factory AdapterFactory) error {
	if reg == nil {
		return fmt.Errorf("registration cannot be nil")
	}
	if err := reg.Validate(); err != nil {
		return core.NewOrchestratorError("registry.RegisterProvider", "registry", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[reg.ProviderName]; exists {
		r.removeFromIndexLocked(reg.ProviderName)
	}

	r.providers[reg.ProviderName] = reg
	if factory != nil {
		r.factories[reg.ProviderName] = factory
	}
	for i := range reg.Capabilities {
		cap := reg.Capabilities[i].Capability
		r.byCapability[cap] = append(r.byCapability[cap], reg.ProviderName)
	}

	r.logger.Info("Provider registered", map[string]interface{}{
		"operation":    "provider_registered",
		"provider":     reg.ProviderName,
		"type":         string(reg.ProviderType),
		"capabilities": len(reg.Capabilities),
		"has_factory":  factory != nil,
	})
	return nil
}

func (r *Registry) removeFromIndexLocked(name string) {
	for cap, names := range r.byCapability {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(r.byCapability, cap)
		} else {
			r.byCapability[cap] = kept
		}
	}
}

// GetProvider returns a registration by name.
func (r *Registry) GetProvider(name string) (*ProviderRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[name]
	return reg, ok
}

// GetAllProviders returns every registration, sorted by provider name.
func (r *Registry) GetAllProviders() []*ProviderRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ProviderRegistration, 0, len(r.providers))
	for _, reg := range r.providers {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })
	return out
}

// GetAllCapabilities returns every capability at least one provider offers.
func (r *Registry) GetAllCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.byCapability))
	for cap := range r.byCapability {
		out = append(out, cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProviderQuery filters GetProvidersForCapability.
type ProviderQuery struct {
	MinQualityTier     QualityTier
	ExcludeProviders   []string
	IncludeUnavailable bool
}

// GetProvidersForCapability returns registrations offering cap, sorted by
// priority ascending with provider name as the deterministic tie-break.
// Unavailable providers are filtered out unless IncludeUnavailable is set.
func (r *Registry) GetProvidersForCapability(cap Capability, q ProviderQuery) []*ProviderRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := make(map[string]bool, len(q.ExcludeProviders))
	for _, name := range q.ExcludeProviders {
		excluded[name] = true
	}

	var out []*ProviderRegistration
	for _, name := range r.byCapability[cap] {
		reg := r.providers[name]
		if reg == nil || excluded[name] {
			continue
		}
		if !reg.IsAvailable && !q.IncludeUnavailable {
			continue
		}
		meta := reg.Metadata(cap)
		if meta == nil {
			continue
		}
		if q.MinQualityTier != "" && !meta.QualityTier.AtLeast(q.MinQualityTier) {
			continue
		}
		out = append(out, reg)
	}

	sort.Slice(out, func(i, j int) bool {
		pi := out[i].Metadata(cap).Priority
		pj := out[j].Metadata(cap).Priority
		if pi != pj {
			return pi < pj
		}
		return out[i].ProviderName < out[j].ProviderName
	})
	return out
}

// GetCheapestProvider returns the available provider with the lowest blended
// unit cost for cap at or above minQualityTier. Token-based offerings with a
// distinct output price are compared on a 3:1 input:output blend; everything
// else compares on CostPerUnit directly.
func (r *Registry) GetCheapestProvider(cap Capability, minQualityTier QualityTier, excludeProviders []string) (*ProviderRegistration, bool) {
	if minQualityTier == "" {
		minQualityTier = TierEconomy
	}
	candidates := r.GetProvidersForCapability(cap, ProviderQuery{
		MinQualityTier:   minQualityTier,
		ExcludeProviders: excludeProviders,
	})
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	bestCost := best.Metadata(cap).blendedUnitCost()
	for _, reg := range candidates[1:] {
		if c := reg.Metadata(cap).blendedUnitCost(); c < bestCost {
			best, bestCost = reg, c
		}
	}
	return best, true
}

// FallbackOptions configure BuildFallbackChain.
type FallbackOptions struct {
	Primary           string
	MaxFallbacks      int
	ExcludeProviders  []string
	PreferSameQuality bool
}

// BuildFallbackChain produces the ordered list of provider names a step will
// try. The primary leads the chain when it is registered, available, and
// offers cap; remaining providers follow in priority order, optionally
// re-sorted so providers sharing the primary's quality tier come first. The
// chain is truncated to MaxFallbacks entries after the primary.
func (r *Registry) BuildFallbackChain(cap Capability, opts FallbackOptions) []string {
	var chain []string
	var primaryTier QualityTier

	exclude := append([]string(nil), opts.ExcludeProviders...)

	if opts.Primary != "" {
		if reg, ok := r.GetProvider(opts.Primary); ok && reg.IsAvailable {
			if meta := reg.Metadata(cap); meta != nil {
				chain = append(chain, opts.Primary)
				primaryTier = meta.QualityTier
				exclude = append(exclude, opts.Primary)
			}
		}
	}

	rest := r.GetProvidersForCapability(cap, ProviderQuery{ExcludeProviders: exclude})

	if opts.PreferSameQuality && primaryTier != "" {
		// Stable partition: same-tier providers first, priority order kept
		// within each partition.
		sort.SliceStable(rest, func(i, j int) bool {
			si := rest[i].Metadata(cap).QualityTier == primaryTier
			sj := rest[j].Metadata(cap).QualityTier == primaryTier
			return si && !sj
		})
	}

	max := opts.MaxFallbacks
	if max < 0 {
		max = 0
	}
	limit := len(chain) + max // primary (if chosen) plus maxFallbacks entries
	for _, reg := range rest {
		if len(chain) >= limit {
			break
		}
		chain = append(chain, reg.ProviderName)
	}
	return chain
}

// CreateAdapter invokes the stored factory for a provider. Fails when the
// provider is unknown or was registered without a factory.
func (r *Registry) CreateAdapter(providerName string, cfg AdapterConfig) (Adapter, error) {
	r.mu.RLock()
	_, known := r.providers[providerName]
	factory := r.factories[providerName]
	r.mu.RUnlock()

	if !known {
		return nil, core.NewOrchestratorError("registry.CreateAdapter", "registry",
			fmt.Errorf("%w: %s", core.ErrProviderNotFound, providerName))
	}
	if factory == nil {
		return nil, core.NewOrchestratorError("registry.CreateAdapter", "registry",
			fmt.Errorf("%w: %s", core.ErrNoFactoryRegistered, providerName))
	}
	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	return factory(cfg)
}

// EstimateCost delegates to the provider's capability metadata.
func (r *Registry) EstimateCost(cap Capability, providerName string, usage map[string]float64) (float64, error) {
	reg, ok := r.GetProvider(providerName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrProviderNotFound, providerName)
	}
	meta := reg.Metadata(cap)
	if meta == nil {
		return 0, fmt.Errorf("%w: %s does not offer %s", core.ErrCapabilityNotOffered, providerName, cap)
	}
	return meta.EstimateCost(usage), nil
}

// MarkProviderUnavailable flips the availability flag off. Subsequent
// fallback chains skip the provider.
func (r *Registry) MarkProviderUnavailable(name string) {
	r.setAvailability(name, false)
}

// MarkProviderAvailable flips the availability flag back on.
func (r *Registry) MarkProviderAvailable(name string) {
	r.setAvailability(name, true)
}

func (r *Registry) setAvailability(name string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.providers[name]
	if !ok || reg.IsAvailable == available {
		return
	}
	reg.IsAvailable = available
	r.logger.Warn("Provider availability changed", map[string]interface{}{
		"operation": "provider_availability",
		"provider":  name,
		"available": available,
	})
}
