package capability

import (
	"fmt"
)

// CapabilityMetadata describes one provider's offering of one capability:
// pricing, quality tier, routing priority, and operational hints.
type CapabilityMetadata struct {
	Capability        Capability  `json:"capability" yaml:"capability"`
	ProviderName      string      `json:"provider_name" yaml:"provider_name"`
	CostPerUnit       float64     `json:"cost_per_unit" yaml:"cost_per_unit"`
	OutputCostPerUnit float64     `json:"output_cost_per_unit,omitempty" yaml:"output_cost_per_unit,omitempty"`
	CostUnit          CostUnit    `json:"cost_unit" yaml:"cost_unit"`
	QualityTier       QualityTier `json:"quality_tier" yaml:"quality_tier"`
	// Priority orders providers within a capability. Lower is preferred.
	Priority           int      `json:"priority" yaml:"priority"`
	SupportedLanguages []string `json:"supported_languages,omitempty" yaml:"supported_languages,omitempty"`
	MaxInputSize       int64    `json:"max_input_size,omitempty" yaml:"max_input_size,omitempty"`
	SupportsStreaming  bool     `json:"supports_streaming" yaml:"supports_streaming"`
	ModelName          string   `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	AvgLatencyMs       int64    `json:"avg_latency_ms,omitempty" yaml:"avg_latency_ms,omitempty"`
	RateLimitRPM       int      `json:"rate_limit_rpm,omitempty" yaml:"rate_limit_rpm,omitempty"`
}

// EstimateCost converts provider-reported usage into a dollar amount.
// The formula switches on CostUnit; usage keys it does not need are ignored.
// Zero usage yields zero cost for every unit except PER_REQUEST, which is
// exactly request_count x CostPerUnit.
func (m *CapabilityMetadata) EstimateCost(usage map[string]float64) float64 {
	switch m.CostUnit {
	case Per1KTokens:
		return m.tokenCost(usage, 1_000)
	case Per1MTokens:
		return m.tokenCost(usage, 1_000_000)
	case PerMinute:
		return usage[UsageDurationSecs] / 60 * m.CostPerUnit
	case PerSecond:
		return usage[UsageDurationSecs] * m.CostPerUnit
	case PerCharacter:
		return usage[UsageCharacterCount] * m.CostPerUnit
	case PerRequest:
		return usage[UsageRequestCount] * m.CostPerUnit
	case Free:
		return 0
	default:
		return 0
	}
}

func (m *CapabilityMetadata) tokenCost(usage map[string]float64, per float64) float64 {
	inputRate := m.CostPerUnit
	outputRate := m.OutputCostPerUnit
	if outputRate == 0 {
		outputRate = inputRate
	}
	return usage[UsageInputTokens]/per*inputRate + usage[UsageOutputTokens]/per*outputRate
}

// blendedUnitCost is the routing cost used by cheapest-provider selection.
// For token-based units with a distinct output price, completion tokens are
// weighted at a 3:1 input:output ratio so providers with cheap prompts but
// expensive completions do not win on input price alone. All other units use
// CostPerUnit directly.
func (m *CapabilityMetadata) blendedUnitCost() float64 {
	if (m.CostUnit == Per1KTokens || m.CostUnit == Per1MTokens) && m.OutputCostPerUnit > 0 {
		return (3*m.CostPerUnit + m.OutputCostPerUnit) / 4
	}
	return m.CostPerUnit
}

// ProviderRegistration declares a provider and every capability it offers.
// Created once at startup; IsAvailable is the only field mutated afterwards,
// and only through the registry.
type ProviderRegistration struct {
	ProviderName   string               `json:"provider_name" yaml:"provider_name"`
	ProviderType   ProviderType         `json:"provider_type" yaml:"provider_type"`
	Capabilities   []CapabilityMetadata `json:"capabilities" yaml:"capabilities"`
	IsAvailable    bool                 `json:"is_available" yaml:"is_available"`
	RequiresAPIKey bool                 `json:"requires_api_key" yaml:"requires_api_key"`
	HealthCheckURL string               `json:"health_check_url,omitempty" yaml:"health_check_url,omitempty"`
}

// Validate checks the registration invariants: a non-empty name and every
// inner capability carrying the same provider name.
func (r *ProviderRegistration) Validate() error {
	if r.ProviderName == "" {
		return fmt.Errorf("provider name is required")
	}
	for i := range r.Capabilities {
		if r.Capabilities[i].ProviderName != r.ProviderName {
			return fmt.Errorf("capability %s declares provider %q, registration is for %q",
				r.Capabilities[i].Capability, r.Capabilities[i].ProviderName, r.ProviderName)
		}
	}
	return nil
}

// Metadata returns the metadata for cap, or nil when the provider does not
// offer it.
func (r *ProviderRegistration) Metadata(cap Capability) *CapabilityMetadata {
	for i := range r.Capabilities {
		if r.Capabilities[i].Capability == cap {
			return &r.Capabilities[i]
		}
	}
	return nil
}

// Offers reports whether the provider offers cap.
func (r *ProviderRegistration) Offers(cap Capability) bool {
	return r.Metadata(cap) != nil
}
