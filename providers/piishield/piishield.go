// Package piishield adapts the in-cluster PII service to the
// capability.Adapter contract. The service is internal and free, so it is
// registered at priority 1 for both PII capabilities; external LLM providers
// only see text after redaction has run.
package piishield

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/providers"
)

// Name is the registry name of this provider.
const Name = "piishield"

const defaultBaseURL = "http://piishield.internal:8080"

// Registration declares the PII service's capabilities. Both are FREE;
// nothing is billed for in-cluster calls.
func Registration() *capability.ProviderRegistration {
	return &capability.ProviderRegistration{
		ProviderName:   Name,
		ProviderType:   capability.ProviderInternal,
		IsAvailable:    true,
		RequiresAPIKey: false,
		HealthCheckURL: defaultBaseURL + "/healthz",
		Capabilities: []capability.CapabilityMetadata{
			{
				Capability:   capability.PIIDetection,
				ProviderName: Name,
				CostUnit:     capability.Free,
				QualityTier:  capability.TierStandard,
				Priority:     1,
			},
			{
				Capability:   capability.PIIRedaction,
				ProviderName: Name,
				CostUnit:     capability.Free,
				QualityTier:  capability.TierStandard,
				Priority:     1,
			},
		},
	}
}

// Factory builds PII service adapters for the registry.
func Factory(cfg capability.AdapterConfig) (capability.Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		BaseClient:   providers.NewBaseClient(baseURL, cfg.Timeout, cfg.Logger, cfg.Telemetry),
		registration: Registration(),
	}, nil
}

// Adapter is the PII service capability adapter.
type Adapter struct {
	*providers.BaseClient
	registration *capability.ProviderRegistration
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

// HealthCheck probes the service's health endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	switch cap {
	case capability.PIIDetection:
		return a.call(ctx, cap, "/v1/detect", input, options)
	case capability.PIIRedaction:
		return a.call(ctx, cap, "/v1/redact", input, options)
	default:
		return providers.Unsupported(Name, cap)
	}
}

type piiRequest struct {
	Text     string   `json:"text"`
	Entities []string `json:"entities,omitempty"`
	Language string   `json:"language,omitempty"`
	Mask     string   `json:"mask,omitempty"`
}

type piiResponse struct {
	RedactedText string `json:"redacted_text,omitempty"`
	Entities     []struct {
		Type  string  `json:"type"`
		Text  string  `json:"text"`
		Start int     `json:"start"`
		End   int     `json:"end"`
		Score float64 `json:"score"`
	} `json:"entities"`
}

func (a *Adapter) call(ctx context.Context, cap capability.Capability, path string, input interface{}, options map[string]interface{}) *capability.OperationResult {
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}

	req := piiRequest{
		Text:     text,
		Language: providers.StringOption(options, "language", ""),
		Mask:     providers.StringOption(options, "mask", ""),
	}
	if raw, ok := options["entities"].([]string); ok {
		req.Entities = raw
	} else if raw, ok := options["entities"].([]interface{}); ok {
		for _, e := range raw {
			if s, ok := e.(string); ok {
				req.Entities = append(req.Entities, s)
			}
		}
	}

	resp, err := a.PostJSON(ctx, a.BaseURL+path, nil, req)
	if err != nil || resp.Status != http.StatusOK {
		return providers.Failure(Name, cap, resp, err)
	}
	var pr piiResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return capability.Failed(Name, cap, fmt.Sprintf("decoding response: %v", err),
			capability.ErrCodeException, true)
	}

	entities := make([]map[string]interface{}, 0, len(pr.Entities))
	for _, e := range pr.Entities {
		entities = append(entities, map[string]interface{}{
			"type":  e.Type,
			"text":  e.Text,
			"start": e.Start,
			"end":   e.End,
			"score": e.Score,
		})
	}
	data := map[string]interface{}{
		"entities":     entities,
		"entity_count": len(entities),
	}
	if cap == capability.PIIRedaction {
		data["text"] = pr.RedactedText
	}

	usage := map[string]float64{
		capability.UsageCharacterCount: float64(len(text)),
		capability.UsageRequestCount:   1,
	}
	return capability.Succeeded(Name, cap, data, usage, 0)
}

var _ capability.Adapter = (*Adapter)(nil)
