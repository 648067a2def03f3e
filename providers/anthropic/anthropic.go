// Package anthropic adapts the Anthropic Messages API to the
// capability.Adapter contract. Structured output is implemented with forced
// tool use, which constrains the model to emit a single JSON object.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/providers"
)

// Name is the registry name of this provider.
const Name = "anthropic"

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"
)

// Registration declares Anthropic's capabilities and pricing.
func Registration() *capability.ProviderRegistration {
	return &capability.ProviderRegistration{
		ProviderName:   Name,
		ProviderType:   capability.ProviderExternal,
		IsAvailable:    true,
		RequiresAPIKey: true,
		Capabilities: []capability.CapabilityMetadata{
			{
				Capability:        capability.LLMGeneration,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          2,
				ModelName:         defaultModel,
				SupportsStreaming: true,
			},
			{
				Capability:        capability.LLMStructured,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          2,
				ModelName:         defaultModel,
			},
			{
				Capability:        capability.Summarization,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          1,
				ModelName:         defaultModel,
			},
			{
				Capability:        capability.CoachingAnalysis,
				ProviderName:      Name,
				CostPerUnit:       3.00,
				OutputCostPerUnit: 15.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierPremium,
				Priority:          1,
				ModelName:         defaultModel,
			},
		},
	}
}

// Factory builds Anthropic adapters for the registry.
func Factory(cfg capability.AdapterConfig) (capability.Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Adapter{
		BaseClient:   providers.NewBaseClient(baseURL, cfg.Timeout, cfg.Logger, cfg.Telemetry),
		apiKey:       cfg.APIKey,
		model:        model,
		registration: Registration(),
	}, nil
}

// Adapter is the Anthropic capability adapter.
type Adapter struct {
	*providers.BaseClient
	apiKey       string
	model        string
	registration *capability.ProviderRegistration
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

// HealthCheck sends a minimal message to verify credentials and reachability.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	resp, err := a.PostJSON(ctx, a.BaseURL+"/v1/messages", a.headers(), messagesRequest{
		Model:     a.model,
		MaxTokens: 1,
		Messages:  []message{{Role: "user", Content: "ping"}},
	})
	return err == nil && resp.Status == http.StatusOK
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	switch cap {
	case capability.LLMGeneration:
		return a.message(ctx, cap, input, options, "")
	case capability.Summarization:
		return a.message(ctx, cap, input, options,
			"Summarize the following text concisely, preserving key facts and decisions.")
	case capability.CoachingAnalysis:
		return a.coaching(ctx, input, options)
	case capability.LLMStructured:
		return a.structured(ctx, input, options)
	default:
		return providers.Unsupported(Name, cap)
	}
}

type messagesRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	Tools       []tool      `json:"tools,omitempty"`
	ToolChoice  *toolChoice `json:"tool_choice,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string                 `json:"type"`
		Text  string                 `json:"text,omitempty"`
		Input map[string]interface{} `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) message(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}, systemPrompt string) *capability.OperationResult {
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	if sp := providers.StringOption(options, "system_prompt", systemPrompt); sp != "" {
		systemPrompt = sp
	}
	if style := providers.StringOption(options, "style", ""); style != "" && cap == capability.Summarization {
		systemPrompt = fmt.Sprintf("%s Respond in the %q style.", systemPrompt, style)
	}

	req := messagesRequest{
		Model:     providers.StringOption(options, "model", a.model),
		MaxTokens: providers.IntOption(options, "max_tokens", 1024),
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: text}},
	}
	mr, failure := a.send(ctx, cap, req)
	if failure != nil {
		return failure
	}

	var content string
	for _, block := range mr.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return a.succeed(cap, mr, map[string]interface{}{"text": content}, req.Model)
}

// coaching extracts structured coaching feedback from a conversation
// transcript via forced tool use.
func (a *Adapter) coaching(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.CoachingAnalysis
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "transcript input is required")
	}
	req := messagesRequest{
		Model:     providers.StringOption(options, "model", a.model),
		MaxTokens: providers.IntOption(options, "max_tokens", 2048),
		System:    "You are a call-coaching analyst. Analyze the agent's performance in the transcript.",
		Messages:  []message{{Role: "user", Content: text}},
		Tools: []tool{{
			Name:        "record_coaching",
			Description: "Record the coaching analysis of the call.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"strengths":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"improvements": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"score":        map[string]interface{}{"type": "number", "minimum": 0, "maximum": 10},
					"summary":      map[string]interface{}{"type": "string"},
				},
				"required": []string{"strengths", "improvements", "score", "summary"},
			},
		}},
		ToolChoice: &toolChoice{Type: "tool", Name: "record_coaching"},
	}
	mr, failure := a.send(ctx, cap, req)
	if failure != nil {
		return failure
	}
	return a.succeed(cap, mr, a.toolInput(mr), req.Model)
}

// structured forces the model through a single catch-all tool so the output
// is always one JSON object.
func (a *Adapter) structured(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.LLMStructured
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	schema := map[string]interface{}{"type": "object"}
	if raw, ok := options["schema"].(string); ok && raw != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			schema = parsed
		}
	} else if m, ok := options["schema"].(map[string]interface{}); ok {
		schema = m
	}

	req := messagesRequest{
		Model:     providers.StringOption(options, "model", a.model),
		MaxTokens: providers.IntOption(options, "max_tokens", 1024),
		System:    providers.StringOption(options, "system_prompt", ""),
		Messages:  []message{{Role: "user", Content: text}},
		Tools: []tool{{
			Name:        "record_result",
			Description: "Record the structured result.",
			InputSchema: schema,
		}},
		ToolChoice: &toolChoice{Type: "tool", Name: "record_result"},
	}
	mr, failure := a.send(ctx, cap, req)
	if failure != nil {
		return failure
	}
	return a.succeed(cap, mr, a.toolInput(mr), req.Model)
}

func (a *Adapter) send(ctx context.Context, cap capability.Capability, req messagesRequest) (*messagesResponse, *capability.OperationResult) {
	resp, err := a.PostJSON(ctx, a.BaseURL+"/v1/messages", a.headers(), req)
	if err != nil || resp.Status != http.StatusOK {
		return nil, providers.Failure(Name, cap, resp, err)
	}
	var mr messagesResponse
	if err := json.Unmarshal(resp.Body, &mr); err != nil {
		return nil, capability.Failed(Name, cap, fmt.Sprintf("decoding response: %v", err),
			capability.ErrCodeException, true)
	}
	return &mr, nil
}

func (a *Adapter) toolInput(mr *messagesResponse) map[string]interface{} {
	for _, block := range mr.Content {
		if block.Type == "tool_use" && block.Input != nil {
			return block.Input
		}
	}
	return map[string]interface{}{}
}

func (a *Adapter) succeed(cap capability.Capability, mr *messagesResponse, data interface{}, model string) *capability.OperationResult {
	usage := map[string]float64{
		capability.UsageInputTokens:  float64(mr.Usage.InputTokens),
		capability.UsageOutputTokens: float64(mr.Usage.OutputTokens),
	}
	var cost float64
	if meta := a.registration.Metadata(cap); meta != nil {
		cost = meta.EstimateCost(usage)
	}
	result := capability.Succeeded(Name, cap, data, usage, cost)
	result.RequestID = mr.ID
	result.Metadata = map[string]interface{}{
		"model":       model,
		"stop_reason": mr.StopReason,
	}
	return result
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}

var _ capability.Adapter = (*Adapter)(nil)
