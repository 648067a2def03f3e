// Package deepgram adapts the Deepgram speech-to-text API to the
// capability.Adapter contract: plain transcription, speaker diarization, and
// dual-channel (multichannel) transcription, all billed per audio minute.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/providers"
)

// Name is the registry name of this provider.
const Name = "deepgram"

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-2"
)

// Registration declares Deepgram's capabilities and pricing.
func Registration() *capability.ProviderRegistration {
	return &capability.ProviderRegistration{
		ProviderName:   Name,
		ProviderType:   capability.ProviderExternal,
		IsAvailable:    true,
		RequiresAPIKey: true,
		Capabilities: []capability.CapabilityMetadata{
			{
				Capability:   capability.Transcription,
				ProviderName: Name,
				CostPerUnit:  0.0043,
				CostUnit:     capability.PerMinute,
				QualityTier:  capability.TierStandard,
				Priority:     1,
				ModelName:    defaultModel,
			},
			{
				Capability:   capability.TranscriptionDiarization,
				ProviderName: Name,
				CostPerUnit:  0.0047,
				CostUnit:     capability.PerMinute,
				QualityTier:  capability.TierStandard,
				Priority:     1,
				ModelName:    defaultModel,
			},
			{
				Capability:   capability.TranscriptionDualChannel,
				ProviderName: Name,
				CostPerUnit:  0.0086,
				CostUnit:     capability.PerMinute,
				QualityTier:  capability.TierStandard,
				Priority:     1,
				ModelName:    defaultModel,
			},
		},
	}
}

// Factory builds Deepgram adapters for the registry.
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

// Adapter is the Deepgram capability adapter.
type Adapter struct {
	*providers.BaseClient
	apiKey       string
	model        string
	registration *capability.ProviderRegistration
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

// HealthCheck verifies the API key against the projects endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/v1/projects", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Token "+a.apiKey)
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	switch cap {
	case capability.Transcription, capability.TranscriptionDiarization, capability.TranscriptionDualChannel:
		return a.transcribe(ctx, cap, input, options)
	default:
		return providers.Unsupported(Name, cap)
	}
}

type listenResponse struct {
	RequestID string `json:"request_id"`
	Metadata  struct {
		Duration float64 `json:"duration"`
		Channels int     `json:"channels"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word    string  `json:"word"`
					Start   float64 `json:"start"`
					End     float64 `json:"end"`
					Speaker int     `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// transcribe submits an audio URL for prerecorded transcription. Deepgram
// fetches the audio server-side, so the input must carry a URL.
func (a *Adapter) transcribe(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	audioURL, ok := urlInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "audio_url input is required")
	}

	params := url.Values{}
	params.Set("model", providers.StringOption(options, "model", a.model))
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	if lang := providers.StringOption(options, "language", ""); lang != "" {
		params.Set("language", lang)
	}
	switch cap {
	case capability.TranscriptionDiarization:
		params.Set("diarize", "true")
	case capability.TranscriptionDualChannel:
		params.Set("multichannel", "true")
	}

	endpoint := a.BaseURL + "/v1/listen?" + params.Encode()
	resp, err := a.PostJSON(ctx, endpoint, a.headers(), map[string]string{"url": audioURL})
	if err != nil || resp.Status != http.StatusOK {
		return providers.Failure(Name, cap, resp, err)
	}

	var lr listenResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return capability.Failed(Name, cap, fmt.Sprintf("decoding response: %v", err),
			capability.ErrCodeException, true)
	}
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return capability.Failed(Name, cap, "response contained no transcript",
			capability.ErrCodeException, true)
	}

	data := a.buildData(cap, &lr)
	usage := map[string]float64{
		capability.UsageDurationSecs: lr.Metadata.Duration,
	}
	var cost float64
	if meta := a.registration.Metadata(cap); meta != nil {
		cost = meta.EstimateCost(usage)
	}
	result := capability.Succeeded(Name, cap, data, usage, cost)
	result.RequestID = lr.RequestID
	result.Metadata = map[string]interface{}{
		"model":    providers.StringOption(options, "model", a.model),
		"channels": lr.Metadata.Channels,
	}
	return result
}

func (a *Adapter) buildData(cap capability.Capability, lr *listenResponse) map[string]interface{} {
	primary := lr.Results.Channels[0].Alternatives[0]
	data := map[string]interface{}{
		"text":             primary.Transcript,
		"confidence":       primary.Confidence,
		"duration_seconds": lr.Metadata.Duration,
	}

	switch cap {
	case capability.TranscriptionDiarization:
		// Collapse word-level speaker tags into per-speaker utterances.
		var utterances []map[string]interface{}
		var current map[string]interface{}
		for _, w := range primary.Words {
			if current == nil || current["speaker"].(int) != w.Speaker {
				current = map[string]interface{}{
					"speaker": w.Speaker,
					"start":   w.Start,
					"text":    w.Word,
				}
				utterances = append(utterances, current)
				continue
			}
			current["text"] = current["text"].(string) + " " + w.Word
			current["end"] = w.End
		}
		data["utterances"] = utterances
	case capability.TranscriptionDualChannel:
		channels := make([]map[string]interface{}, 0, len(lr.Results.Channels))
		for i, ch := range lr.Results.Channels {
			if len(ch.Alternatives) == 0 {
				continue
			}
			channels = append(channels, map[string]interface{}{
				"channel":    i,
				"text":       ch.Alternatives[0].Transcript,
				"confidence": ch.Alternatives[0].Confidence,
			})
		}
		data["channels"] = channels
	}
	return data
}

func urlInput(input interface{}) (string, bool) {
	switch v := input.(type) {
	case string:
		return v, v != ""
	case map[string]interface{}:
		for _, key := range []string{"audio_url", "url"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Token " + a.apiKey}
}

var _ capability.Adapter = (*Adapter)(nil)
