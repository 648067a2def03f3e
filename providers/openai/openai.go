// Package openai adapts the OpenAI API (chat completions, embeddings, and
// Whisper transcription) to the capability.Adapter contract.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/providers"
)

// Name is the registry name of this provider.
const Name = "openai"

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-4o"
	defaultEmbeddingModel = "text-embedding-3-small"
	transcriptionModel    = "whisper-1"
)

// Registration declares OpenAI's capabilities and pricing.
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
				CostPerUnit:       2.50,
				OutputCostPerUnit: 10.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierStandard,
				Priority:          1,
				ModelName:         defaultModel,
				SupportsStreaming: true,
			},
			{
				Capability:        capability.LLMStructured,
				ProviderName:      Name,
				CostPerUnit:       2.50,
				OutputCostPerUnit: 10.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierStandard,
				Priority:          1,
				ModelName:         defaultModel,
			},
			{
				Capability:        capability.Summarization,
				ProviderName:      Name,
				CostPerUnit:       2.50,
				OutputCostPerUnit: 10.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierStandard,
				Priority:          2,
				ModelName:         defaultModel,
			},
			{
				Capability:        capability.SentimentAnalysis,
				ProviderName:      Name,
				CostPerUnit:       2.50,
				OutputCostPerUnit: 10.00,
				CostUnit:          capability.Per1MTokens,
				QualityTier:       capability.TierStandard,
				Priority:          1,
				ModelName:         defaultModel,
			},
			{
				Capability:   capability.Embedding,
				ProviderName: Name,
				CostPerUnit:  0.02,
				CostUnit:     capability.Per1MTokens,
				QualityTier:  capability.TierStandard,
				Priority:     1,
				ModelName:    defaultEmbeddingModel,
			},
			{
				Capability:   capability.Transcription,
				ProviderName: Name,
				CostPerUnit:  0.006,
				CostUnit:     capability.PerMinute,
				QualityTier:  capability.TierStandard,
				Priority:     2,
				ModelName:    transcriptionModel,
			},
		},
	}
}

// Factory builds OpenAI adapters for the registry.
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

// Adapter is the OpenAI capability adapter.
type Adapter struct {
	*providers.BaseClient
	apiKey       string
	model        string
	registration *capability.ProviderRegistration
}

func (a *Adapter) Registration() *capability.ProviderRegistration {
	return a.registration
}

// HealthCheck verifies the API is reachable with the configured key.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) Execute(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
	switch cap {
	case capability.LLMGeneration:
		return a.chat(ctx, cap, input, options, "")
	case capability.LLMStructured:
		return a.chatStructured(ctx, input, options)
	case capability.Summarization:
		return a.chat(ctx, cap, input, options,
			"Summarize the following text concisely, preserving key facts and decisions.")
	case capability.SentimentAnalysis:
		return a.sentiment(ctx, input, options)
	case capability.Embedding:
		return a.embed(ctx, input, options)
	case capability.Transcription:
		return a.transcribe(ctx, input, options)
	default:
		return providers.Unsupported(Name, cap)
	}
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []chatMessage          `json:"messages"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *Adapter) chat(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}, systemPrompt string) *capability.OperationResult {
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

	req := chatRequest{
		Model:       providers.StringOption(options, "model", a.model),
		MaxTokens:   providers.IntOption(options, "max_tokens", 1024),
		Temperature: providers.FloatOption(options, "temperature", 0.7),
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: text})

	return a.completeChat(ctx, cap, req, func(content string) interface{} {
		return map[string]interface{}{"text": content}
	})
}

// chatStructured forces a JSON object response and parses it.
func (a *Adapter) chatStructured(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.LLMStructured
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	systemPrompt := providers.StringOption(options, "system_prompt",
		"Respond with a single JSON object and nothing else.")
	if schema, ok := options["schema"].(string); ok && schema != "" {
		systemPrompt = fmt.Sprintf("%s The object must match this schema: %s", systemPrompt, schema)
	}

	req := chatRequest{
		Model:          providers.StringOption(options, "model", a.model),
		MaxTokens:      providers.IntOption(options, "max_tokens", 1024),
		Temperature:    providers.FloatOption(options, "temperature", 0),
		ResponseFormat: map[string]interface{}{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	}
	return a.completeChat(ctx, cap, req, func(content string) interface{} {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(content), &obj); err == nil {
			return obj
		}
		return map[string]interface{}{"text": content}
	})
}

func (a *Adapter) sentiment(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.SentimentAnalysis
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	req := chatRequest{
		Model:          providers.StringOption(options, "model", a.model),
		MaxTokens:      providers.IntOption(options, "max_tokens", 256),
		ResponseFormat: map[string]interface{}{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: `Classify the sentiment of the user's text. Respond with JSON: {"sentiment": "positive"|"neutral"|"negative", "confidence": 0.0-1.0, "summary": "one sentence"}`},
			{Role: "user", Content: text},
		},
	}
	return a.completeChat(ctx, cap, req, func(content string) interface{} {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(content), &obj); err == nil {
			return obj
		}
		return map[string]interface{}{"sentiment": "neutral", "raw": content}
	})
}

func (a *Adapter) completeChat(ctx context.Context, cap capability.Capability, req chatRequest, parse func(content string) interface{}) *capability.OperationResult {
	resp, err := a.PostJSON(ctx, a.BaseURL+"/chat/completions", a.headers(), req)
	if err != nil || resp.Status != http.StatusOK {
		return providers.Failure(Name, cap, resp, err)
	}
	var cr chatResponse
	if err := json.Unmarshal(resp.Body, &cr); err != nil {
		return capability.Failed(Name, cap, fmt.Sprintf("decoding response: %v", err),
			capability.ErrCodeException, true)
	}
	if len(cr.Choices) == 0 {
		return capability.Failed(Name, cap, "response contained no choices",
			capability.ErrCodeException, true)
	}

	usage := map[string]float64{
		capability.UsageInputTokens:  float64(cr.Usage.PromptTokens),
		capability.UsageOutputTokens: float64(cr.Usage.CompletionTokens),
	}
	result := capability.Succeeded(Name, cap, parse(cr.Choices[0].Message.Content),
		usage, a.cost(cap, usage))
	result.RequestID = cr.ID
	result.Metadata = map[string]interface{}{
		"model":         req.Model,
		"finish_reason": cr.Choices[0].FinishReason,
	}
	return result
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (a *Adapter) embed(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.Embedding
	text, ok := providers.TextInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "text input is required")
	}
	payload := map[string]interface{}{
		"model": providers.StringOption(options, "model", defaultEmbeddingModel),
		"input": text,
	}
	resp, err := a.PostJSON(ctx, a.BaseURL+"/embeddings", a.headers(), payload)
	if err != nil || resp.Status != http.StatusOK {
		return providers.Failure(Name, cap, resp, err)
	}
	var er embeddingResponse
	if err := json.Unmarshal(resp.Body, &er); err != nil || len(er.Data) == 0 {
		return capability.Failed(Name, cap, "decoding embedding response failed",
			capability.ErrCodeException, true)
	}
	usage := map[string]float64{
		capability.UsageInputTokens: float64(er.Usage.PromptTokens),
	}
	return capability.Succeeded(Name, cap,
		map[string]interface{}{"embedding": er.Data[0].Embedding},
		usage, a.cost(cap, usage))
}

// transcribe uploads audio bytes to the Whisper endpoint. Input must carry
// the audio content (raw bytes or base64); URL-only inputs belong to
// providers that fetch server-side.
func (a *Adapter) transcribe(ctx context.Context, input interface{}, options map[string]interface{}) *capability.OperationResult {
	cap := capability.Transcription
	audio, filename, ok := audioInput(input)
	if !ok {
		return providers.InvalidInput(Name, cap, "audio content (bytes or base64) is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err == nil {
		_, err = fw.Write(audio)
	}
	if err == nil {
		err = mw.WriteField("model", transcriptionModel)
	}
	if err == nil {
		if lang := providers.StringOption(options, "language", ""); lang != "" {
			err = mw.WriteField("language", lang)
		}
	}
	if err == nil {
		err = mw.WriteField("response_format", "verbose_json")
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return capability.Failed(Name, cap, fmt.Sprintf("building upload: %v", err),
			capability.ErrCodeException, false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return capability.Failed(Name, cap, err.Error(), capability.ErrCodeException, false)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	httpResp, err := a.HTTPClient.Do(req)
	if err != nil {
		return providers.Failure(Name, cap, nil, err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.Failure(Name, cap, nil, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return providers.Failure(Name, cap, &providers.APIResponse{
			Status: httpResp.StatusCode,
			Body:   body,
		}, nil)
	}

	var tr struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
		Language string  `json:"language"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return capability.Failed(Name, cap, fmt.Sprintf("decoding transcription: %v", err),
			capability.ErrCodeException, true)
	}
	usage := map[string]float64{
		capability.UsageDurationSecs: tr.Duration,
	}
	result := capability.Succeeded(Name, cap,
		map[string]interface{}{"text": tr.Text, "language": tr.Language, "duration_seconds": tr.Duration},
		usage, a.cost(cap, usage))
	result.Metadata = map[string]interface{}{"model": transcriptionModel}
	return result
}

func audioInput(input interface{}) ([]byte, string, bool) {
	switch v := input.(type) {
	case []byte:
		return v, "audio.wav", len(v) > 0
	case map[string]interface{}:
		filename, _ := v["filename"].(string)
		if filename == "" {
			filename = "audio.wav"
		}
		if raw, ok := v["audio"].([]byte); ok && len(raw) > 0 {
			return raw, filename, true
		}
		if b64, ok := v["audio"].(string); ok && b64 != "" {
			if raw, err := base64.StdEncoding.DecodeString(b64); err == nil {
				return raw, filename, true
			}
		}
	}
	return nil, "", false
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *Adapter) cost(cap capability.Capability, usage map[string]float64) float64 {
	meta := a.registration.Metadata(cap)
	if meta == nil {
		return 0
	}
	return meta.EstimateCost(usage)
}

var _ capability.Adapter = (*Adapter)(nil)
