// Package providers contains the concrete provider adapters and the shared
// HTTP plumbing they build on. Every adapter wraps one provider API behind
// the capability.Adapter contract: operation failures become failed
// OperationResults, never errors, so the executor can drive retry and
// fallback uniformly.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
)

// DefaultTimeout is the HTTP client timeout when the adapter config leaves
// it unset.
const DefaultTimeout = 120 * time.Second

// BaseClient is the shared HTTP layer for provider adapters: an
// otel-instrumented client, structured request logging, and response
// classification. It performs exactly one attempt per call; retries belong
// to the executor's retry policy, not the transport.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger
	Telemetry  core.Telemetry
	BaseURL    string
}

// NewBaseClient creates the shared HTTP layer for one adapter instance.
func NewBaseClient(baseURL string, timeout time.Duration, logger core.Logger, telemetry core.Telemetry) *BaseClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger:    logger,
		Telemetry: telemetry,
		BaseURL:   baseURL,
	}
}

// APIResponse is one provider HTTP exchange, body fully read.
type APIResponse struct {
	Status    int
	Body      []byte
	RequestID string
}

// PostJSON sends one JSON request and reads the full response. The error
// return covers marshaling and transport failures only; HTTP error statuses
// come back in the APIResponse for the caller to classify.
func (b *BaseClient) PostJSON(ctx context.Context, url string, headers map[string]string, payload interface{}) (*APIResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = resp.Header.Get("Request-Id")
	}
	b.Logger.Debug("Provider HTTP exchange", map[string]interface{}{
		"operation":  "provider_http",
		"url":        url,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
		"request_id": requestID,
	})
	return &APIResponse{
		Status:    resp.StatusCode,
		Body:      respBody,
		RequestID: requestID,
	}, nil
}

// Failure builds the failed OperationResult for a provider exchange: a
// transport error classifies by message, an HTTP error status classifies by
// code with the body as detail.
func Failure(provider string, cap capability.Capability, resp *APIResponse, err error) *capability.OperationResult {
	if err != nil {
		code, retryable := capability.ClassifyErrorMessage(err.Error())
		return capability.Failed(provider, cap, err.Error(), code, retryable)
	}
	code, retryable := capability.ClassifyHTTPStatus(resp.Status)
	msg := fmt.Sprintf("HTTP %d: %s", resp.Status, truncate(string(resp.Body), 500))
	result := capability.Failed(provider, cap, msg, code, retryable)
	result.RequestID = resp.RequestID
	return result
}

// Unsupported is the result for a capability the adapter does not serve.
func Unsupported(provider string, cap capability.Capability) *capability.OperationResult {
	return capability.Failed(provider, cap,
		fmt.Sprintf("provider %s does not support capability %s", provider, cap),
		capability.ErrCodeUnsupportedCapability, false)
}

// InvalidInput is the result for input an adapter cannot use.
func InvalidInput(provider string, cap capability.Capability, msg string) *capability.OperationResult {
	return capability.Failed(provider, cap, msg, capability.ErrCodeInvalidInput, false)
}

// TextInput coerces the step input into a string. Maps contribute their
// "text" or "transcript" key, which is how upstream step outputs arrive.
func TextInput(input interface{}) (string, bool) {
	switch v := input.(type) {
	case string:
		return v, v != ""
	case map[string]interface{}:
		for _, key := range []string{"text", "transcript", "content"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// StringOption reads a string option with a fallback.
func StringOption(options map[string]interface{}, key, fallback string) string {
	if s, ok := options[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// IntOption reads an integer option with a fallback.
func IntOption(options map[string]interface{}, key string, fallback int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// FloatOption reads a float option with a fallback.
func FloatOption(options map[string]interface{}, key string, fallback float64) float64 {
	switch v := options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// BoolOption reads a boolean option with a fallback.
func BoolOption(options map[string]interface{}, key string, fallback bool) bool {
	if b, ok := options[key].(bool); ok {
		return b
	}
	return fallback
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
