package capability

import (
	"strings"
	"time"
)

// OperationResult is the universal adapter return envelope. Adapters never
// return a Go error for operation failures: failures become Success=false
// with an error code and a retryable flag, which is what lets the executor
// drive retries and provider fallback.
type OperationResult struct {
	Success      bool                   `json:"success"`
	Data         interface{}            `json:"data,omitempty"`
	ProviderName string                 `json:"provider_name"`
	Capability   Capability             `json:"capability"`
	Usage        map[string]float64     `json:"usage,omitempty"`
	CostUsd      float64                `json:"cost_usd"`
	LatencyMs    int64                  `json:"latency_ms"`
	Error        string                 `json:"error,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	Retryable    bool                   `json:"retryable"`
	RequestID    string                 `json:"request_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Succeeded builds a successful result.
func Succeeded(provider string, cap Capability, data interface{}, usage map[string]float64, costUsd float64) *OperationResult {
	return &OperationResult{
		Success:      true,
		Data:         data,
		ProviderName: provider,
		Capability:   cap,
		Usage:        usage,
		CostUsd:      costUsd,
		Timestamp:    time.Now().UTC(),
	}
}

// Failed builds a failed result with an explicit retryability decision.
func Failed(provider string, cap Capability, errMsg, errorCode string, retryable bool) *OperationResult {
	return &OperationResult{
		Success:      false,
		ProviderName: provider,
		Capability:   cap,
		Error:        errMsg,
		ErrorCode:    errorCode,
		Retryable:    retryable,
		Timestamp:    time.Now().UTC(),
	}
}

// RetryableCode reports the default retryability of an error code, used when
// an adapter passes a provider-specific code through without deciding.
func RetryableCode(code string) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeException, ErrCodeRateLimit, ErrCodeServiceUnavailable, "429", "500", "502", "503", "504", "529":
		return true
	case ErrCodeInvalidInput, ErrCodeUnsupportedCapability, ErrCodeNoProviders, ErrCodeUnauthorized, "400", "401", "403", "404":
		return false
	default:
		return false
	}
}

// ClassifyHTTPStatus maps an HTTP status code to (errorCode, retryable).
// Transient transport statuses (429, 5xx) are retryable; auth and validation
// statuses are not.
func ClassifyHTTPStatus(status int) (string, bool) {
	switch {
	case status == 401 || status == 403:
		return ErrCodeUnauthorized, false
	case status == 429:
		return ErrCodeRateLimit, true
	case status == 408 || status == 504:
		return ErrCodeTimeout, true
	case status >= 500:
		return ErrCodeServiceUnavailable, true
	case status >= 400:
		return ErrCodeInvalidInput, false
	default:
		return "", false
	}
}

// ClassifyErrorMessage inspects a transport-level error string for transient
// signatures ("rate limit", "overloaded", timeouts). Unknown errors default
// to retryable EXCEPTION, so one flaky response does not burn a provider.
func ClassifyErrorMessage(msg string) (string, bool) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return ErrCodeRateLimit, true
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "unavailable"):
		return ErrCodeServiceUnavailable, true
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return ErrCodeTimeout, true
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		return ErrCodeUnauthorized, false
	default:
		return ErrCodeException, true
	}
}
