package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/maestro/capability"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := Factory(capability.AdapterConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return a.(*Adapter)
}

func listenFixture(transcript string, duration float64) map[string]interface{} {
	return map[string]interface{}{
		"request_id": "req-42",
		"metadata":   map[string]interface{}{"duration": duration, "channels": 1},
		"results": map[string]interface{}{
			"channels": []map[string]interface{}{{
				"alternatives": []map[string]interface{}{{
					"transcript": transcript,
					"confidence": 0.98,
				}},
			}},
		},
	}
}

func TestTranscribeSuccess(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		assert.Equal(t, defaultModel, r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("punctuate"))
		assert.Empty(t, r.URL.Query().Get("diarize"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example.com/call.wav", body["url"])

		json.NewEncoder(w).Encode(listenFixture("hello from the call", 300))
	})

	result := adapter.Execute(context.Background(), capability.Transcription,
		"https://cdn.example.com/call.wav", nil)
	require.True(t, result.Success, result.Error)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, "hello from the call", data["text"])
	assert.Equal(t, 300.0, result.Usage[capability.UsageDurationSecs])
	// Five minutes of nova-2 at $0.0043/min.
	assert.InDelta(t, 0.0215, result.CostUsd, 1e-9)
	assert.Equal(t, "req-42", result.RequestID)
}

func TestTranscribeDiarizationParams(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("diarize"))
		json.NewEncoder(w).Encode(listenFixture("two speakers", 60))
	})

	result := adapter.Execute(context.Background(), capability.TranscriptionDiarization,
		map[string]interface{}{"audio_url": "https://cdn.example.com/call.wav"}, nil)
	require.True(t, result.Success, result.Error)
	assert.InDelta(t, 0.0047, result.CostUsd, 1e-9)
}

func TestTranscribeRequiresURL(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an audio url")
	})

	result := adapter.Execute(context.Background(), capability.Transcription,
		map[string]interface{}{"audio": []byte("raw bytes")}, nil)
	require.False(t, result.Success)
	assert.Equal(t, capability.ErrCodeInvalidInput, result.ErrorCode)
	assert.False(t, result.Retryable)
}

func TestTranscribeRateLimit(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	result := adapter.Execute(context.Background(), capability.Transcription,
		"https://cdn.example.com/call.wav", nil)
	require.False(t, result.Success)
	assert.Equal(t, capability.ErrCodeRateLimit, result.ErrorCode)
	assert.True(t, result.Retryable)
}

func TestTranscribeServerError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	})

	result := adapter.Execute(context.Background(), capability.Transcription,
		"https://cdn.example.com/call.wav", nil)
	require.False(t, result.Success)
	assert.Equal(t, capability.ErrCodeServiceUnavailable, result.ErrorCode)
	assert.True(t, result.Retryable)
	assert.Contains(t, result.Error, "HTTP 502")
}

func TestExecuteUnsupportedCapability(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unsupported capability")
	})

	result := adapter.Execute(context.Background(), capability.LLMGeneration, "hi", nil)
	require.False(t, result.Success)
	assert.Equal(t, capability.ErrCodeUnsupportedCapability, result.ErrorCode)
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects", r.URL.Path)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, healthy.HealthCheck(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.False(t, down.HealthCheck(context.Background()))
}
