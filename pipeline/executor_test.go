package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/providers/mock"
)

// recordingObserver captures observer callbacks for assertions.
type recordingObserver struct {
	NoopObserver
	started   []string
	completed []string
	failed    []string
	skipped   []string
	retries   []string
	fallbacks [][2]string
	progress  []float64
}

func (r *recordingObserver) StepStarted(pctx *PipelineContext, step *PipelineStep, index, total int) {
	r.started = append(r.started, step.Name)
}
func (r *recordingObserver) StepCompleted(pctx *PipelineContext, step *PipelineStep, result *StepResult) {
	r.completed = append(r.completed, step.Name)
}
func (r *recordingObserver) StepFailed(pctx *PipelineContext, step *PipelineStep, result *StepResult, continuePipeline bool) {
	r.failed = append(r.failed, step.Name)
}
func (r *recordingObserver) StepSkipped(pctx *PipelineContext, step *PipelineStep, reason string) {
	r.skipped = append(r.skipped, step.Name)
}
func (r *recordingObserver) StepRetrying(pctx *PipelineContext, step *PipelineStep, provider string, nextAttempt int, delay time.Duration, errorCode string) {
	r.retries = append(r.retries, provider)
}
func (r *recordingObserver) ProviderFallback(pctx *PipelineContext, step *PipelineStep, from, to, lastError, lastErrorCode string) {
	r.fallbacks = append(r.fallbacks, [2]string{from, to})
}
func (r *recordingObserver) Progress(pctx *PipelineContext, percent float64, currentStep string) {
	r.progress = append(r.progress, percent)
}

func newTestExecutor(t *testing.T, adapters ...*mock.Adapter) *Executor {
	t.Helper()
	registry := capability.NewRegistry(nil)
	for _, a := range adapters {
		require.NoError(t, registry.RegisterProvider(a.Registration(), a.Factory()))
	}
	return NewExecutor(registry, nil, nil)
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        attempts,
		InitialDelay:       time.Millisecond,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
		MaxDelay:           5 * time.Millisecond,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	transcriber := mock.New("stt", capability.Transcription)
	transcriber.Enqueue(capability.Transcription, capability.Succeeded("stt", capability.Transcription,
		map[string]interface{}{"text": "hello world"},
		map[string]float64{capability.UsageDurationSecs: 60}, 0.0043))
	summarizer := mock.New("llm", capability.Summarization)
	summarizer.Enqueue(capability.Summarization, capability.Succeeded("llm", capability.Summarization,
		map[string]interface{}{"text": "hello"},
		map[string]float64{capability.UsageInputTokens: 10}, 0.001))

	def, err := NewPipeline("transcribe_and_summarize").
		Step("transcribe").Capability(capability.Transcription).Done().
		Step("summarize").Capability(capability.Summarization).InputFrom("transcribe.text").OutputAs("summary").Done().
		Build()
	require.NoError(t, err)

	obs := &recordingObserver{}
	exec := newTestExecutor(t, transcriber, summarizer)
	pctx, err := exec.Execute(context.Background(), def, map[string]interface{}{
		"audio_url": "https://example.com/a.wav",
	}, ExecutionOptions{TenantID: "t1", Observer: obs})
	require.NoError(t, err)

	assert.Equal(t, []string{"transcribe", "summarize"}, pctx.CompletedSteps)
	assert.Empty(t, pctx.FailedStep)
	assert.InDelta(t, 0.0053, pctx.TotalCostUsd, 1e-9)
	assert.Equal(t, 100.0, pctx.ProgressPercent)
	assert.Contains(t, pctx.Data, "summary")

	// The summarize step read its input from the transcribe output.
	calls := summarizer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hello world", calls[0].Input)

	assert.Equal(t, []string{"transcribe", "summarize"}, obs.started)
	assert.Equal(t, []string{"transcribe", "summarize"}, obs.completed)
	require.NotEmpty(t, obs.progress)
	assert.Equal(t, 0.0, obs.progress[0])
	assert.Equal(t, 100.0, obs.progress[len(obs.progress)-1])
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)
	adapter.Enqueue(capability.Transcription,
		capability.Failed("stt", capability.Transcription, "rate limited", capability.ErrCodeRateLimit, true),
		capability.Succeeded("stt", capability.Transcription, map[string]interface{}{"text": "ok"}, nil, 0.01),
	)

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Retry(fastRetry(3)).Done().
		Build()
	require.NoError(t, err)

	obs := &recordingObserver{}
	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{Observer: obs})
	require.NoError(t, err)

	assert.Empty(t, pctx.FailedStep)
	assert.Equal(t, 2, adapter.CallCount())
	sr := pctx.StepResults["transcribe"]
	require.NotNil(t, sr)
	assert.Equal(t, 1, sr.Retries)
	assert.Equal(t, []string{"stt"}, obs.retries)
}

func TestExecuteNonRetryableStopsRetrying(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)
	adapter.Enqueue(capability.Transcription,
		capability.Failed("stt", capability.Transcription, "bad audio", capability.ErrCodeInvalidInput, false))

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Retry(fastRetry(3)).Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.CallCount())
	assert.Equal(t, "transcribe", pctx.FailedStep)
	sr := pctx.StepResults["transcribe"]
	assert.Equal(t, StepFailed, sr.Status)
	assert.Equal(t, capability.ErrCodeInvalidInput, sr.ErrorCode)
	assert.Equal(t, 0, sr.Retries)
}

func TestExecuteRetryAllowList(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)
	adapter.Enqueue(capability.Transcription,
		capability.Failed("stt", capability.Transcription, "down", capability.ErrCodeServiceUnavailable, true))

	policy := fastRetry(3)
	policy.RetryableErrors = []string{capability.ErrCodeRateLimit}

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Retry(policy).Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	// SERVICE_UNAVAILABLE is retryable by default but outside the allow-list.
	assert.Equal(t, 1, adapter.CallCount())
	assert.Equal(t, "transcribe", pctx.FailedStep)
}

func TestExecuteProviderFallback(t *testing.T) {
	primary := mock.New("primary", capability.Transcription)
	primary.Handler = func(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
		return capability.Failed("primary", cap, "service is down", capability.ErrCodeServiceUnavailable, true)
	}
	backup := mock.NewWithRegistration(&capability.ProviderRegistration{
		ProviderName: "backup",
		ProviderType: capability.ProviderExternal,
		IsAvailable:  true,
		Capabilities: []capability.CapabilityMetadata{{
			Capability:   capability.Transcription,
			ProviderName: "backup",
			CostPerUnit:  0.02,
			CostUnit:     capability.PerRequest,
			QualityTier:  capability.TierStandard,
			Priority:     2,
		}},
	})

	def, err := NewPipeline("p").
		Step("transcribe").
		Capability(capability.Transcription).
		Providers("primary").
		Retry(fastRetry(2)).
		Done().
		Build()
	require.NoError(t, err)

	obs := &recordingObserver{}
	exec := newTestExecutor(t, primary, backup)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{Observer: obs})
	require.NoError(t, err)

	assert.Empty(t, pctx.FailedStep)
	sr := pctx.StepResults["transcribe"]
	require.NotNil(t, sr)
	assert.Equal(t, "backup", sr.ProviderUsed)
	assert.Equal(t, []string{"primary"}, sr.FallbacksAttempted)
	assert.Equal(t, 2, primary.CallCount())
	assert.Equal(t, 1, backup.CallCount())
	require.Len(t, obs.fallbacks, 1)
	assert.Equal(t, [2]string{"primary", "backup"}, obs.fallbacks[0])
}

func TestExecuteFallbackDisabled(t *testing.T) {
	primary := mock.New("primary", capability.Transcription)
	primary.Handler = func(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
		return capability.Failed("primary", cap, "down", capability.ErrCodeServiceUnavailable, true)
	}
	backup := mock.NewWithRegistration(&capability.ProviderRegistration{
		ProviderName: "backup",
		ProviderType: capability.ProviderExternal,
		IsAvailable:  true,
		Capabilities: []capability.CapabilityMetadata{{
			Capability:   capability.Transcription,
			ProviderName: "backup",
			CostUnit:     capability.PerRequest,
			QualityTier:  capability.TierStandard,
			Priority:     2,
		}},
	})

	def, err := NewPipeline("p").
		Step("transcribe").
		Capability(capability.Transcription).
		Providers("primary").
		Retry(fastRetry(1)).
		Fallback(FallbackConfig{Enabled: false}).
		Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, primary, backup)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	assert.Equal(t, "transcribe", pctx.FailedStep)
	assert.Equal(t, 0, backup.CallCount())
}

func TestExecuteNoProviders(t *testing.T) {
	exec := newTestExecutor(t)
	def, err := NewPipeline("p").
		Step("embed").Capability(capability.Embedding).Done().
		Build()
	require.NoError(t, err)

	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	sr := pctx.StepResults["embed"]
	require.NotNil(t, sr)
	assert.Equal(t, StepFailed, sr.Status)
	assert.Equal(t, capability.ErrCodeNoProviders, sr.ErrorCode)
	assert.Equal(t, "embed", pctx.FailedStep)
}

func TestExecuteConditionSkip(t *testing.T) {
	adapter := mock.New("pii", capability.PIIRedaction)

	def, err := NewPipeline("p").
		Step("redact").
		Capability(capability.PIIRedaction).
		WhenEquals("redaction_enabled", true).
		Done().
		Build()
	require.NoError(t, err)

	obs := &recordingObserver{}
	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def,
		map[string]interface{}{"redaction_enabled": false},
		ExecutionOptions{Observer: obs})
	require.NoError(t, err)

	assert.Equal(t, 0, adapter.CallCount())
	assert.Equal(t, []string{"redact"}, pctx.SkippedSteps)
	assert.Empty(t, pctx.FailedStep)
	assert.Equal(t, 100.0, pctx.ProgressPercent)
	sr := pctx.StepResults["redact"]
	require.NotNil(t, sr)
	assert.Equal(t, StepSkipped, sr.Status)
	assert.Equal(t, "Condition not met", sr.SkippedReason)
	assert.Equal(t, []string{"redact"}, obs.skipped)
}

func TestExecuteContinueOnFailure(t *testing.T) {
	sentiment := mock.New("sentiment", capability.SentimentAnalysis)
	sentiment.Enqueue(capability.SentimentAnalysis,
		capability.Failed("sentiment", capability.SentimentAnalysis, "boom", capability.ErrCodeException, false))
	summarizer := mock.New("llm", capability.Summarization)

	def, err := NewPipeline("p").
		Step("sentiment").Capability(capability.SentimentAnalysis).Retry(fastRetry(1)).ContinueOnFailure().Done().
		Step("summarize").Capability(capability.Summarization).Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, sentiment, summarizer)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	assert.Empty(t, pctx.FailedStep)
	assert.Equal(t, []string{"summarize"}, pctx.CompletedSteps)
	assert.Equal(t, StepFailed, pctx.StepResults["sentiment"].Status)
	assert.Equal(t, 1, summarizer.CallCount())
}

func TestExecuteOptionalStepFailure(t *testing.T) {
	coach := mock.New("coach", capability.CoachingAnalysis)
	coach.Enqueue(capability.CoachingAnalysis,
		capability.Failed("coach", capability.CoachingAnalysis, "boom", capability.ErrCodeException, false))

	def, err := NewPipeline("p").
		Step("coaching").Capability(capability.CoachingAnalysis).Retry(fastRetry(1)).Optional().Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, coach)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	assert.Empty(t, pctx.FailedStep)
	assert.Equal(t, 100.0, pctx.ProgressPercent)
}

func TestExecuteStepTimeoutSynthesized(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Timeout(0).Retry(fastRetry(1)).Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	// A non-positive step timeout never reaches the adapter.
	assert.Equal(t, 0, adapter.CallCount())
	sr := pctx.StepResults["transcribe"]
	require.NotNil(t, sr)
	assert.Equal(t, capability.ErrCodeTimeout, sr.ErrorCode)
}

func TestExecuteCancellation(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Done().
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(ctx, def, nil, ExecutionOptions{})
	require.NoError(t, err)

	assert.True(t, pctx.Cancelled)
	assert.Equal(t, "transcribe", pctx.FailedStep)
	assert.Equal(t, 0, adapter.CallCount())
}

func TestExecuteAdapterPanicBecomesException(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)
	adapter.Handler = func(ctx context.Context, cap capability.Capability, input interface{}, options map[string]interface{}) *capability.OperationResult {
		panic("adapter bug")
	}

	def, err := NewPipeline("p").
		Step("transcribe").Capability(capability.Transcription).Retry(fastRetry(1)).Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	sr := pctx.StepResults["transcribe"]
	require.NotNil(t, sr)
	assert.Equal(t, StepFailed, sr.Status)
	assert.Equal(t, capability.ErrCodeException, sr.ErrorCode)
	assert.Contains(t, sr.Error, "adapter panic")
}

func TestExecuteInvalidDefinition(t *testing.T) {
	exec := newTestExecutor(t)
	_, err := exec.Execute(context.Background(), nil, nil, ExecutionOptions{})
	require.Error(t, err)
	_, err = exec.Execute(context.Background(), &PipelineDefinition{Name: "empty"}, nil, ExecutionOptions{})
	require.Error(t, err)
}

func TestExecuteOutputTransform(t *testing.T) {
	adapter := mock.New("stt", capability.Transcription)
	adapter.Enqueue(capability.Transcription, capability.Succeeded("stt", capability.Transcription,
		map[string]interface{}{"text": "HELLO"}, nil, 0))

	def, err := NewPipeline("p").
		Step("transcribe").
		Capability(capability.Transcription).
		TransformOutput(func(output interface{}) interface{} {
			m := output.(map[string]interface{})
			return map[string]interface{}{"text": m["text"], "normalized": true}
		}).
		Done().
		Build()
	require.NoError(t, err)

	exec := newTestExecutor(t, adapter)
	pctx, err := exec.Execute(context.Background(), def, nil, ExecutionOptions{})
	require.NoError(t, err)

	out := pctx.Data["transcribe"].(map[string]interface{})
	assert.Equal(t, true, out["normalized"])
}
