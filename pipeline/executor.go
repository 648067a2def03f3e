package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
)

// ExecutionOptions carry the per-call overrides for one execution: tenant
// attribution and per-provider credential/model/endpoint overrides.
type ExecutionOptions struct {
	TenantID string
	// APIKeys maps provider name to the API key for this call.
	APIKeys map[string]string
	// Models maps provider name to a model override.
	Models map[string]string
	// BaseURLs maps provider name to an endpoint override.
	BaseURLs map[string]string
	// Observer receives execution transitions. Defaults to NoopObserver.
	Observer Observer
}

func (o ExecutionOptions) observer() Observer {
	if o.Observer == nil {
		return NoopObserver{}
	}
	return o.Observer
}

// Executor runs pipeline definitions step by step: condition gates, provider
// fallback chains, per-provider retry loops, timeouts, and context
// bookkeeping. Safe for concurrent use; many pipelines may run on one
// executor, sharing the registry and the adapter cache.
type Executor struct {
	registry  *capability.Registry
	logger    core.Logger
	telemetry core.Telemetry

	// adapterCache holds Adapter instances keyed by provider+apiKey+model.
	// Duplicate concurrent construction is acceptable; both instances are
	// equivalent and one simply wins the Store.
	adapterCache sync.Map
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *capability.Registry, logger core.Logger, telemetry core.Telemetry) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Executor{
		registry:  registry,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Execute creates a fresh context for def and runs it to completion.
// The returned PipelineContext carries the full execution record; callers
// freeze it with Result(def). The error return covers invalid invocations
// only, never step failures.
func (e *Executor) Execute(ctx context.Context, def *PipelineDefinition, input map[string]interface{}, opts ExecutionOptions) (*PipelineContext, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, core.NewOrchestratorError("executor.Execute", "pipeline", core.ErrPipelineInvalid)
	}
	pctx := NewPipelineContext(def.Name, opts.TenantID, input)
	return e.Run(ctx, def, pctx, opts)
}

// Run executes def against an existing context. The saga coordinator uses
// this form so it can observe the execution ID before the first step runs.
func (e *Executor) Run(ctx context.Context, def *PipelineDefinition, pctx *PipelineContext, opts ExecutionOptions) (*PipelineContext, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, core.NewOrchestratorError("executor.Run", "pipeline", core.ErrPipelineInvalid)
	}
	obs := opts.observer()

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	ctx, span := e.telemetry.StartSpan(ctx, "pipeline.execute")
	span.SetAttribute("pipeline.name", def.Name)
	span.SetAttribute("execution.id", pctx.ExecutionID)
	defer span.End()

	totalWeight := def.TotalWeight()
	var completedWeight float64

	for i := range def.Steps {
		step := &def.Steps[i]
		pctx.CurrentStep = step.Name
		pctx.ProgressPercent = completedWeight / totalWeight * 100
		obs.Progress(pctx, pctx.ProgressPercent, step.Name)

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				obs.ExecutionTimeout(pctx, step.Name, time.Since(pctx.StartedAt))
				pctx.FailedStep = step.Name
				pctx.FailureError = fmt.Sprintf("pipeline timeout after %s", def.Timeout)
			} else {
				pctx.Cancelled = true
				pctx.FailedStep = step.Name
				pctx.FailureError = "execution cancelled"
			}
			break
		}

		if !step.Condition.Evaluate(pctx.Data) {
			now := time.Now().UTC()
			pctx.StepResults[step.Name] = &StepResult{
				StepName:      step.Name,
				Status:        StepSkipped,
				SkippedReason: "Condition not met",
				StartedAt:     now,
				CompletedAt:   &now,
			}
			pctx.SkippedSteps = append(pctx.SkippedSteps, step.Name)
			completedWeight += step.ProgressWeight
			obs.StepSkipped(pctx, step, "Condition not met")
			e.logger.Debug("Step skipped", map[string]interface{}{
				"operation":    "step_skipped",
				"execution_id": pctx.ExecutionID,
				"step":         step.Name,
			})
			continue
		}

		obs.StepStarted(pctx, step, i, len(def.Steps))
		sr := e.runStep(ctx, step, pctx, opts, obs)
		pctx.StepResults[step.Name] = sr

		if sr.Status == StepCompleted {
			output := sr.OperationResult.Data
			if step.OutputTransform != nil {
				output = step.OutputTransform(output)
			}
			key := step.OutputKey
			if key == "" {
				key = step.Name
			}
			pctx.Data[key] = output
			pctx.CompletedSteps = append(pctx.CompletedSteps, step.Name)
			pctx.TotalCostUsd += sr.CostUsd()
			completedWeight += step.ProgressWeight

			// Cost is reported before the step is announced complete, so
			// stream consumers always see a step's cost by the time its
			// completion arrives.
			if sr.CostUsd() > 0 {
				obs.CostIncurred(pctx, step, sr.OperationResult)
			}
			obs.StepCompleted(pctx, step, sr)
			if def.IsCheckpoint(step.Name) {
				obs.CheckpointReached(pctx, step)
			}
			continue
		}

		continuePipeline := step.ContinueOnFailure || !step.Required
		obs.StepFailed(pctx, step, sr, continuePipeline)
		if continuePipeline {
			e.logger.Warn("Step failed, continuing pipeline", map[string]interface{}{
				"operation":    "step_failed_continue",
				"execution_id": pctx.ExecutionID,
				"step":         step.Name,
				"error_code":   sr.ErrorCode,
				"error":        sr.Error,
			})
			completedWeight += step.ProgressWeight
			continue
		}

		pctx.FailedStep = step.Name
		pctx.FailureError = sr.Error
		span.RecordError(&core.PipelineExecutionError{
			PipelineName: def.Name,
			StepName:     step.Name,
			ErrorCode:    sr.ErrorCode,
			Message:      sr.Error,
		})
		if def.FailFast {
			break
		}
	}

	pctx.CurrentStep = ""
	pctx.ProgressPercent = completedWeight / totalWeight * 100
	if pctx.FailedStep == "" && !pctx.Cancelled {
		obs.Progress(pctx, pctx.ProgressPercent, "")
	}
	span.SetAttribute("pipeline.success", pctx.FailedStep == "" && !pctx.Cancelled)
	span.SetAttribute("pipeline.total_cost_usd", pctx.TotalCostUsd)
	return pctx, nil
}

// runStep drives one step through its fallback chain and per-provider retry
// loops. It always returns a terminal StepResult; failures are recorded, not
// returned as errors.
func (e *Executor) runStep(ctx context.Context, step *PipelineStep, pctx *PipelineContext, opts ExecutionOptions, obs Observer) *StepResult {
	started := time.Now().UTC()
	sr := &StepResult{
		StepName:  step.Name,
		Status:    StepRunning,
		StartedAt: started,
	}

	var input interface{}
	switch {
	case step.InputTransform != nil:
		input = step.InputTransform(pctx.Data)
	case step.InputKey != "":
		input, _ = NavigatePath(pctx.Data, step.InputKey)
	default:
		input = pctx.Data
	}

	chain := e.buildChain(step)
	if len(chain) == 0 {
		return e.finishFailed(sr, capability.Failed("", step.Capability,
			fmt.Sprintf("no providers available for capability %s", step.Capability),
			capability.ErrCodeNoProviders, false))
	}

	var last *capability.OperationResult
	for pi, provider := range chain {
		if pi > 0 {
			prev := chain[pi-1]
			sr.FallbacksAttempted = append(sr.FallbacksAttempted, prev)
			obs.ProviderFallback(pctx, step, prev, provider, last.Error, last.ErrorCode)
			e.logger.Warn("Falling back to next provider", map[string]interface{}{
				"operation":    "provider_fallback",
				"execution_id": pctx.ExecutionID,
				"step":         step.Name,
				"from":         prev,
				"to":           provider,
				"error_code":   last.ErrorCode,
			})
		}
		last = e.tryProvider(ctx, step, provider, input, pctx, opts, obs, sr)
		if last.Success {
			sr.ProviderUsed = provider
			sr.Status = StepCompleted
			sr.OperationResult = last
			now := time.Now().UTC()
			sr.CompletedAt = &now
			return sr
		}
	}
	return e.finishFailed(sr, last)
}

func (e *Executor) finishFailed(sr *StepResult, last *capability.OperationResult) *StepResult {
	sr.Status = StepFailed
	sr.OperationResult = last
	sr.Error = last.Error
	sr.ErrorCode = last.ErrorCode
	now := time.Now().UTC()
	sr.CompletedAt = &now
	return sr
}

// tryProvider runs the retry loop for one provider. Break conditions: a
// successful result, a non-retryable result, an error code outside the
// policy's allow-list, or attempts exhausted.
func (e *Executor) tryProvider(ctx context.Context, step *PipelineStep, provider string, input interface{}, pctx *PipelineContext, opts ExecutionOptions, obs Observer, sr *StepResult) *capability.OperationResult {
	policy := step.RetryPolicy
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last *capability.OperationResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.resultForContextErr(err, provider, step.Capability)
		}

		last = e.invoke(ctx, step, provider, input, opts)
		if last.Success {
			return last
		}
		if !last.Retryable || !policy.AllowsCode(last.ErrorCode) || attempt == maxAttempts {
			break
		}

		sr.Retries++
		delay := policy.DelayForAttempt(attempt)
		obs.StepRetrying(pctx, step, provider, attempt+1, delay, last.ErrorCode)
		e.logger.Debug("Retrying provider", map[string]interface{}{
			"operation":    "step_retry",
			"execution_id": pctx.ExecutionID,
			"step":         step.Name,
			"provider":     provider,
			"next_attempt": attempt + 1,
			"delay_ms":     delay.Milliseconds(),
			"error_code":   last.ErrorCode,
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.resultForContextErr(ctx.Err(), provider, step.Capability)
		case <-timer.C:
		}
	}
	return last
}

func (e *Executor) resultForContextErr(err error, provider string, cap capability.Capability) *capability.OperationResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return capability.Failed(provider, cap, "pipeline deadline exceeded", capability.ErrCodeTimeout, false)
	}
	return capability.Failed(provider, cap, "execution cancelled", capability.ErrCodeException, false)
}

// invoke performs one adapter call under the step timeout. Timeouts and
// panics become synthesized failed results, never errors or crashes.
func (e *Executor) invoke(ctx context.Context, step *PipelineStep, provider string, input interface{}, opts ExecutionOptions) *capability.OperationResult {
	if step.Timeout <= 0 {
		return capability.Failed(provider, step.Capability,
			fmt.Sprintf("step %s timed out after %s", step.Name, step.Timeout),
			capability.ErrCodeTimeout, true)
	}

	adapter, err := e.adapterFor(provider, step, opts)
	if err != nil {
		return capability.Failed(provider, step.Capability, err.Error(), capability.ErrCodeException, false)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	start := time.Now()
	result := e.safeExecute(attemptCtx, adapter, step, provider, input)
	elapsed := time.Since(start)

	if result == nil {
		result = capability.Failed(provider, step.Capability, "adapter returned nil result", capability.ErrCodeException, true)
	}
	if !result.Success && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result = capability.Failed(provider, step.Capability,
			fmt.Sprintf("step %s timed out after %s", step.Name, step.Timeout),
			capability.ErrCodeTimeout, true)
	}
	if result.LatencyMs == 0 {
		result.LatencyMs = elapsed.Milliseconds()
	}
	return result
}

// safeExecute converts adapter panics into EXCEPTION results so one broken
// adapter cannot take down the executor.
func (e *Executor) safeExecute(ctx context.Context, adapter capability.Adapter, step *PipelineStep, provider string, input interface{}) (result *capability.OperationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Adapter panicked", map[string]interface{}{
				"operation": "adapter_panic",
				"provider":  provider,
				"step":      step.Name,
				"panic":     fmt.Sprintf("%v", r),
			})
			result = capability.Failed(provider, step.Capability,
				fmt.Sprintf("adapter panic: %v", r), capability.ErrCodeException, true)
		}
	}()
	return adapter.Execute(ctx, step.Capability, input, step.Options)
}

// buildChain resolves the ordered provider list for a step: the first
// provider preference leads, the registry fills in fallbacks, and the
// required quality tier filters the result when degradation is disallowed.
func (e *Executor) buildChain(step *PipelineStep) []string {
	cfg := step.FallbackConfig
	maxFallbacks := cfg.MaxFallbacks
	if !cfg.Enabled {
		maxFallbacks = 0
	}
	var primary string
	if len(step.ProviderPreference) > 0 {
		primary = step.ProviderPreference[0]
	}
	chain := e.registry.BuildFallbackChain(step.Capability, capability.FallbackOptions{
		Primary:           primary,
		MaxFallbacks:      maxFallbacks,
		ExcludeProviders:  cfg.ExcludedProviders,
		PreferSameQuality: cfg.PreferSameQuality,
	})
	if step.RequiredQualityTier == "" || cfg.FallbackQualityDegradation {
		return chain
	}
	kept := chain[:0]
	for _, name := range chain {
		reg, ok := e.registry.GetProvider(name)
		if !ok {
			continue
		}
		meta := reg.Metadata(step.Capability)
		if meta != nil && meta.QualityTier.AtLeast(step.RequiredQualityTier) {
			kept = append(kept, name)
		}
	}
	return kept
}

// adapterFor returns a cached adapter for (provider, apiKey, model) or
// constructs one through the registry factory.
func (e *Executor) adapterFor(provider string, step *PipelineStep, opts ExecutionOptions) (capability.Adapter, error) {
	apiKey := opts.APIKeys[provider]
	model := opts.Models[provider]
	key := provider + "\x00" + apiKey + "\x00" + model

	if cached, ok := e.adapterCache.Load(key); ok {
		return cached.(capability.Adapter), nil
	}
	adapter, err := e.registry.CreateAdapter(provider, capability.AdapterConfig{
		APIKey:    apiKey,
		Model:     model,
		BaseURL:   opts.BaseURLs[provider],
		Timeout:   step.Timeout,
		Logger:    e.logger,
		Telemetry: e.telemetry,
	})
	if err != nil {
		return nil, err
	}
	e.adapterCache.Store(key, adapter)
	return adapter, nil
}
