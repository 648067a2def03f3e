// Package saga wraps the pipeline executor with workflow event emission and
// compensation: when a required step fails or the execution is cancelled,
// completed steps are rolled back in reverse order through their registered
// compensation actions.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
	"github.com/voxlane/maestro/events"
	"github.com/voxlane/maestro/pipeline"
)

// Options extend the executor options with saga-level controls.
type Options struct {
	pipeline.ExecutionOptions
	// BudgetLimitUSD, when positive, enables mid-flight budget events: a
	// BUDGET_WARNING at 80% of the limit and a BUDGET_EXCEEDED past it.
	// Mid-flight overruns never abort the execution; enforcement is the
	// pre-flight check's job.
	BudgetLimitUSD float64
}

// Coordinator executes pipelines with full event emission and compensation.
// It exposes the same shape as the executor: definition in, result out.
type Coordinator struct {
	executor  *pipeline.Executor
	store     *events.Store
	logger    core.Logger
	telemetry core.Telemetry
}

// NewCoordinator creates a saga coordinator over an executor and event store.
func NewCoordinator(executor *pipeline.Executor, store *events.Store, logger core.Logger, telemetry core.Telemetry) *Coordinator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Coordinator{
		executor:  executor,
		store:     store,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Execute runs the pipeline, emitting workflow events for every transition.
// Step failures come back inside the PipelineResult; the error return covers
// invalid invocations only. Compensation runs before the result is returned,
// including after external cancellation.
func (c *Coordinator) Execute(ctx context.Context, def *pipeline.PipelineDefinition, input map[string]interface{}, opts Options) (*pipeline.PipelineResult, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, core.NewOrchestratorError("saga.Execute", "saga", core.ErrPipelineInvalid)
	}

	pctx := pipeline.NewPipelineContext(def.Name, opts.TenantID, input)
	em := &emitter{
		store:          c.store,
		next:           opts.Observer,
		budgetLimitUSD: opts.BudgetLimitUSD,
	}
	execOpts := opts.ExecutionOptions
	execOpts.Observer = em

	inputKeys := make([]string, 0, len(input))
	for k := range input {
		inputKeys = append(inputKeys, k)
	}
	c.store.Append(events.NewWorkflowStarted(pctx.ExecutionID, pctx.TenantID,
		def.Name, def.Version, inputKeys, def.EstimatedCostUsd, def.EstimatedDuration))

	pctx, err := c.executor.Run(ctx, def, pctx, execOpts)
	if err != nil {
		return nil, err
	}

	if pctx.FailedStep != "" || pctx.Cancelled {
		// Runs even with no completed steps: the compensation phase still
		// opens and closes, reporting an empty full rollback.
		if def.EnableCompensation {
			c.compensate(def, pctx)
		}
		durationMs := time.Since(pctx.StartedAt).Milliseconds()
		if pctx.Cancelled {
			c.store.Append(events.NewWorkflowCancelled(pctx.ExecutionID, pctx.TenantID,
				pctx.FailedStep, durationMs, len(pctx.CompensatedSteps) > 0 || len(pctx.CompensationErrors) > 0))
		} else {
			errorCode := ""
			if sr := pctx.StepResults[pctx.FailedStep]; sr != nil {
				errorCode = sr.ErrorCode
			}
			c.store.Append(events.NewWorkflowFailed(pctx.ExecutionID, pctx.TenantID,
				pctx.FailedStep, pctx.FailureError, errorCode, durationMs,
				len(pctx.CompensatedSteps) > 0 || len(pctx.CompensationErrors) > 0))
		}
		return pctx.Result(def), nil
	}

	result := pctx.Result(def)
	c.store.Append(events.NewWorkflowCompleted(pctx.ExecutionID, pctx.TenantID,
		result.TotalDurationMs, result.TotalCostUsd, result.CompletedSteps))
	return result, nil
}

// compensate rolls back completed steps in reverse order. Every step with a
// compensation action is attempted even when earlier ones fail; the whole
// pass runs under the definition's compensation timeout, detached from the
// (possibly cancelled) execution context.
func (c *Coordinator) compensate(def *pipeline.PipelineDefinition, pctx *pipeline.PipelineContext) {
	stepsToCompensate := make([]string, 0, len(pctx.CompletedSteps))
	for i := len(pctx.CompletedSteps) - 1; i >= 0; i-- {
		stepsToCompensate = append(stepsToCompensate, pctx.CompletedSteps[i])
	}
	c.store.Append(events.NewCompensationStarted(pctx.ExecutionID, pctx.TenantID, stepsToCompensate))

	overall := def.CompensationTimeout
	if overall <= 0 {
		overall = pipeline.DefaultCompensationTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), overall)
	defer cancel()

	var failed []string
	for _, name := range stepsToCompensate {
		step, ok := def.GetStep(name)
		if !ok || step.Compensation == nil || step.Compensation.Handler == nil {
			continue
		}
		if sr := pctx.StepResults[name]; sr != nil {
			sr.Status = pipeline.StepCompensating
		}

		start := time.Now()
		err := c.runAction(ctx, step.Compensation, pctx.Data)
		durationMs := time.Since(start).Milliseconds()

		if err != nil {
			failed = append(failed, name)
			pctx.CompensationErrors = append(pctx.CompensationErrors,
				fmt.Sprintf("%s: %v", name, err))
			c.store.Append(events.NewCompensationStep(pctx.ExecutionID, pctx.TenantID,
				name, false, err.Error(), durationMs))
			c.logger.Error("Compensation failed", map[string]interface{}{
				"operation":    "compensation_failed",
				"execution_id": pctx.ExecutionID,
				"step":         name,
				"error":        err.Error(),
			})
			continue
		}

		pctx.CompensatedSteps = append(pctx.CompensatedSteps, name)
		if sr := pctx.StepResults[name]; sr != nil {
			sr.Status = pipeline.StepCompensated
		}
		c.store.Append(events.NewCompensationStep(pctx.ExecutionID, pctx.TenantID,
			name, true, "", durationMs))
	}

	c.store.Append(events.NewCompensationCompleted(pctx.ExecutionID, pctx.TenantID,
		pctx.CompensatedSteps, failed, len(failed) == 0))
	c.logger.Info("Compensation finished", map[string]interface{}{
		"operation":     "compensation_completed",
		"execution_id":  pctx.ExecutionID,
		"compensated":   len(pctx.CompensatedSteps),
		"failed":        len(failed),
		"full_rollback": len(failed) == 0,
	})
}

// runAction invokes one compensation handler under its per-action timeout.
// The handler runs on its own goroutine so a handler that ignores its
// context cannot stall the whole rollback; on timeout the goroutine is
// abandoned and the action counts as failed.
func (c *Coordinator) runAction(ctx context.Context, action *pipeline.CompensationAction, data map[string]interface{}) error {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = pipeline.DefaultActionTimeout
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("compensation panic: %v", r)
			}
		}()
		done <- action.Handler(actionCtx, data)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
		return fmt.Errorf("compensation timed out after %s", timeout)
	}
}

// emitter translates executor transitions into events, forwarding each
// transition to the caller's observer when one was supplied.
type emitter struct {
	store          *events.Store
	next           pipeline.Observer
	budgetLimitUSD float64
	budgetWarned   bool
	budgetExceeded bool
}

func (e *emitter) StepStarted(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, index, total int) {
	e.store.Append(events.NewStepStarted(pctx.ExecutionID, pctx.TenantID,
		step.Name, index, total, string(step.Capability), step.ProviderPreference))
	if e.next != nil {
		e.next.StepStarted(pctx, step, index, total)
	}
}

func (e *emitter) StepCompleted(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, result *pipeline.StepResult) {
	e.store.Append(events.NewStepCompleted(pctx.ExecutionID, pctx.TenantID,
		step.Name, result.ProviderUsed, result.FallbacksAttempted, result.Retries,
		result.DurationMs(), result.CostUsd(), step.OutputKey))
	if e.next != nil {
		e.next.StepCompleted(pctx, step, result)
	}
}

func (e *emitter) StepFailed(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, result *pipeline.StepResult, continuePipeline bool) {
	e.store.Append(events.NewStepFailed(pctx.ExecutionID, pctx.TenantID,
		step.Name, result.Error, result.ErrorCode, result.FallbacksAttempted,
		result.Retries, result.DurationMs(), continuePipeline))
	if e.next != nil {
		e.next.StepFailed(pctx, step, result, continuePipeline)
	}
}

func (e *emitter) StepSkipped(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, reason string) {
	e.store.Append(events.NewStepSkipped(pctx.ExecutionID, pctx.TenantID, step.Name, reason))
	if e.next != nil {
		e.next.StepSkipped(pctx, step, reason)
	}
}

func (e *emitter) StepRetrying(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, provider string, nextAttempt int, delay time.Duration, errorCode string) {
	e.store.Append(events.NewStepRetrying(pctx.ExecutionID, pctx.TenantID,
		step.Name, provider, nextAttempt, delay.Milliseconds(), errorCode))
	if e.next != nil {
		e.next.StepRetrying(pctx, step, provider, nextAttempt, delay, errorCode)
	}
}

func (e *emitter) ProviderFallback(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, from, to, lastError, lastErrorCode string) {
	e.store.Append(events.NewProviderFallback(pctx.ExecutionID, pctx.TenantID,
		step.Name, from, to, lastError, lastErrorCode))
	if lastErrorCode == capability.ErrCodeServiceUnavailable || lastErrorCode == capability.ErrCodeUnauthorized {
		e.store.Append(events.NewProviderUnavailable(pctx.ExecutionID, pctx.TenantID, from, lastError))
	}
	if e.next != nil {
		e.next.ProviderFallback(pctx, step, from, to, lastError, lastErrorCode)
	}
}

func (e *emitter) Progress(pctx *pipeline.PipelineContext, percent float64, currentStep string) {
	e.store.Append(events.NewProgressUpdate(pctx.ExecutionID, pctx.TenantID, percent, currentStep))
	if e.next != nil {
		e.next.Progress(pctx, percent, currentStep)
	}
}

func (e *emitter) CheckpointReached(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep) {
	e.store.Append(events.NewCheckpointReached(pctx.ExecutionID, pctx.TenantID,
		step.Name, pctx.ProgressPercent))
	if e.next != nil {
		e.next.CheckpointReached(pctx, step)
	}
}

func (e *emitter) CostIncurred(pctx *pipeline.PipelineContext, step *pipeline.PipelineStep, result *capability.OperationResult) {
	e.store.Append(events.NewCostIncurred(pctx.ExecutionID, pctx.TenantID,
		step.Name, result.ProviderName, string(result.Capability), result.CostUsd, result.Usage))
	e.checkBudget(pctx)
	if e.next != nil {
		e.next.CostIncurred(pctx, step, result)
	}
}

func (e *emitter) ExecutionTimeout(pctx *pipeline.PipelineContext, currentStep string, elapsed time.Duration) {
	e.store.Append(events.NewExecutionTimeout(pctx.ExecutionID, pctx.TenantID,
		currentStep, elapsed.Milliseconds()))
	if e.next != nil {
		e.next.ExecutionTimeout(pctx, currentStep, elapsed)
	}
}

// checkBudget emits at most one BUDGET_WARNING and one BUDGET_EXCEEDED per
// execution against the per-execution limit.
func (e *emitter) checkBudget(pctx *pipeline.PipelineContext) {
	if e.budgetLimitUSD <= 0 {
		return
	}
	spent := pctx.TotalCostUsd
	switch {
	case spent > e.budgetLimitUSD && !e.budgetExceeded:
		e.budgetExceeded = true
		e.store.Append(events.NewBudgetExceeded(pctx.ExecutionID, pctx.TenantID,
			"EXECUTION", e.budgetLimitUSD, spent, "WARNED"))
	case spent >= 0.8*e.budgetLimitUSD && !e.budgetWarned:
		e.budgetWarned = true
		e.store.Append(events.NewBudgetWarning(pctx.ExecutionID, pctx.TenantID,
			"EXECUTION", e.budgetLimitUSD, spent, spent/e.budgetLimitUSD*100))
	}
}
