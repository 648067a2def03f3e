// Package maestro is the multi-tenant AI workflow orchestrator: declarative
// pipelines of AI operations executed across interchangeable providers with
// capability-based routing, retry and fallback, saga compensation, workflow
// events, per-tenant budgets, and full observability.
package maestro

import (
	"context"
	"time"

	"github.com/voxlane/maestro/budget"
	"github.com/voxlane/maestro/core"
	"github.com/voxlane/maestro/events"
	"github.com/voxlane/maestro/pipeline"
	"github.com/voxlane/maestro/saga"
)

// ExecuteOptions carry per-call settings for Orchestrator.Execute.
type ExecuteOptions struct {
	TenantID string
	// APIKeys maps provider name to the API key for this call.
	APIKeys map[string]string
	// Models maps provider name to a model override.
	Models map[string]string
	// BaseURLs maps provider name to an endpoint override.
	BaseURLs map[string]string
	// BudgetLimitUSD enables per-execution budget events past this limit.
	BudgetLimitUSD float64
	// SkipBudgetCheck bypasses the pre-flight tenant budget check.
	SkipBudgetCheck bool
	// Observer receives execution transitions alongside event emission.
	Observer pipeline.Observer
}

// Orchestrator is the instrumented façade over the saga coordinator: budget
// pre-flight, tracing spans, execution metrics, and spend tracking around
// every pipeline run, plus the read surfaces the transport layer serves.
type Orchestrator struct {
	saga      *saga.Coordinator
	events    *events.Store
	budget    *budget.Service
	logger    core.Logger
	telemetry core.Telemetry
	metrics   core.Metrics
}

// NewOrchestrator wires the façade. budgetSvc may be nil, in which case no
// budget enforcement or spend tracking happens.
func NewOrchestrator(sagaCoord *saga.Coordinator, eventStore *events.Store, budgetSvc *budget.Service, logger core.Logger, telemetry core.Telemetry, metrics core.Metrics) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	return &Orchestrator{
		saga:      sagaCoord,
		events:    eventStore,
		budget:    budgetSvc,
		logger:    logger,
		telemetry: telemetry,
		metrics:   metrics,
	}
}

// Execute runs a pipeline for a tenant. The only error a well-formed request
// can return is *core.BudgetExceededError from the pre-flight check, raised
// before any work, events, or metrics; every other failure comes back inside
// the PipelineResult.
func (o *Orchestrator) Execute(ctx context.Context, def *pipeline.PipelineDefinition, input map[string]interface{}, opts ExecuteOptions) (*pipeline.PipelineResult, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, core.NewOrchestratorError("maestro.Execute", "pipeline", core.ErrPipelineInvalid)
	}

	if o.budget != nil && opts.TenantID != "" && !opts.SkipBudgetCheck {
		check, err := o.budget.CheckBudget(ctx, opts.TenantID, def.EstimatedCostUsd)
		if err != nil {
			return nil, err
		}
		if !check.Allowed {
			return nil, &core.BudgetExceededError{
				TenantID: opts.TenantID,
				Period:   string(check.Period),
				Limit:    check.LimitUsd,
				Current:  check.CurrentSpendUsd,
				Reason:   check.Reason,
			}
		}
		if check.Action == budget.ActionWarned {
			o.logger.Warn("Budget warning on pre-flight check", map[string]interface{}{
				"operation": "budget_preflight",
				"tenant_id": opts.TenantID,
				"pipeline":  def.Name,
				"period":    string(check.Period),
				"reason":    check.Reason,
			})
		}
	}

	labels := map[string]string{
		"pipeline":  def.Name,
		"tenant_id": opts.TenantID,
	}
	o.metrics.Counter("maestro_pipeline_started_total", labels)
	o.metrics.Gauge("maestro_pipelines_in_flight", 1, labels)
	defer func() {
		o.metrics.Gauge("maestro_pipelines_in_flight", -1, labels)
		o.metrics.Counter("maestro_pipeline_completed_total", labels)
	}()

	ctx, span := o.telemetry.StartSpan(ctx, "maestro.execute")
	span.SetAttribute("pipeline.name", def.Name)
	span.SetAttribute("tenant.id", opts.TenantID)
	defer span.End()

	start := time.Now()
	result, err := o.saga.Execute(ctx, def, input, saga.Options{
		ExecutionOptions: pipeline.ExecutionOptions{
			TenantID: opts.TenantID,
			APIKeys:  opts.APIKeys,
			Models:   opts.Models,
			BaseURLs: opts.BaseURLs,
			Observer: opts.Observer,
		},
		BudgetLimitUSD: opts.BudgetLimitUSD,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.recordExecution(def, result, time.Since(start))
	span.SetAttribute("execution.id", result.ExecutionID)
	span.SetAttribute("pipeline.success", result.Success)
	span.SetAttribute("pipeline.total_cost_usd", result.TotalCostUsd)
	if !result.Success {
		span.RecordError(&core.PipelineExecutionError{
			PipelineName: def.Name,
			StepName:     result.FailedStep,
			Message:      result.Error,
		})
	}

	if o.budget != nil && opts.TenantID != "" && result.TotalCostUsd > 0 {
		if err := o.budget.TrackSpend(ctx, budget.SpendRecord{
			TenantID:     opts.TenantID,
			CostUsd:      result.TotalCostUsd,
			PipelineName: def.Name,
			ExecutionID:  result.ExecutionID,
		}); err != nil {
			o.logger.Error("Failed to track spend", map[string]interface{}{
				"operation":    "spend_tracking_error",
				"tenant_id":    opts.TenantID,
				"execution_id": result.ExecutionID,
				"error":        err.Error(),
			})
		} else {
			o.events.Append(events.NewSpendRecorded(result.ExecutionID, opts.TenantID,
				def.Name, "", "", result.TotalCostUsd))
		}
	}
	return result, nil
}

func (o *Orchestrator) recordExecution(def *pipeline.PipelineDefinition, result *pipeline.PipelineResult, elapsed time.Duration) {
	status := "success"
	if result.Cancelled {
		status = "cancelled"
	} else if !result.Success {
		status = "failed"
	}
	labels := map[string]string{
		"pipeline": def.Name,
		"status":   status,
	}
	o.metrics.Histogram("maestro_pipeline_duration_seconds", elapsed.Seconds(), labels)
	o.metrics.Histogram("maestro_pipeline_cost_usd", result.TotalCostUsd, labels)
	o.metrics.Histogram("maestro_pipeline_steps", float64(len(result.StepResults)), labels)

	for _, sr := range result.StepResults {
		stepLabels := map[string]string{
			"pipeline": def.Name,
			"step":     sr.StepName,
			"status":   string(sr.Status),
			"provider": sr.ProviderUsed,
		}
		o.metrics.Counter("maestro_step_total", stepLabels)
		if sr.CompletedAt != nil {
			o.metrics.Histogram("maestro_step_duration_seconds",
				float64(sr.DurationMs())/1000, stepLabels)
		}
		if sr.ProviderUsed != "" && sr.OperationResult != nil {
			o.metrics.Histogram("maestro_provider_cost_usd", sr.CostUsd(), map[string]string{
				"provider":   sr.ProviderUsed,
				"capability": string(sr.OperationResult.Capability),
			})
		}
	}
}

// StreamEvents subscribes to an execution's future events, optionally
// filtered by type. Close the subscription when done.
func (o *Orchestrator) StreamEvents(executionID string, eventTypes ...events.EventType) *events.Subscription {
	return o.events.Subscribe(events.Filter{
		ExecutionID: executionID,
		EventTypes:  eventTypes,
	})
}

// GetEvents returns an execution's stored events.
func (o *Orchestrator) GetEvents(f events.Filter) []*events.Event {
	return o.events.GetEvents(f)
}

// GetWorkflowState folds an execution's events into its last-known state.
func (o *Orchestrator) GetWorkflowState(executionID string) (*events.WorkflowState, error) {
	return o.events.GetWorkflowState(executionID)
}

// GetExecution reconstructs a PipelineResult view from the event stream, for
// callers that poll instead of holding the Execute return.
func (o *Orchestrator) GetExecution(executionID string) (*pipeline.PipelineResult, error) {
	state, err := o.events.GetWorkflowState(executionID)
	if err != nil {
		return nil, err
	}
	result := &pipeline.PipelineResult{
		ExecutionID:           state.ExecutionID,
		PipelineName:          state.PipelineName,
		Success:               state.Status == events.StatusCompleted,
		CompletedSteps:        state.CompletedSteps,
		SkippedSteps:          state.SkippedSteps,
		FailedStep:            state.FailedStep,
		Error:                 state.Error,
		TotalDurationMs:       state.DurationMs,
		TotalCostUsd:          state.TotalCostUsd,
		StartedAt:             state.StartedAt,
		Cancelled:             state.Status == events.StatusCancelled,
		CompensationPerformed: state.CompensationPerformed,
	}
	if state.Status != events.StatusRunning {
		result.CompletedAt = state.UpdatedAt
	}
	return result, nil
}

// GetProgress returns an execution's progress percentage.
func (o *Orchestrator) GetProgress(executionID string) (float64, error) {
	state, err := o.events.GetWorkflowState(executionID)
	if err != nil {
		return 0, err
	}
	return state.ProgressPercent, nil
}

// GetBudgetStatus returns a tenant's budget standing.
func (o *Orchestrator) GetBudgetStatus(ctx context.Context, tenantID string) (*budget.BudgetStatus, error) {
	if o.budget == nil {
		return nil, core.NewOrchestratorError("maestro.GetBudgetStatus", "budget",
			core.ErrBudgetNotConfigured)
	}
	return o.budget.GetBudgetStatus(ctx, tenantID)
}

// GetSpendSummary returns a tenant's spend for the current period.
func (o *Orchestrator) GetSpendSummary(ctx context.Context, tenantID string, period budget.Period) (*budget.SpendSummary, error) {
	if o.budget == nil {
		return nil, core.NewOrchestratorError("maestro.GetSpendSummary", "budget",
			core.ErrBudgetNotConfigured)
	}
	return o.budget.GetSpendSummary(ctx, tenantID, period)
}
