// Package events provides the append-only workflow event store with pub/sub
// delivery. Every workflow transition becomes one immutable Event; consumers
// query past events or subscribe to future ones, and the store can fold an
// execution's events back into a workflow state summary.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType tags one kind of workflow transition.
type EventType string

const (
	WorkflowStarted   EventType = "WORKFLOW_STARTED"
	WorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	WorkflowFailed    EventType = "WORKFLOW_FAILED"
	WorkflowCancelled EventType = "WORKFLOW_CANCELLED"

	StepStarted   EventType = "STEP_STARTED"
	StepCompleted EventType = "STEP_COMPLETED"
	StepFailed    EventType = "STEP_FAILED"
	StepSkipped   EventType = "STEP_SKIPPED"
	StepRetrying  EventType = "STEP_RETRYING"

	ProviderFallback    EventType = "PROVIDER_FALLBACK"
	ProviderUnavailable EventType = "PROVIDER_UNAVAILABLE"

	ProgressUpdate    EventType = "PROGRESS_UPDATE"
	CheckpointReached EventType = "CHECKPOINT_REACHED"
	ExecutionTimeout  EventType = "EXECUTION_TIMEOUT"

	CostIncurred   EventType = "COST_INCURRED"
	BudgetWarning  EventType = "BUDGET_WARNING"
	BudgetExceeded EventType = "BUDGET_EXCEEDED"
	SpendRecorded  EventType = "SPEND_RECORDED"

	CompensationStarted   EventType = "COMPENSATION_STARTED"
	CompensationStep      EventType = "COMPENSATION_STEP"
	CompensationCompleted EventType = "COMPENSATION_COMPLETED"
)

// AllEventTypes lists every defined event type.
func AllEventTypes() []EventType {
	return []EventType{
		WorkflowStarted, WorkflowCompleted, WorkflowFailed, WorkflowCancelled,
		StepStarted, StepCompleted, StepFailed, StepSkipped, StepRetrying,
		ProviderFallback, ProviderUnavailable,
		ProgressUpdate, CheckpointReached, ExecutionTimeout,
		CostIncurred, BudgetWarning, BudgetExceeded, SpendRecorded,
		CompensationStarted, CompensationStep, CompensationCompleted,
	}
}

// Event is one immutable workflow transition. Type-specific attributes live
// in Fields and are flattened to the top level on serialization, so transports
// can forward events without knowing each variant's shape.
type Event struct {
	EventID     string
	Type        EventType
	ExecutionID string
	TenantID    string
	Timestamp   time.Time
	Metadata    map[string]interface{}
	Fields      map[string]interface{}
}

// New creates an event with a fresh ID and timestamp.
func New(t EventType, executionID, tenantID string, fields map[string]interface{}) *Event {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &Event{
		EventID:     uuid.New().String(),
		Type:        t,
		ExecutionID: executionID,
		TenantID:    tenantID,
		Timestamp:   time.Now().UTC(),
		Fields:      fields,
	}
}

// String returns a value from Fields as a string, or "".
func (e *Event) String(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Float returns a numeric value from Fields, or 0.
func (e *Event) Float(key string) float64 {
	switch n := e.Fields[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// Bool returns a boolean value from Fields, or false.
func (e *Event) Bool(key string) bool {
	b, _ := e.Fields[key].(bool)
	return b
}

// MarshalJSON flattens the event into the wire shape:
// {eventId, eventType, executionId, timestamp, tenantId?, metadata, ...fields}.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+6)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["eventId"] = e.EventID
	out["eventType"] = string(e.Type)
	out["executionId"] = e.ExecutionID
	out["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	if e.TenantID != "" {
		out["tenantId"] = e.TenantID
	}
	if e.Metadata != nil {
		out["metadata"] = e.Metadata
	} else {
		out["metadata"] = map[string]interface{}{}
	}
	return json.Marshal(out)
}

// Constructors for every event variant. Field names match the serialized
// wire shape consumed by stream transports.

func NewWorkflowStarted(executionID, tenantID, pipelineName, version string, inputKeys []string, estimatedCostUsd float64, estimatedDuration time.Duration) *Event {
	return New(WorkflowStarted, executionID, tenantID, map[string]interface{}{
		"pipelineName":        pipelineName,
		"pipelineVersion":     version,
		"inputKeys":           inputKeys,
		"estimatedCostUsd":    estimatedCostUsd,
		"estimatedDurationMs": estimatedDuration.Milliseconds(),
	})
}

func NewWorkflowCompleted(executionID, tenantID string, durationMs int64, totalCostUsd float64, completedSteps []string) *Event {
	return New(WorkflowCompleted, executionID, tenantID, map[string]interface{}{
		"durationMs":     durationMs,
		"totalCostUsd":   totalCostUsd,
		"completedSteps": completedSteps,
	})
}

func NewWorkflowFailed(executionID, tenantID, failedStep, errMsg, errorCode string, durationMs int64, compensationPerformed bool) *Event {
	return New(WorkflowFailed, executionID, tenantID, map[string]interface{}{
		"failedStep":            failedStep,
		"error":                 errMsg,
		"errorCode":             errorCode,
		"durationMs":            durationMs,
		"compensationPerformed": compensationPerformed,
	})
}

func NewWorkflowCancelled(executionID, tenantID, currentStep string, durationMs int64, compensationPerformed bool) *Event {
	return New(WorkflowCancelled, executionID, tenantID, map[string]interface{}{
		"currentStep":           currentStep,
		"durationMs":            durationMs,
		"compensationPerformed": compensationPerformed,
	})
}

func NewStepStarted(executionID, tenantID, step string, index, total int, capability string, providerPreference []string) *Event {
	return New(StepStarted, executionID, tenantID, map[string]interface{}{
		"step":               step,
		"stepIndex":          index,
		"totalSteps":         total,
		"capability":         capability,
		"providerPreference": providerPreference,
	})
}

func NewStepCompleted(executionID, tenantID, step, providerUsed string, fallbacksAttempted []string, retries int, durationMs int64, costUsd float64, outputKey string) *Event {
	return New(StepCompleted, executionID, tenantID, map[string]interface{}{
		"step":               step,
		"providerUsed":       providerUsed,
		"fallbacksAttempted": fallbacksAttempted,
		"retries":            retries,
		"durationMs":         durationMs,
		"costUsd":            costUsd,
		"outputKey":          outputKey,
	})
}

func NewStepFailed(executionID, tenantID, step, errMsg, errorCode string, fallbacksAttempted []string, retries int, durationMs int64, continuePipeline bool) *Event {
	return New(StepFailed, executionID, tenantID, map[string]interface{}{
		"step":               step,
		"error":              errMsg,
		"errorCode":          errorCode,
		"fallbacksAttempted": fallbacksAttempted,
		"retries":            retries,
		"durationMs":         durationMs,
		"continuePipeline":   continuePipeline,
	})
}

func NewStepSkipped(executionID, tenantID, step, reason string) *Event {
	return New(StepSkipped, executionID, tenantID, map[string]interface{}{
		"step":   step,
		"reason": reason,
	})
}

func NewStepRetrying(executionID, tenantID, step, provider string, nextAttempt int, delayMs int64, errorCode string) *Event {
	return New(StepRetrying, executionID, tenantID, map[string]interface{}{
		"step":        step,
		"provider":    provider,
		"nextAttempt": nextAttempt,
		"delayMs":     delayMs,
		"errorCode":   errorCode,
	})
}

func NewProviderFallback(executionID, tenantID, step, fromProvider, toProvider, lastError, lastErrorCode string) *Event {
	return New(ProviderFallback, executionID, tenantID, map[string]interface{}{
		"step":          step,
		"fromProvider":  fromProvider,
		"toProvider":    toProvider,
		"lastError":     lastError,
		"lastErrorCode": lastErrorCode,
	})
}

func NewProviderUnavailable(executionID, tenantID, provider, reason string) *Event {
	return New(ProviderUnavailable, executionID, tenantID, map[string]interface{}{
		"provider": provider,
		"reason":   reason,
	})
}

func NewProgressUpdate(executionID, tenantID string, percent float64, currentStep string) *Event {
	return New(ProgressUpdate, executionID, tenantID, map[string]interface{}{
		"percent":     percent,
		"currentStep": currentStep,
	})
}

func NewCheckpointReached(executionID, tenantID, step string, percent float64) *Event {
	return New(CheckpointReached, executionID, tenantID, map[string]interface{}{
		"step":    step,
		"percent": percent,
	})
}

func NewExecutionTimeout(executionID, tenantID, currentStep string, elapsedMs int64) *Event {
	return New(ExecutionTimeout, executionID, tenantID, map[string]interface{}{
		"currentStep": currentStep,
		"elapsedMs":   elapsedMs,
	})
}

func NewCostIncurred(executionID, tenantID, step, provider, capability string, costUsd float64, usage map[string]float64) *Event {
	return New(CostIncurred, executionID, tenantID, map[string]interface{}{
		"step":       step,
		"provider":   provider,
		"capability": capability,
		"costUsd":    costUsd,
		"usage":      usage,
	})
}

func NewBudgetWarning(executionID, tenantID, period string, limitUsd, currentUsd, percentUsed float64) *Event {
	return New(BudgetWarning, executionID, tenantID, map[string]interface{}{
		"period":      period,
		"limitUsd":    limitUsd,
		"currentUsd":  currentUsd,
		"percentUsed": percentUsed,
	})
}

func NewBudgetExceeded(executionID, tenantID, period string, limitUsd, currentUsd float64, action string) *Event {
	return New(BudgetExceeded, executionID, tenantID, map[string]interface{}{
		"period":     period,
		"limitUsd":   limitUsd,
		"currentUsd": currentUsd,
		"action":     action,
	})
}

func NewSpendRecorded(executionID, tenantID, pipelineName, provider, capability string, costUsd float64) *Event {
	return New(SpendRecorded, executionID, tenantID, map[string]interface{}{
		"pipelineName": pipelineName,
		"provider":     provider,
		"capability":   capability,
		"costUsd":      costUsd,
	})
}

func NewCompensationStarted(executionID, tenantID string, stepsToCompensate []string) *Event {
	return New(CompensationStarted, executionID, tenantID, map[string]interface{}{
		"stepsToCompensate": stepsToCompensate,
	})
}

func NewCompensationStep(executionID, tenantID, step string, success bool, errMsg string, durationMs int64) *Event {
	fields := map[string]interface{}{
		"step":       step,
		"success":    success,
		"durationMs": durationMs,
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	return New(CompensationStep, executionID, tenantID, fields)
}

func NewCompensationCompleted(executionID, tenantID string, compensatedSteps, failedCompensations []string, fullRollback bool) *Event {
	return New(CompensationCompleted, executionID, tenantID, map[string]interface{}{
		"compensatedSteps":    compensatedSteps,
		"failedCompensations": failedCompensations,
		"fullRollback":        fullRollback,
	})
}
