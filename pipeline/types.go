// Package pipeline defines declarative pipelines of AI operations and the
// executor that runs them: ordered steps pinned to capabilities, per-step
// retry/fallback/timeout policy, conditional execution, and the mutable
// per-execution context step outputs flow through.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voxlane/maestro/capability"
)

// StepStatus represents individual step status
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepRunning      StepStatus = "RUNNING"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepSkipped      StepStatus = "SKIPPED"
	StepCompensating StepStatus = "COMPENSATING"
	StepCompensated  StepStatus = "COMPENSATED"
)

// RetryPolicy controls the per-provider retry loop inside a step.
type RetryPolicy struct {
	MaxAttempts        int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay       time.Duration `json:"initial_delay" yaml:"initial_delay"`
	ExponentialBackoff bool          `json:"exponential_backoff" yaml:"exponential_backoff"`
	BackoffMultiplier  float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay           time.Duration `json:"max_delay" yaml:"max_delay"`
	// RetryableErrors, when set, is an allow-list of error codes that may be
	// retried; any other code breaks the loop regardless of the result's
	// retryable flag.
	RetryableErrors []string `json:"retryable_errors,omitempty" yaml:"retryable_errors,omitempty"`
}

// DefaultRetryPolicy provides the standard 3-attempt exponential policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialDelay:       time.Second,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
		MaxDelay:           30 * time.Second,
	}
}

// DelayForAttempt returns the sleep before retry attempt n (1-based):
// min(initialDelay x multiplier^(n-1), maxDelay) when exponential, else the
// initial delay.
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if !p.ExponentialBackoff {
		return p.InitialDelay
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// AllowsCode reports whether the policy permits retrying after errorCode,
// consulting the allow-list when one is configured.
func (p RetryPolicy) AllowsCode(errorCode string) bool {
	if len(p.RetryableErrors) == 0 {
		return true
	}
	for _, code := range p.RetryableErrors {
		if code == errorCode {
			return true
		}
	}
	return false
}

// FallbackConfig controls provider fallback for a step.
type FallbackConfig struct {
	Enabled                    bool     `json:"enabled" yaml:"enabled"`
	MaxFallbacks               int      `json:"max_fallbacks" yaml:"max_fallbacks"`
	PreferSameQuality          bool     `json:"prefer_same_quality" yaml:"prefer_same_quality"`
	FallbackQualityDegradation bool     `json:"fallback_quality_degradation" yaml:"fallback_quality_degradation"`
	ExcludedProviders          []string `json:"excluded_providers,omitempty" yaml:"excluded_providers,omitempty"`
}

// DefaultFallbackConfig enables fallback to up to three alternates.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Enabled:                    true,
		MaxFallbacks:               3,
		PreferSameQuality:          true,
		FallbackQualityDegradation: true,
	}
}

// ConditionOperator is a path-predicate operator for StepCondition.
type ConditionOperator string

const (
	OpExists    ConditionOperator = "EXISTS"
	OpNotExists ConditionOperator = "NOT_EXISTS"
	OpEquals    ConditionOperator = "EQUALS"
	OpNotEquals ConditionOperator = "NOT_EQUALS"
	OpContains  ConditionOperator = "CONTAINS"
	OpGT        ConditionOperator = "GT"
	OpLT        ConditionOperator = "LT"
)

// StepCondition gates step execution. Either a path-based predicate
// evaluated against the context data by dot navigation, or a closure.
type StepCondition struct {
	ContextPath string            `json:"context_path,omitempty" yaml:"context_path,omitempty"`
	Operator    ConditionOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value       interface{}       `json:"value,omitempty" yaml:"value,omitempty"`

	// Predicate, when set, takes precedence over the path form.
	Predicate func(data map[string]interface{}) bool `json:"-" yaml:"-"`
}

// Evaluate applies the condition to the context data.
func (c *StepCondition) Evaluate(data map[string]interface{}) bool {
	if c == nil {
		return true
	}
	if c.Predicate != nil {
		return c.Predicate(data)
	}
	val, found := NavigatePath(data, c.ContextPath)
	switch c.Operator {
	case OpExists:
		return found
	case OpNotExists:
		return !found
	case OpEquals:
		return found && equalValues(val, c.Value)
	case OpNotEquals:
		return !found || !equalValues(val, c.Value)
	case OpContains:
		if !found {
			return false
		}
		s, ok := val.(string)
		sub, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(s, sub)
	case OpGT:
		return found && compareNumbers(val, c.Value) > 0
	case OpLT:
		return found && compareNumbers(val, c.Value) < 0
	default:
		return false
	}
}

// NavigatePath walks data by dot-separated keys. Any missing segment or
// non-map intermediate yields (nil, false).
func NavigatePath(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumbers returns -1/0/+1, or 0 when either side is not numeric.
func compareNumbers(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af > bf:
		return 1
	case af < bf:
		return -1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// CompensationHandler undoes a completed step during saga unwind. A nil
// return is success; an error (or the per-action timeout) is a failed
// compensation.
type CompensationHandler func(ctx context.Context, data map[string]interface{}) error

// CompensationAction is a per-step rollback action.
type CompensationAction struct {
	Handler     CompensationHandler `json:"-" yaml:"-"`
	Description string              `json:"description" yaml:"description"`
	Timeout     time.Duration       `json:"timeout" yaml:"timeout"`
	Required    bool                `json:"required" yaml:"required"`
}

// PipelineStep is one unit of work, pinned to a capability. Immutable after
// Build.
type PipelineStep struct {
	Name                string                 `json:"name" yaml:"name"`
	Capability          capability.Capability  `json:"capability" yaml:"capability"`
	ProviderPreference  []string               `json:"provider_preference,omitempty" yaml:"provider_preference,omitempty"`
	RequiredQualityTier capability.QualityTier `json:"required_quality_tier,omitempty" yaml:"required_quality_tier,omitempty"`
	Options             map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
	InputKey            string                 `json:"input_key,omitempty" yaml:"input_key,omitempty"`
	OutputKey           string                 `json:"output_key,omitempty" yaml:"output_key,omitempty"`

	InputTransform  func(data map[string]interface{}) interface{} `json:"-" yaml:"-"`
	OutputTransform func(output interface{}) interface{}          `json:"-" yaml:"-"`

	Condition         *StepCondition      `json:"condition,omitempty" yaml:"condition,omitempty"`
	ContinueOnFailure bool                `json:"continue_on_failure" yaml:"continue_on_failure"`
	Required          bool                `json:"required" yaml:"required"`
	FallbackConfig    FallbackConfig      `json:"fallback_config" yaml:"fallback_config"`
	RetryPolicy       RetryPolicy         `json:"retry_policy" yaml:"retry_policy"`
	Timeout           time.Duration       `json:"timeout" yaml:"timeout"`
	Compensation      *CompensationAction `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	ProgressWeight    float64             `json:"progress_weight" yaml:"progress_weight"`
}

// PipelineDefinition is an immutable ordered sequence of steps with global
// policy. Built once, reused across executions, never mutated.
type PipelineDefinition struct {
	Name                string         `json:"name" yaml:"name"`
	Version             string         `json:"version" yaml:"version"`
	Description         string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tags                []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Steps               []PipelineStep `json:"steps" yaml:"steps"`
	Timeout             time.Duration  `json:"timeout" yaml:"timeout"`
	FailFast            bool           `json:"fail_fast" yaml:"fail_fast"`
	EnableCompensation  bool           `json:"enable_compensation" yaml:"enable_compensation"`
	CompensationTimeout time.Duration  `json:"compensation_timeout" yaml:"compensation_timeout"`
	ProgressCheckpoints []string       `json:"progress_checkpoints,omitempty" yaml:"progress_checkpoints,omitempty"`
	EstimatedDuration   time.Duration  `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	EstimatedCostUsd    float64        `json:"estimated_cost_usd,omitempty" yaml:"estimated_cost_usd,omitempty"`
}

// GetStep returns the step with the given name.
func (d *PipelineDefinition) GetStep(name string) (*PipelineStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// TotalWeight sums the progress weights of all steps.
func (d *PipelineDefinition) TotalWeight() float64 {
	var total float64
	for i := range d.Steps {
		total += d.Steps[i].ProgressWeight
	}
	if total <= 0 {
		total = float64(len(d.Steps))
	}
	return total
}

// IsCheckpoint reports whether stepName is a declared progress checkpoint.
func (d *PipelineDefinition) IsCheckpoint(stepName string) bool {
	for _, name := range d.ProgressCheckpoints {
		if name == stepName {
			return true
		}
	}
	return false
}

// StepResult records one step's execution outcome.
type StepResult struct {
	StepName           string                      `json:"step_name"`
	Status             StepStatus                  `json:"status"`
	OperationResult    *capability.OperationResult `json:"operation_result,omitempty"`
	ProviderUsed       string                      `json:"provider_used,omitempty"`
	FallbacksAttempted []string                    `json:"fallbacks_attempted,omitempty"`
	Retries            int                         `json:"retries"`
	StartedAt          time.Time                   `json:"started_at"`
	CompletedAt        *time.Time                  `json:"completed_at,omitempty"`
	Error              string                      `json:"error,omitempty"`
	ErrorCode          string                      `json:"error_code,omitempty"`
	SkippedReason      string                      `json:"skipped_reason,omitempty"`
}

// DurationMs is the wall time between start and completion.
func (s *StepResult) DurationMs() int64 {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt).Milliseconds()
}

// CostUsd is the cost reported by the winning provider, zero otherwise.
func (s *StepResult) CostUsd() float64 {
	if s.OperationResult == nil {
		return 0
	}
	return s.OperationResult.CostUsd
}

// PipelineContext is the mutable workflow-local state created per execution.
// Owned by exactly one execution; never shared.
type PipelineContext struct {
	ExecutionID        string                 `json:"execution_id"`
	PipelineName       string                 `json:"pipeline_name"`
	TenantID           string                 `json:"tenant_id,omitempty"`
	Data               map[string]interface{} `json:"data"`
	CurrentStep        string                 `json:"current_step,omitempty"`
	CompletedSteps     []string               `json:"completed_steps"`
	SkippedSteps       []string               `json:"skipped_steps"`
	StepResults        map[string]*StepResult `json:"step_results"`
	ProgressPercent    float64                `json:"progress_percent"`
	StartedAt          time.Time              `json:"started_at"`
	CompensatedSteps   []string               `json:"compensated_steps"`
	CompensationErrors []string               `json:"compensation_errors"`
	FailedStep         string                 `json:"failed_step,omitempty"`
	FailureError       string                 `json:"failure_error,omitempty"`
	Cancelled          bool                   `json:"cancelled,omitempty"`
	TotalCostUsd       float64                `json:"total_cost_usd"`
}

// NewPipelineContext seeds a fresh context with the initial input.
func NewPipelineContext(pipelineName, tenantID string, input map[string]interface{}) *PipelineContext {
	data := make(map[string]interface{}, len(input))
	for k, v := range input {
		data[k] = v
	}
	return &PipelineContext{
		ExecutionID:  uuid.New().String(),
		PipelineName: pipelineName,
		TenantID:     tenantID,
		Data:         data,
		StepResults:  make(map[string]*StepResult),
		StartedAt:    time.Now().UTC(),
	}
}

// Result freezes the context into the final PipelineResult summary.
func (c *PipelineContext) Result(def *PipelineDefinition) *PipelineResult {
	completedAt := time.Now().UTC()
	var total float64
	for _, sr := range c.StepResults {
		total += sr.CostUsd()
	}
	output := make(map[string]interface{}, len(c.Data))
	for k, v := range c.Data {
		output[k] = v
	}
	return &PipelineResult{
		ExecutionID:           c.ExecutionID,
		PipelineName:          c.PipelineName,
		PipelineVersion:       def.Version,
		Success:               c.FailedStep == "" && !c.Cancelled,
		CompletedSteps:        append([]string(nil), c.CompletedSteps...),
		SkippedSteps:          append([]string(nil), c.SkippedSteps...),
		FailedStep:            c.FailedStep,
		Error:                 c.FailureError,
		Output:                output,
		StepResults:           c.StepResults,
		TotalDurationMs:       completedAt.Sub(c.StartedAt).Milliseconds(),
		TotalCostUsd:          total,
		StartedAt:             c.StartedAt,
		CompletedAt:           completedAt,
		Cancelled:             c.Cancelled,
		CompensationPerformed: len(c.CompensatedSteps) > 0 || len(c.CompensationErrors) > 0,
		CompensatedSteps:      append([]string(nil), c.CompensatedSteps...),
	}
}

// PipelineResult is the final execution summary returned to callers.
type PipelineResult struct {
	ExecutionID           string                 `json:"execution_id"`
	PipelineName          string                 `json:"pipeline_name"`
	PipelineVersion       string                 `json:"pipeline_version,omitempty"`
	Success               bool                   `json:"success"`
	CompletedSteps        []string               `json:"completed_steps"`
	SkippedSteps          []string               `json:"skipped_steps,omitempty"`
	FailedStep            string                 `json:"failed_step,omitempty"`
	Error                 string                 `json:"error,omitempty"`
	Output                map[string]interface{} `json:"output"`
	StepResults           map[string]*StepResult `json:"step_results"`
	TotalDurationMs       int64                  `json:"total_duration_ms"`
	TotalCostUsd          float64                `json:"total_cost_usd"`
	StartedAt             time.Time              `json:"started_at"`
	CompletedAt           time.Time              `json:"completed_at"`
	Cancelled             bool                   `json:"cancelled,omitempty"`
	CompensationPerformed bool                   `json:"compensation_performed"`
	CompensatedSteps      []string               `json:"compensated_steps,omitempty"`
}
