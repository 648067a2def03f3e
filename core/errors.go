package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Provider-related errors
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderDisabled    = errors.New("provider unavailable")
	ErrNoFactoryRegistered = errors.New("no adapter factory registered")

	// Capability-related errors
	ErrCapabilityNotFound   = errors.New("capability not found")
	ErrCapabilityNotOffered = errors.New("capability not offered by provider")

	// Pipeline errors
	ErrPipelineInvalid   = errors.New("invalid pipeline definition")
	ErrStepNotFound      = errors.New("step not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// Budget errors
	ErrBudgetNotConfigured = errors.New("budget not configured")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// OrchestratorError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OrchestratorError struct {
	Op      string // Operation that failed (e.g., "registry.RegisterProvider")
	Kind    string // Error kind (e.g., "registry", "pipeline", "budget")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OrchestratorError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// NewOrchestratorError creates a new OrchestratorError
func NewOrchestratorError(op, kind string, err error) *OrchestratorError {
	return &OrchestratorError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// BudgetExceededError is raised by the orchestrator before any work when a
// tenant's budget policy blocks execution. It is the only error the execute
// entry point returns for a well-formed request.
type BudgetExceededError struct {
	TenantID string
	Period   string
	Limit    float64
	Current  float64
	Reason   string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for tenant %s (%s): spend %.4f of limit %.4f USD: %s",
		e.TenantID, e.Period, e.Current, e.Limit, e.Reason)
}

// PipelineExecutionError is an optional envelope callers can use to surface a
// failed step as a Go error. The default return path is a PipelineResult with
// Success=false; this exists for callers that prefer error plumbing.
type PipelineExecutionError struct {
	PipelineName string
	StepName     string
	ErrorCode    string
	Message      string
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("pipeline %s failed at step %s [%s]: %s",
		e.PipelineName, e.StepName, e.ErrorCode, e.Message)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProviderNotFound) ||
		errors.Is(err, ErrCapabilityNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsBudgetExceeded checks whether err is (or wraps) a budget block
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
