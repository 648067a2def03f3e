package pipeline

import (
	"time"

	"github.com/voxlane/maestro/capability"
)

// Observer receives execution transitions as they happen. The saga layer
// implements this to translate transitions into workflow events; callers
// that do not care use NoopObserver. Callbacks run synchronously on the
// executing goroutine and must not block.
type Observer interface {
	StepStarted(pctx *PipelineContext, step *PipelineStep, index, total int)
	StepCompleted(pctx *PipelineContext, step *PipelineStep, result *StepResult)
	StepFailed(pctx *PipelineContext, step *PipelineStep, result *StepResult, continuePipeline bool)
	StepSkipped(pctx *PipelineContext, step *PipelineStep, reason string)
	StepRetrying(pctx *PipelineContext, step *PipelineStep, provider string, nextAttempt int, delay time.Duration, errorCode string)
	ProviderFallback(pctx *PipelineContext, step *PipelineStep, from, to, lastError, lastErrorCode string)
	Progress(pctx *PipelineContext, percent float64, currentStep string)
	CheckpointReached(pctx *PipelineContext, step *PipelineStep)
	CostIncurred(pctx *PipelineContext, step *PipelineStep, result *capability.OperationResult)
	ExecutionTimeout(pctx *PipelineContext, currentStep string, elapsed time.Duration)
}

// NoopObserver ignores every transition.
type NoopObserver struct{}

func (NoopObserver) StepStarted(*PipelineContext, *PipelineStep, int, int)         {}
func (NoopObserver) StepCompleted(*PipelineContext, *PipelineStep, *StepResult)    {}
func (NoopObserver) StepFailed(*PipelineContext, *PipelineStep, *StepResult, bool) {}
func (NoopObserver) StepSkipped(*PipelineContext, *PipelineStep, string)           {}
func (NoopObserver) StepRetrying(*PipelineContext, *PipelineStep, string, int, time.Duration, string) {
}
func (NoopObserver) ProviderFallback(*PipelineContext, *PipelineStep, string, string, string, string) {
}
func (NoopObserver) Progress(*PipelineContext, float64, string)        {}
func (NoopObserver) CheckpointReached(*PipelineContext, *PipelineStep) {}
func (NoopObserver) CostIncurred(*PipelineContext, *PipelineStep, *capability.OperationResult) {
}
func (NoopObserver) ExecutionTimeout(*PipelineContext, string, time.Duration) {}
