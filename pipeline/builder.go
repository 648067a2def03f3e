package pipeline

import (
	"fmt"
	"time"

	"github.com/voxlane/maestro/capability"
	"github.com/voxlane/maestro/core"
)

// Default policy values applied by the builder.
const (
	DefaultStepTimeout         = 120 * time.Second
	DefaultPipelineTimeout     = 600 * time.Second
	DefaultCompensationTimeout = 120 * time.Second
	DefaultActionTimeout       = 30 * time.Second
)

// PipelineBuilder constructs immutable PipelineDefinitions. Each setter
// returns the builder; Build validates and emits the frozen definition.
type PipelineBuilder struct {
	def  PipelineDefinition
	errs []error
}

// NewPipeline starts a pipeline definition with the given name.
func NewPipeline(name string) *PipelineBuilder {
	return &PipelineBuilder{
		def: PipelineDefinition{
			Name:                name,
			Version:             "1.0",
			Timeout:             DefaultPipelineTimeout,
			FailFast:            true,
			EnableCompensation:  true,
			CompensationTimeout: DefaultCompensationTimeout,
		},
	}
}

// Version sets the pipeline version string.
func (b *PipelineBuilder) Version(v string) *PipelineBuilder {
	b.def.Version = v
	return b
}

// Description sets the human-readable description.
func (b *PipelineBuilder) Description(d string) *PipelineBuilder {
	b.def.Description = d
	return b
}

// Tags appends classification tags.
func (b *PipelineBuilder) Tags(tags ...string) *PipelineBuilder {
	b.def.Tags = append(b.def.Tags, tags...)
	return b
}

// Timeout sets the overall pipeline deadline.
func (b *PipelineBuilder) Timeout(d time.Duration) *PipelineBuilder {
	b.def.Timeout = d
	return b
}

// FailFast controls whether a required-step failure stops the pipeline.
func (b *PipelineBuilder) FailFast(v bool) *PipelineBuilder {
	b.def.FailFast = v
	return b
}

// EnableCompensation toggles saga rollback on failure.
func (b *PipelineBuilder) EnableCompensation(v bool) *PipelineBuilder {
	b.def.EnableCompensation = v
	return b
}

// CompensationTimeout bounds the whole compensation pass.
func (b *PipelineBuilder) CompensationTimeout(d time.Duration) *PipelineBuilder {
	b.def.CompensationTimeout = d
	return b
}

// Checkpoints declares the steps that emit CHECKPOINT_REACHED events.
func (b *PipelineBuilder) Checkpoints(stepNames ...string) *PipelineBuilder {
	b.def.ProgressCheckpoints = append(b.def.ProgressCheckpoints, stepNames...)
	return b
}

// EstimatedDuration records the expected runtime for catalog metadata.
func (b *PipelineBuilder) EstimatedDuration(d time.Duration) *PipelineBuilder {
	b.def.EstimatedDuration = d
	return b
}

// EstimatedCost records the expected cost, consumed by the budget pre-flight.
func (b *PipelineBuilder) EstimatedCost(usd float64) *PipelineBuilder {
	b.def.EstimatedCostUsd = usd
	return b
}

// Step opens a step builder. Call Done() on it to return here.
func (b *PipelineBuilder) Step(name string) *StepBuilder {
	return &StepBuilder{
		parent: b,
		step: PipelineStep{
			Name:           name,
			OutputKey:      name,
			Required:       true,
			FallbackConfig: DefaultFallbackConfig(),
			RetryPolicy:    DefaultRetryPolicy(),
			Timeout:        DefaultStepTimeout,
			ProgressWeight: 1.0,
		},
	}
}

// AddStep appends an already-constructed step, for callers that prefer a
// flat style over the chained sub-builder.
func (b *PipelineBuilder) AddStep(step PipelineStep) *PipelineBuilder {
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Build validates and returns the immutable definition. All accumulated
// construction errors surface here.
func (b *PipelineBuilder) Build() (*PipelineDefinition, error) {
	if len(b.errs) > 0 {
		return nil, core.NewOrchestratorError("pipeline.Build", "pipeline", b.errs[0])
	}
	if b.def.Name == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", core.ErrPipelineInvalid)
	}
	if len(b.def.Steps) == 0 {
		return nil, fmt.Errorf("%w: pipeline must have at least one step", core.ErrPipelineInvalid)
	}
	seen := make(map[string]bool, len(b.def.Steps))
	for i := range b.def.Steps {
		step := &b.def.Steps[i]
		if step.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", core.ErrPipelineInvalid, i)
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("%w: duplicate step name: %s", core.ErrPipelineInvalid, step.Name)
		}
		seen[step.Name] = true
		if step.Capability == "" {
			return nil, fmt.Errorf("%w: step %s has no capability", core.ErrPipelineInvalid, step.Name)
		}
		if step.OutputKey == "" {
			step.OutputKey = step.Name
		}
		if step.ProgressWeight <= 0 {
			step.ProgressWeight = 1.0
		}
	}

	// Copy out so the builder cannot mutate the built definition.
	def := b.def
	def.Steps = append([]PipelineStep(nil), b.def.Steps...)
	def.Tags = append([]string(nil), b.def.Tags...)
	def.ProgressCheckpoints = append([]string(nil), b.def.ProgressCheckpoints...)
	return &def, nil
}

// StepBuilder configures a single step; Done() climbs back to the pipeline.
type StepBuilder struct {
	parent *PipelineBuilder
	step   PipelineStep
}

// Capability pins the step to an abstract AI function. Required.
func (s *StepBuilder) Capability(c capability.Capability) *StepBuilder {
	s.step.Capability = c
	return s
}

// Providers sets the ordered provider preference; the first entry becomes
// the fallback chain primary.
func (s *StepBuilder) Providers(names ...string) *StepBuilder {
	s.step.ProviderPreference = append(s.step.ProviderPreference, names...)
	return s
}

// RequireQuality sets the minimum quality tier for provider selection.
func (s *StepBuilder) RequireQuality(t capability.QualityTier) *StepBuilder {
	s.step.RequiredQualityTier = t
	return s
}

// Option sets one adapter option.
func (s *StepBuilder) Option(key string, value interface{}) *StepBuilder {
	if s.step.Options == nil {
		s.step.Options = make(map[string]interface{})
	}
	s.step.Options[key] = value
	return s
}

// Options merges adapter options.
func (s *StepBuilder) Options(opts map[string]interface{}) *StepBuilder {
	for k, v := range opts {
		s.Option(k, v)
	}
	return s
}

// InputFrom reads the step input from a context key instead of the whole
// context data.
func (s *StepBuilder) InputFrom(key string) *StepBuilder {
	s.step.InputKey = key
	return s
}

// OutputAs stores the step output under key (default is the step name).
func (s *StepBuilder) OutputAs(key string) *StepBuilder {
	s.step.OutputKey = key
	return s
}

// TransformInput computes the step input from the full context data.
func (s *StepBuilder) TransformInput(fn func(data map[string]interface{}) interface{}) *StepBuilder {
	s.step.InputTransform = fn
	return s
}

// TransformOutput rewrites the step output before it is stored.
func (s *StepBuilder) TransformOutput(fn func(output interface{}) interface{}) *StepBuilder {
	s.step.OutputTransform = fn
	return s
}

// When gates the step on a closure over the context data.
func (s *StepBuilder) When(fn func(data map[string]interface{}) bool) *StepBuilder {
	s.step.Condition = &StepCondition{Predicate: fn}
	return s
}

// WhenExists gates the step on a context path being present.
func (s *StepBuilder) WhenExists(path string) *StepBuilder {
	s.step.Condition = &StepCondition{ContextPath: path, Operator: OpExists}
	return s
}

// WhenEquals gates the step on a context path equaling value.
func (s *StepBuilder) WhenEquals(path string, value interface{}) *StepBuilder {
	s.step.Condition = &StepCondition{ContextPath: path, Operator: OpEquals, Value: value}
	return s
}

// Condition sets an explicit condition object.
func (s *StepBuilder) Condition(c *StepCondition) *StepBuilder {
	s.step.Condition = c
	return s
}

// ContinueOnFailure lets the pipeline proceed past this step's failure.
func (s *StepBuilder) ContinueOnFailure() *StepBuilder {
	s.step.ContinueOnFailure = true
	return s
}

// Optional marks the step non-required: its failure never fails the
// pipeline and never triggers compensation.
func (s *StepBuilder) Optional() *StepBuilder {
	s.step.Required = false
	return s
}

// Retry replaces the step retry policy.
func (s *StepBuilder) Retry(p RetryPolicy) *StepBuilder {
	s.step.RetryPolicy = p
	return s
}

// Fallback replaces the step fallback configuration.
func (s *StepBuilder) Fallback(f FallbackConfig) *StepBuilder {
	s.step.FallbackConfig = f
	return s
}

// Timeout bounds every provider attempt for this step.
func (s *StepBuilder) Timeout(d time.Duration) *StepBuilder {
	s.step.Timeout = d
	return s
}

// Compensate attaches a rollback handler invoked during saga unwind.
func (s *StepBuilder) Compensate(handler CompensationHandler, description string) *StepBuilder {
	s.step.Compensation = &CompensationAction{
		Handler:     handler,
		Description: description,
		Timeout:     DefaultActionTimeout,
		Required:    true,
	}
	return s
}

// CompensateWith attaches a fully specified compensation action.
func (s *StepBuilder) CompensateWith(action CompensationAction) *StepBuilder {
	if action.Timeout <= 0 {
		action.Timeout = DefaultActionTimeout
	}
	s.step.Compensation = &action
	return s
}

// Weight sets the step's share of pipeline progress (default 1.0).
func (s *StepBuilder) Weight(w float64) *StepBuilder {
	s.step.ProgressWeight = w
	return s
}

// Done appends the step and returns the pipeline builder.
func (s *StepBuilder) Done() *PipelineBuilder {
	s.parent.def.Steps = append(s.parent.def.Steps, s.step)
	return s.parent
}
