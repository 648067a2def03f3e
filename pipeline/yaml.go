package pipeline

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxlane/maestro/capability"
)

// yamlPipeline is the on-disk shape of a pipeline definition. Durations are
// spelled in seconds so operators never write Go duration literals. Pointer
// fields distinguish "absent" from explicit zero values so builder defaults
// survive round-trips.
type yamlPipeline struct {
	Name                       string                 `yaml:"name"`
	Version                    string                 `yaml:"version"`
	Description                string                 `yaml:"description"`
	Tags                       []string               `yaml:"tags"`
	TimeoutSeconds             float64                `yaml:"timeout_seconds"`
	FailFast                   *bool                  `yaml:"fail_fast"`
	EnableCompensation         *bool                  `yaml:"enable_compensation"`
	CompensationTimeoutSeconds float64                `yaml:"compensation_timeout_seconds"`
	ProgressCheckpoints        []string               `yaml:"progress_checkpoints"`
	EstimatedDurationSeconds   float64                `yaml:"estimated_duration_seconds"`
	EstimatedCostUsd           float64                `yaml:"estimated_cost_usd"`
	Steps                      []yamlStep             `yaml:"steps"`
	Metadata                   map[string]interface{} `yaml:"metadata"`
}

type yamlStep struct {
	Name              string                 `yaml:"name"`
	Capability        string                 `yaml:"capability"`
	Providers         []string               `yaml:"providers"`
	QualityTier       string                 `yaml:"quality_tier"`
	Options           map[string]interface{} `yaml:"options"`
	InputKey          string                 `yaml:"input_key"`
	OutputKey         string                 `yaml:"output_key"`
	Condition         *yamlCondition         `yaml:"condition"`
	ContinueOnFailure bool                   `yaml:"continue_on_failure"`
	Optional          bool                   `yaml:"optional"`
	Retry             *yamlRetry             `yaml:"retry"`
	Fallback          *yamlFallback          `yaml:"fallback"`
	TimeoutSeconds    float64                `yaml:"timeout_seconds"`
	ProgressWeight    float64                `yaml:"progress_weight"`
}

type yamlCondition struct {
	Path     string      `yaml:"path"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
}

type yamlRetry struct {
	MaxAttempts         int      `yaml:"max_attempts"`
	InitialDelaySeconds float64  `yaml:"initial_delay_seconds"`
	ExponentialBackoff  *bool    `yaml:"exponential_backoff"`
	BackoffMultiplier   float64  `yaml:"backoff_multiplier"`
	MaxDelaySeconds     float64  `yaml:"max_delay_seconds"`
	RetryableErrors     []string `yaml:"retryable_errors"`
}

type yamlFallback struct {
	Enabled                 *bool    `yaml:"enabled"`
	MaxFallbacks            int      `yaml:"max_fallbacks"`
	PreferSameQuality       *bool    `yaml:"prefer_same_quality"`
	AllowQualityDegradation *bool    `yaml:"allow_quality_degradation"`
	ExcludedProviders       []string `yaml:"excluded_providers"`
}

// ParsePipelineYAML parses a pipeline definition from YAML and runs it
// through the same validation as the builder.
func ParsePipelineYAML(data []byte) (*PipelineDefinition, error) {
	var y yamlPipeline
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	b := NewPipeline(y.Name)
	if y.Version != "" {
		b.Version(y.Version)
	}
	if y.Description != "" {
		b.Description(y.Description)
	}
	if len(y.Tags) > 0 {
		b.Tags(y.Tags...)
	}
	if y.TimeoutSeconds > 0 {
		b.Timeout(secondsToDuration(y.TimeoutSeconds))
	}
	if y.FailFast != nil {
		b.FailFast(*y.FailFast)
	}
	if y.EnableCompensation != nil {
		b.EnableCompensation(*y.EnableCompensation)
	}
	if y.CompensationTimeoutSeconds > 0 {
		b.CompensationTimeout(secondsToDuration(y.CompensationTimeoutSeconds))
	}
	if len(y.ProgressCheckpoints) > 0 {
		b.Checkpoints(y.ProgressCheckpoints...)
	}
	if y.EstimatedDurationSeconds > 0 {
		b.EstimatedDuration(secondsToDuration(y.EstimatedDurationSeconds))
	}
	if y.EstimatedCostUsd > 0 {
		b.EstimatedCost(y.EstimatedCostUsd)
	}

	for _, ys := range y.Steps {
		cap, err := parseCapability(ys.Capability)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", ys.Name, err)
		}
		s := b.Step(ys.Name).Capability(cap)
		if len(ys.Providers) > 0 {
			s.Providers(ys.Providers...)
		}
		if ys.QualityTier != "" {
			s.RequireQuality(capability.QualityTier(ys.QualityTier))
		}
		if len(ys.Options) > 0 {
			s.Options(ys.Options)
		}
		if ys.InputKey != "" {
			s.InputFrom(ys.InputKey)
		}
		if ys.OutputKey != "" {
			s.OutputAs(ys.OutputKey)
		}
		if ys.Condition != nil {
			s.Condition(&StepCondition{
				ContextPath: ys.Condition.Path,
				Operator:    ConditionOperator(ys.Condition.Operator),
				Value:       ys.Condition.Value,
			})
		}
		if ys.ContinueOnFailure {
			s.ContinueOnFailure()
		}
		if ys.Optional {
			s.Optional()
		}
		if ys.Retry != nil {
			s.Retry(ys.Retry.toPolicy())
		}
		if ys.Fallback != nil {
			s.Fallback(ys.Fallback.toConfig())
		}
		if ys.TimeoutSeconds > 0 {
			s.Timeout(secondsToDuration(ys.TimeoutSeconds))
		}
		if ys.ProgressWeight > 0 {
			s.Weight(ys.ProgressWeight)
		}
		s.Done()
	}

	return b.Build()
}

func (r *yamlRetry) toPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelaySeconds > 0 {
		p.InitialDelay = secondsToDuration(r.InitialDelaySeconds)
	}
	if r.ExponentialBackoff != nil {
		p.ExponentialBackoff = *r.ExponentialBackoff
	}
	if r.BackoffMultiplier > 0 {
		p.BackoffMultiplier = r.BackoffMultiplier
	}
	if r.MaxDelaySeconds > 0 {
		p.MaxDelay = secondsToDuration(r.MaxDelaySeconds)
	}
	p.RetryableErrors = append([]string(nil), r.RetryableErrors...)
	return p
}

func (f *yamlFallback) toConfig() FallbackConfig {
	c := DefaultFallbackConfig()
	if f.Enabled != nil {
		c.Enabled = *f.Enabled
	}
	if f.MaxFallbacks > 0 {
		c.MaxFallbacks = f.MaxFallbacks
	}
	if f.PreferSameQuality != nil {
		c.PreferSameQuality = *f.PreferSameQuality
	}
	if f.AllowQualityDegradation != nil {
		c.FallbackQualityDegradation = *f.AllowQualityDegradation
	}
	c.ExcludedProviders = append([]string(nil), f.ExcludedProviders...)
	return c
}

func parseCapability(s string) (capability.Capability, error) {
	cap := capability.Capability(s)
	for _, known := range capability.AllCapabilities() {
		if cap == known {
			return cap, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
