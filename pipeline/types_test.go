package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayForAttempt(t *testing.T) {
	p := RetryPolicy{
		InitialDelay:       time.Second,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
		MaxDelay:           30 * time.Second,
	}
	assert.Equal(t, time.Second, p.DelayForAttempt(1))
	assert.Equal(t, 2*time.Second, p.DelayForAttempt(2))
	assert.Equal(t, 4*time.Second, p.DelayForAttempt(3))
	assert.Equal(t, 8*time.Second, p.DelayForAttempt(4))

	// Cap kicks in.
	assert.Equal(t, 30*time.Second, p.DelayForAttempt(10))

	// Fixed delay when exponential backoff is off.
	fixed := RetryPolicy{InitialDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, fixed.DelayForAttempt(1))
	assert.Equal(t, 5*time.Second, fixed.DelayForAttempt(7))
}

func TestRetryPolicyAllowsCode(t *testing.T) {
	open := RetryPolicy{}
	assert.True(t, open.AllowsCode("RATE_LIMIT"))
	assert.True(t, open.AllowsCode("ANYTHING"))

	scoped := RetryPolicy{RetryableErrors: []string{"RATE_LIMIT", "TIMEOUT"}}
	assert.True(t, scoped.AllowsCode("RATE_LIMIT"))
	assert.True(t, scoped.AllowsCode("TIMEOUT"))
	assert.False(t, scoped.AllowsCode("SERVICE_UNAVAILABLE"))
}

func TestNavigatePath(t *testing.T) {
	data := map[string]interface{}{
		"transcript": map[string]interface{}{
			"text":       "hello",
			"confidence": 0.95,
			"meta": map[string]interface{}{
				"channels": 2,
			},
		},
		"flat": "value",
	}

	v, ok := NavigatePath(data, "flat")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok = NavigatePath(data, "transcript.text")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	v, ok = NavigatePath(data, "transcript.meta.channels")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = NavigatePath(data, "transcript.missing")
	assert.False(t, ok)
	_, ok = NavigatePath(data, "flat.nested")
	assert.False(t, ok)
	_, ok = NavigatePath(data, "")
	assert.False(t, ok)
}

func TestStepConditionEvaluate(t *testing.T) {
	data := map[string]interface{}{
		"language": "en",
		"score":    7.5,
		"notes":    "contains pii maybe",
		"nested":   map[string]interface{}{"flag": true},
	}

	tests := []struct {
		name string
		cond *StepCondition
		want bool
	}{
		{"nil condition always passes", nil, true},
		{"exists", &StepCondition{ContextPath: "language", Operator: OpExists}, true},
		{"exists nested", &StepCondition{ContextPath: "nested.flag", Operator: OpExists}, true},
		{"not exists", &StepCondition{ContextPath: "missing", Operator: OpNotExists}, true},
		{"equals string", &StepCondition{ContextPath: "language", Operator: OpEquals, Value: "en"}, true},
		{"equals mismatch", &StepCondition{ContextPath: "language", Operator: OpEquals, Value: "fr"}, false},
		{"not equals", &StepCondition{ContextPath: "language", Operator: OpNotEquals, Value: "fr"}, true},
		{"not equals on missing path", &StepCondition{ContextPath: "missing", Operator: OpNotEquals, Value: "x"}, true},
		{"contains", &StepCondition{ContextPath: "notes", Operator: OpContains, Value: "pii"}, true},
		{"gt", &StepCondition{ContextPath: "score", Operator: OpGT, Value: 5}, true},
		{"gt false", &StepCondition{ContextPath: "score", Operator: OpGT, Value: 10}, false},
		{"lt", &StepCondition{ContextPath: "score", Operator: OpLT, Value: 10.0}, true},
		{"numeric equals across types", &StepCondition{ContextPath: "score", Operator: OpEquals, Value: 7.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(data))
		})
	}

	pred := &StepCondition{Predicate: func(data map[string]interface{}) bool {
		return data["language"] == "en"
	}}
	assert.True(t, pred.Evaluate(data))
}

func TestPipelineContextResult(t *testing.T) {
	def := &PipelineDefinition{Name: "p", Version: "1.2"}
	pctx := NewPipelineContext("p", "tenant-1", map[string]interface{}{"audio_url": "https://x/y.wav"})

	assert.NotEmpty(t, pctx.ExecutionID)
	assert.Equal(t, "tenant-1", pctx.TenantID)

	now := time.Now().UTC()
	pctx.CompletedSteps = []string{"a"}
	pctx.StepResults["a"] = &StepResult{
		StepName:    "a",
		Status:      StepCompleted,
		StartedAt:   now.Add(-time.Second),
		CompletedAt: &now,
	}

	result := pctx.Result(def)
	assert.True(t, result.Success)
	assert.Equal(t, "1.2", result.PipelineVersion)
	assert.Equal(t, []string{"a"}, result.CompletedSteps)
	assert.Contains(t, result.Output, "audio_url")
	assert.False(t, result.CompensationPerformed)

	pctx.FailedStep = "b"
	pctx.FailureError = "boom"
	pctx.CompensatedSteps = []string{"a"}
	result = pctx.Result(def)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
	assert.True(t, result.CompensationPerformed)
}
