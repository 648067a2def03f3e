package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/maestro/core"
)

func TestAppendAndGetEvents(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)

	s.Append(NewWorkflowStarted("exec-1", "tenant-1", "p", "1.0", nil, 0, 0))
	s.Append(NewStepStarted("exec-1", "tenant-1", "a", 0, 1, "TRANSCRIPTION", nil))
	s.Append(NewWorkflowStarted("exec-2", "tenant-2", "q", "1.0", nil, 0, 0))

	assert.Equal(t, 3, s.Len())

	byExec := s.GetEvents(Filter{ExecutionID: "exec-1"})
	require.Len(t, byExec, 2)
	assert.Equal(t, WorkflowStarted, byExec[0].Type)
	assert.Equal(t, StepStarted, byExec[1].Type)

	byTenant := s.GetEvents(Filter{TenantID: "tenant-2"})
	require.Len(t, byTenant, 1)
	assert.Equal(t, "exec-2", byTenant[0].ExecutionID)

	byType := s.GetEvents(Filter{EventTypes: []EventType{WorkflowStarted}})
	assert.Len(t, byType, 2)

	all := s.GetEvents(Filter{})
	assert.Len(t, all, 3)
}

func TestGetEventsLimit(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	for i := 0; i < 10; i++ {
		s.Append(NewProgressUpdate("exec-1", "", float64(i*10), fmt.Sprintf("step-%d", i)))
	}
	got := s.GetEvents(Filter{ExecutionID: "exec-1", Limit: 3})
	require.Len(t, got, 3)
	// Oldest first.
	assert.Equal(t, 0.0, got[0].Float("percent"))
	assert.Equal(t, 20.0, got[2].Float("percent"))
}

func TestGetEventsTimeWindow(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	old := NewProgressUpdate("exec-1", "", 10, "a")
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	s.Append(old)
	s.Append(NewProgressUpdate("exec-1", "", 20, "b"))

	recent := s.GetEvents(Filter{Since: time.Now().UTC().Add(-time.Minute)})
	require.Len(t, recent, 1)
	assert.Equal(t, 20.0, recent[0].Float("percent"))

	older := s.GetEvents(Filter{Until: time.Now().UTC().Add(-time.Minute)})
	require.Len(t, older, 1)
	assert.Equal(t, 10.0, older[0].Float("percent"))
}

func TestSubscribeDeliversMatching(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	sub := s.Subscribe(Filter{ExecutionID: "exec-1", EventTypes: []EventType{StepCompleted}})
	defer sub.Close()

	s.Append(NewStepCompleted("exec-1", "", "a", "p", nil, 0, 10, 0, "a"))
	s.Append(NewStepCompleted("exec-2", "", "b", "p", nil, 0, 10, 0, "b"))
	s.Append(NewStepSkipped("exec-1", "", "c", "condition"))

	select {
	case e := <-sub.Events():
		assert.Equal(t, "a", e.String("step"))
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event: %s", e.Type)
	default:
	}
}

func TestSubscribeDropsWhenFull(t *testing.T) {
	s := NewStore(StoreConfig{SubscriberBuffer: 2}, nil)
	sub := s.Subscribe(Filter{})
	defer sub.Close()

	for i := 0; i < 5; i++ {
		s.Append(NewProgressUpdate("exec-1", "", float64(i), ""))
	}

	// The slow consumer only sees the buffered two; the rest were dropped
	// without blocking the producer.
	var got []float64
	for {
		select {
		case e := <-sub.Events():
			got = append(got, e.Float("percent"))
			continue
		default:
		}
		break
	}
	assert.Equal(t, []float64{0, 1}, got)
	assert.Equal(t, 5, s.Len())
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	sub := s.Subscribe(Filter{})
	sub.Close()
	sub.Close()

	// Appends after close do not panic.
	s.Append(NewProgressUpdate("exec-1", "", 1, ""))
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestGetWorkflowStateFolding(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)

	s.Append(NewWorkflowStarted("exec-1", "tenant-1", "call_analysis", "1.0", []string{"audio_url"}, 0.10, time.Minute))
	s.Append(NewProgressUpdate("exec-1", "tenant-1", 0, "transcribe"))
	s.Append(NewStepStarted("exec-1", "tenant-1", "transcribe", 0, 2, "TRANSCRIPTION", nil))
	s.Append(NewCostIncurred("exec-1", "tenant-1", "transcribe", "deepgram", "TRANSCRIPTION", 0.0043, nil))
	s.Append(NewStepCompleted("exec-1", "tenant-1", "transcribe", "deepgram", nil, 0, 2500, 0.0043, "transcript"))
	s.Append(NewStepSkipped("exec-1", "tenant-1", "redact", "Condition not met"))

	state, err := s.GetWorkflowState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, "call_analysis", state.PipelineName)
	assert.Equal(t, "tenant-1", state.TenantID)
	assert.Equal(t, []string{"transcribe"}, state.CompletedSteps)
	assert.Equal(t, []string{"redact"}, state.SkippedSteps)
	assert.InDelta(t, 0.0043, state.TotalCostUsd, 1e-9)
	assert.Equal(t, 6, state.EventCount)

	s.Append(NewWorkflowCompleted("exec-1", "tenant-1", 4200, 0.0043, []string{"transcribe"}))
	state, err = s.GetWorkflowState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 100.0, state.ProgressPercent)
	assert.Equal(t, int64(4200), state.DurationMs)
	assert.Empty(t, state.CurrentStep)
}

func TestGetWorkflowStateFailure(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	s.Append(NewWorkflowStarted("exec-1", "", "p", "1.0", nil, 0, 0))
	s.Append(NewStepFailed("exec-1", "", "transcribe", "bad audio", "INVALID_INPUT", nil, 0, 100, false))
	s.Append(NewCompensationStarted("exec-1", "", nil))
	s.Append(NewWorkflowFailed("exec-1", "", "transcribe", "bad audio", "INVALID_INPUT", 150, true))

	state, err := s.GetWorkflowState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "transcribe", state.FailedStep)
	assert.Equal(t, "bad audio", state.Error)
	assert.Equal(t, "INVALID_INPUT", state.ErrorCode)
	assert.True(t, state.CompensationPerformed)
}

func TestGetWorkflowStateIgnoresContinuedFailures(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	s.Append(NewWorkflowStarted("exec-1", "", "p", "1.0", nil, 0, 0))
	s.Append(NewStepFailed("exec-1", "", "sentiment", "boom", "EXCEPTION", nil, 0, 100, true))
	s.Append(NewWorkflowCompleted("exec-1", "", 500, 0, nil))

	state, err := s.GetWorkflowState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Empty(t, state.FailedStep)
}

func TestGetWorkflowStateNotFound(t *testing.T) {
	s := NewStore(StoreConfig{}, nil)
	_, err := s.GetWorkflowState("missing")
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestPurgeOverSoftCap(t *testing.T) {
	s := NewStore(StoreConfig{SoftCap: 5, TTL: time.Minute}, nil)

	for i := 0; i < 4; i++ {
		e := NewProgressUpdate("old-exec", "", float64(i), "")
		e.Timestamp = time.Now().UTC().Add(-2 * time.Minute)
		s.Append(e)
	}
	assert.Equal(t, 4, s.Len())

	// Crossing the soft cap triggers a TTL purge of the stale events.
	for i := 0; i < 3; i++ {
		s.Append(NewProgressUpdate("new-exec", "", float64(i), ""))
	}
	assert.Equal(t, 3, s.Len())
	assert.Empty(t, s.GetEvents(Filter{ExecutionID: "old-exec"}))
	assert.Len(t, s.GetEvents(Filter{ExecutionID: "new-exec"}), 3)
}
