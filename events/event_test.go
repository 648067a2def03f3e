package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventDefaults(t *testing.T) {
	e := New(StepStarted, "exec-1", "tenant-1", nil)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, StepStarted, e.Type)
	assert.Equal(t, "exec-1", e.ExecutionID)
	assert.Equal(t, "tenant-1", e.TenantID)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotNil(t, e.Fields)

	// IDs are unique per event.
	assert.NotEqual(t, e.EventID, New(StepStarted, "exec-1", "", nil).EventID)
}

func TestEventAccessors(t *testing.T) {
	e := New(StepCompleted, "exec-1", "", map[string]interface{}{
		"step":       "transcribe",
		"costUsd":    0.05,
		"retries":    2,
		"durationMs": int64(1500),
		"success":    true,
	})
	assert.Equal(t, "transcribe", e.String("step"))
	assert.Equal(t, "", e.String("missing"))
	assert.Equal(t, 0.05, e.Float("costUsd"))
	assert.Equal(t, 2.0, e.Float("retries"))
	assert.Equal(t, 1500.0, e.Float("durationMs"))
	assert.Equal(t, 0.0, e.Float("missing"))
	assert.True(t, e.Bool("success"))
	assert.False(t, e.Bool("missing"))
}

func TestEventMarshalJSONFlattens(t *testing.T) {
	e := NewStepCompleted("exec-1", "tenant-1", "transcribe", "deepgram",
		[]string{"openai"}, 1, 2500, 0.0043, "transcript")
	e.Timestamp = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))

	// Envelope fields sit at the top level next to the type-specific ones.
	assert.Equal(t, "STEP_COMPLETED", wire["eventType"])
	assert.Equal(t, "exec-1", wire["executionId"])
	assert.Equal(t, "tenant-1", wire["tenantId"])
	assert.Equal(t, e.EventID, wire["eventId"])
	assert.Equal(t, "2026-03-14T09:26:53.589793Z", wire["timestamp"])
	assert.Equal(t, "transcribe", wire["step"])
	assert.Equal(t, "deepgram", wire["providerUsed"])
	assert.Equal(t, 0.0043, wire["costUsd"])
	assert.Contains(t, wire, "metadata")

	// No nested "fields" object on the wire.
	assert.NotContains(t, wire, "fields")
}

func TestEventMarshalJSONOmitsEmptyTenant(t *testing.T) {
	e := NewProgressUpdate("exec-1", "", 42.5, "summarize")
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.NotContains(t, wire, "tenantId")
	assert.Equal(t, 42.5, wire["percent"])
}

func TestAllEventTypesDistinct(t *testing.T) {
	types := AllEventTypes()
	require.Len(t, types, 21)
	seen := make(map[EventType]bool, len(types))
	for _, et := range types {
		assert.False(t, seen[et], string(et))
		seen[et] = true
	}
}
