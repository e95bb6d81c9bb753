package dpa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callaudit-server/pkg/models"
)

func event(ts float64, screen string) models.DPAEvent {
	return models.DPAEvent{TranscriptID: "t-1", TimestampSec: ts, ScreenID: screen}
}

func TestComputeMetrics_NoEvents(t *testing.T) {
	m := ComputeMetrics("t-1", nil, 300)

	assert.Equal(t, 300.0, m.CallDurationSec)
	assert.Equal(t, 300.0, m.IdleSec)
	assert.Equal(t, 1.0, m.IdleRatio)
	assert.Equal(t, 0.0, m.MaxDwellSec)
	assert.Empty(t, m.DwellByScreen)
}

func TestComputeMetrics_ZeroDuration(t *testing.T) {
	m := ComputeMetrics("t-1", []models.DPAEvent{event(10, "login")}, 0)

	assert.Equal(t, 0.0, m.CallDurationSec)
	assert.Equal(t, 0.0, m.IdleRatio)
}

func TestComputeMetrics_IdleAndDwell(t *testing.T) {
	// 20s idle before first event, 40s after the last.
	events := []models.DPAEvent{
		event(20, "login"),
		event(80, "account_summary"),
		event(200, "payment"),
		event(260, "notes"),
	}

	m := ComputeMetrics("t-1", events, 300)

	assert.InDelta(t, 60.0, m.IdleSec, 0.05)
	assert.InDelta(t, 0.2, m.IdleRatio, 0.001)
	assert.InDelta(t, 60.0, m.DwellByScreen["login"], 0.05)
	assert.InDelta(t, 120.0, m.DwellByScreen["account_summary"], 0.05)
	assert.InDelta(t, 60.0, m.DwellByScreen["payment"], 0.05)
	assert.InDelta(t, 120.0, m.MaxDwellSec, 0.05)

	// The last screen has no following event; its dwell is unknown and
	// the tail counts as idle.
	assert.NotContains(t, m.DwellByScreen, "notes")
}

func TestComputeMetrics_UnsortedEvents(t *testing.T) {
	events := []models.DPAEvent{
		event(200, "payment"),
		event(20, "login"),
		event(80, "account_summary"),
	}

	m := ComputeMetrics("t-1", events, 300)

	assert.InDelta(t, 120.0, m.IdleSec, 0.05)
	assert.InDelta(t, 60.0, m.DwellByScreen["login"], 0.05)
	assert.InDelta(t, 120.0, m.DwellByScreen["account_summary"], 0.05)
}

func TestComputeMetrics_RepeatedScreenAccumulates(t *testing.T) {
	events := []models.DPAEvent{
		event(0, "notes"),
		event(50, "payment"),
		event(100, "notes"),
		event(180, "wrap_up"),
	}

	m := ComputeMetrics("t-1", events, 200)

	assert.InDelta(t, 130.0, m.DwellByScreen["notes"], 0.05)
	assert.InDelta(t, 130.0, m.MaxDwellSec, 0.05)
}

func TestComputeMetrics_TimestampsClampedToDuration(t *testing.T) {
	events := []models.DPAEvent{
		event(-10, "login"),
		event(500, "payment"),
	}

	m := ComputeMetrics("t-1", events, 300)

	assert.GreaterOrEqual(t, m.IdleSec, 0.0)
	assert.GreaterOrEqual(t, m.IdleRatio, 0.0)
	assert.LessOrEqual(t, m.IdleRatio, 1.0)
}

func TestComputeMetrics_RatioConsistency(t *testing.T) {
	events := []models.DPAEvent{
		event(33.37, "login"),
		event(120.41, "payment"),
	}

	m := ComputeMetrics("t-1", events, 287)

	// Stored ratio must stay within the downstream validation tolerance
	// of idle_sec/call_duration_sec.
	derived := m.IdleSec / m.CallDurationSec
	assert.InDelta(t, derived, m.IdleRatio, 0.005)
}

func TestGenerateEvents_DeterministicPerTranscript(t *testing.T) {
	a := GenerateEvents("t-42", models.PersonaCollections, 300, GenerateOptions{})
	b := GenerateEvents("t-42", models.PersonaCollections, 300, GenerateOptions{})
	assert.Equal(t, a, b)

	c := GenerateEvents("t-43", models.PersonaCollections, 300, GenerateOptions{})
	assert.NotEqual(t, a, c)
}

func TestGenerateEvents_HighIdleProducesHighRatio(t *testing.T) {
	events := GenerateEvents("t-1", models.PersonaCollections, 300, GenerateOptions{HighIdle: true})
	require.NotEmpty(t, events)

	m := ComputeMetrics("t-1", events, 300)
	assert.Greater(t, m.IdleRatio, 0.1)
}

func TestGenerateEvents_HighDwellProducesLongDwell(t *testing.T) {
	events := GenerateEvents("t-1", models.PersonaRAM, 600, GenerateOptions{HighDwell: true})
	require.NotEmpty(t, events)

	m := ComputeMetrics("t-1", events, 600)
	assert.Greater(t, m.MaxDwellSec, 250.0)
}

func TestGenerateForTranscript_EventsMatchMetrics(t *testing.T) {
	tr := models.Transcript{
		ID:        "t-9",
		PersonaID: models.PersonaCollections,
		Turns:     make([]models.Turn, 8),
	}

	events, m := GenerateForTranscript(tr, GenerateOptions{})
	require.NotEmpty(t, events)

	recomputed := ComputeMetrics(tr.ID, events, CallDuration(tr))
	assert.Equal(t, recomputed, m)
}

func TestCallDuration_Clamped(t *testing.T) {
	short := models.Transcript{Turns: make([]models.Turn, 1)}
	assert.Equal(t, 60.0, CallDuration(short))

	long := models.Transcript{Turns: make([]models.Turn, 100)}
	assert.Equal(t, 600.0, CallDuration(long))

	mid := models.Transcript{Turns: make([]models.Turn, 8)}
	assert.Equal(t, 200.0, CallDuration(mid))
}
