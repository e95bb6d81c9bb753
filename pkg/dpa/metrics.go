package dpa

import (
	"math"
	"sort"

	"callaudit-server/pkg/models"
)

// ComputeMetrics reduces an ordered DPA event sequence to the derived
// idle/dwell summary for one transcript.
//
// Idle is the time with no recorded screen activity: before the first
// event plus after the last one. Dwell per screen is the time from a
// screen-entry event to the next event, interpreted as a screen switch;
// the tail after the last event counts as idle, not dwell.
func ComputeMetrics(transcriptID string, events []models.DPAEvent, callDurationSec float64) models.DPAMetrics {
	if callDurationSec <= 0 {
		callDurationSec = 0
	}
	if len(events) == 0 || callDurationSec == 0 {
		idleRatio := 0.0
		if callDurationSec > 0 {
			idleRatio = 1.0
		}
		return models.DPAMetrics{
			TranscriptID:    transcriptID,
			CallDurationSec: callDurationSec,
			IdleSec:         callDurationSec,
			IdleRatio:       idleRatio,
			MaxDwellSec:     0,
			DwellByScreen:   map[string]float64{},
		}
	}

	sorted := make([]models.DPAEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampSec < sorted[j].TimestampSec
	})

	firstTS := math.Min(math.Max(0, sorted[0].TimestampSec), callDurationSec)
	lastTS := math.Max(firstTS, math.Min(sorted[len(sorted)-1].TimestampSec, callDurationSec))
	idleSec := math.Max(0, firstTS+(callDurationSec-lastTS))

	dwell := make(map[string]float64)
	for i := 0; i < len(sorted)-1; i++ {
		seg := math.Min(sorted[i+1].TimestampSec, callDurationSec) - sorted[i].TimestampSec
		if seg > 0 {
			dwell[sorted[i].ScreenID] += seg
		}
	}

	maxDwell := 0.0
	for _, v := range dwell {
		if v > maxDwell {
			maxDwell = v
		}
	}

	idleRatio := idleSec / callDurationSec
	idleRatio = math.Max(0, math.Min(1, idleRatio))

	return models.DPAMetrics{
		TranscriptID:    transcriptID,
		CallDurationSec: callDurationSec,
		IdleSec:         round1(idleSec),
		IdleRatio:       round3(idleRatio),
		MaxDwellSec:     round1(maxDwell),
		DwellByScreen:   roundMap(dwell),
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func roundMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = round1(v)
	}
	return out
}
