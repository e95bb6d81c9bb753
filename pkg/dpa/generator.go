package dpa

import (
	"hash/fnv"
	"math/rand"

	"callaudit-server/pkg/models"
)

// Screens visited per persona. Order can vary in synthetic data.
var (
	collectionsScreens = []string{"login", "account_summary", "payment", "disclosure", "notes", "wrap_up"}
	ramScreens         = []string{"login", "dealer_lookup", "documentation", "disclosure", "notes", "wrap_up"}
)

// Call duration inferred from transcript length when not provided.
const (
	minCallDurationSec = 60
	maxCallDurationSec = 600
	secPerTurn         = 25
)

// CallDuration infers the call duration from the number of turns,
// clamped to a plausible range.
func CallDuration(t models.Transcript) float64 {
	n := len(t.Turns)
	if n == 0 {
		n = 10
	}
	d := float64(n * secPerTurn)
	if d < minCallDurationSec {
		return minCallDurationSec
	}
	if d > maxCallDurationSec {
		return maxCallDurationSec
	}
	return d
}

// GenerateOptions bias the synthetic event shape.
type GenerateOptions struct {
	HighIdle  bool
	HighDwell bool
}

// GenerateEvents produces synthetic DPA events for a transcript. The
// sequence is deterministic per transcript id so repeated pipeline runs
// reproduce the same telemetry.
func GenerateEvents(transcriptID, personaID string, callDurationSec float64, opts GenerateOptions) []models.DPAEvent {
	rng := rand.New(rand.NewSource(seedFor(transcriptID)))
	screens := collectionsScreens
	if personaID == models.PersonaRAM {
		screens = ramScreens
	}

	var events []models.DPAEvent
	add := func(ts float64, screen string) {
		events = append(events, models.DPAEvent{
			TranscriptID: transcriptID,
			TimestampSec: ts,
			ScreenID:     screen,
		})
	}

	t := 0.0
	switch {
	case opts.HighIdle:
		// Long idle at start, then a few events with big gaps.
		t = uniform(rng, 60, 120)
		add(t, screens[0])
		for i := 1; i < 4 && i < len(screens); i++ {
			t += uniform(rng, 90, 180)
			add(t, screens[i])
		}
	case opts.HighDwell:
		// Normal start but one screen held very long.
		t = uniform(rng, 5, 20)
		add(t, screens[0])
		dwellScreen := screens[1+rng.Intn(len(screens)-2)]
		t += uniform(rng, 300, 420)
		add(t, dwellScreen)
		for _, s := range screens {
			if s == dwellScreen || s == screens[0] {
				continue
			}
			t += uniform(rng, 15, 60)
			if t < callDurationSec-10 {
				add(t, s)
			}
		}
	default:
		// Normal: spread events across the call.
		for _, screen := range screens {
			t += uniform(rng, 15, 60)
			if t >= callDurationSec-5 {
				break
			}
			add(t, screen)
		}
	}

	return events
}

// GenerateForTranscript generates events and reduces them to metrics in
// one step. High-risk transcripts have a chance of biased telemetry,
// mirroring how risky calls tend to come with sloppy desktop activity.
func GenerateForTranscript(t models.Transcript, opts GenerateOptions) ([]models.DPAEvent, models.DPAMetrics) {
	rng := rand.New(rand.NewSource(seedFor(t.ID)))
	if t.IntendedRiskLevel == "high" || t.IntendedRiskLevel == "critical" {
		if !opts.HighIdle && !opts.HighDwell {
			opts.HighIdle = rng.Float64() < 0.35
			opts.HighDwell = !opts.HighIdle && rng.Float64() < 0.35
		}
	}

	duration := CallDuration(t)
	events := GenerateEvents(t.ID, t.PersonaID, duration, opts)
	return events, ComputeMetrics(t.ID, events, duration)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func seedFor(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}
