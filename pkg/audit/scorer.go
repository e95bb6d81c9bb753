package audit

import (
	"callaudit-server/pkg/models"
)

// Band thresholds applied to the unrounded score when no critical
// finding failed. Scores land in [0,100].
const (
	bandModerateFloor = 25.0
	bandHighFloor     = 50.0
)

// Outcome is the aggregate of one scoring pass.
type Outcome struct {
	Score       float64
	Band        models.Band
	HasCritical bool
}

// Score aggregates findings into a 0-100 score, a severity band, and
// the critical flag. Failed findings contribute their weight; the
// denominator is the weight of every finding actually evaluated, not
// the full catalog. No applicable rules means score 0 and band good,
// never an error.
//
// A single failed critical finding forces the critical band regardless
// of the numeric score.
func Score(findings []models.Finding) Outcome {
	var raw, maxPossible float64
	hasCritical := false

	for _, f := range findings {
		maxPossible += f.Weight
		if !f.Passed {
			raw += f.Weight
			if f.Severity == models.SeverityCritical {
				hasCritical = true
			}
		}
	}

	score := 0.0
	if maxPossible > 0 {
		score = 100 * raw / maxPossible
	}

	return Outcome{
		Score:       score,
		Band:        BandFor(score, hasCritical),
		HasCritical: hasCritical,
	}
}

// BandFor maps an unrounded score and the critical flag to a severity
// band. Banding always uses the unrounded score so display rounding
// cannot flap a result across a boundary.
func BandFor(score float64, hasCritical bool) models.Band {
	if hasCritical {
		return models.BandCritical
	}
	switch {
	case score >= bandHighFloor:
		return models.BandHigh
	case score >= bandModerateFloor:
		return models.BandModerate
	}
	return models.BandGood
}
