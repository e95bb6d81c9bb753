package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"callaudit-server/pkg/models"
)

func finding(ruleID string, passed bool, severity models.Severity, weight float64) models.Finding {
	return models.Finding{
		TranscriptID: "t-1",
		RuleID:       ruleID,
		Passed:       passed,
		Severity:     severity,
		Weight:       weight,
	}
}

func TestScore_NoFindings(t *testing.T) {
	outcome := Score(nil)

	assert.Equal(t, 0.0, outcome.Score)
	assert.Equal(t, models.BandGood, outcome.Band)
	assert.False(t, outcome.HasCritical)
}

func TestScore_AllPassed(t *testing.T) {
	outcome := Score([]models.Finding{
		finding("a", true, models.SeverityHigh, 25),
		finding("b", true, models.SeverityModerate, 15),
	})

	assert.Equal(t, 0.0, outcome.Score)
	assert.Equal(t, models.BandGood, outcome.Band)
}

func TestScore_PartialFailure(t *testing.T) {
	// 15 failed out of 40 evaluated = 37.5
	outcome := Score([]models.Finding{
		finding("a", true, models.SeverityHigh, 25),
		finding("b", false, models.SeverityModerate, 15),
	})

	assert.InDelta(t, 37.5, outcome.Score, 1e-9)
	assert.Equal(t, models.BandModerate, outcome.Band)
	assert.False(t, outcome.HasCritical)
}

func TestScore_DenominatorIsEvaluatedOnly(t *testing.T) {
	// Only one rule evaluated and it failed: 100 regardless of weight.
	outcome := Score([]models.Finding{
		finding("high_idle_ratio", false, models.SeverityModerate, 10),
	})

	assert.InDelta(t, 100.0, outcome.Score, 1e-9)
	assert.Equal(t, models.BandHigh, outcome.Band)
	assert.False(t, outcome.HasCritical)
}

func TestScore_CriticalOverridesBand(t *testing.T) {
	// Score lands well under the moderate floor but the failed critical
	// forces the critical band.
	outcome := Score([]models.Finding{
		finding("a", false, models.SeverityCritical, 5),
		finding("b", true, models.SeverityHigh, 95),
	})

	assert.InDelta(t, 5.0, outcome.Score, 1e-9)
	assert.Equal(t, models.BandCritical, outcome.Band)
	assert.True(t, outcome.HasCritical)
}

func TestScore_PassedCriticalDoesNotOverride(t *testing.T) {
	outcome := Score([]models.Finding{
		finding("a", true, models.SeverityCritical, 40),
		finding("b", false, models.SeverityLow, 5),
	})

	assert.Equal(t, models.BandGood, outcome.Band)
	assert.False(t, outcome.HasCritical)
}

func TestBandFor_Boundaries(t *testing.T) {
	assert.Equal(t, models.BandGood, BandFor(0, false))
	assert.Equal(t, models.BandGood, BandFor(24.999, false))
	assert.Equal(t, models.BandModerate, BandFor(25, false))
	assert.Equal(t, models.BandModerate, BandFor(49.999, false))
	assert.Equal(t, models.BandHigh, BandFor(50, false))
	assert.Equal(t, models.BandHigh, BandFor(100, false))
	assert.Equal(t, models.BandCritical, BandFor(0, true))
}

func TestScore_MonotonicInFailures(t *testing.T) {
	base := []models.Finding{
		finding("a", true, models.SeverityHigh, 25),
		finding("b", true, models.SeverityModerate, 15),
		finding("c", true, models.SeverityLow, 5),
	}

	prev := Score(base).Score
	for i := range base {
		base[i].Passed = false
		next := Score(base).Score
		assert.Greater(t, next, prev, "failing one more rule must raise the score")
		prev = next
	}
	assert.InDelta(t, 100.0, prev, 1e-9)
}

func TestFallbackSummary_NoFailures(t *testing.T) {
	run := &models.AuditRun{SeverityBand: models.BandGood}
	text := FallbackSummary(run, []models.Finding{
		finding("a", true, models.SeverityHigh, 25),
	})

	assert.Equal(t, "Good: no rule failures.", text)
}

func TestFallbackSummary_ListsFailedReasons(t *testing.T) {
	run := &models.AuditRun{SeverityBand: models.BandCritical}
	f1 := finding("a", false, models.SeverityCritical, 40)
	f1.Reason = "no required phrase found in segment greeting"
	f2 := finding("b", false, models.SeverityModerate, 15)
	f2.Reason = "idle ratio 0.31 exceeds threshold 0.25"

	text := FallbackSummary(run, []models.Finding{f1, f2})

	assert.Equal(t, "Critical: no required phrase found in segment greeting; idle ratio 0.31 exceeds threshold 0.25.", text)
}
