package audit

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/models"
	"callaudit-server/pkg/rules"
)

// idleRatioTolerance absorbs rounding in stored idle ratios. A stored
// ratio further than this from idle_sec/call_duration_sec marks the
// whole metrics record as invalid.
const idleRatioTolerance = 0.005

// ProcessEvaluator applies idle/dwell threshold rules to computed DPA
// metrics, producing findings in the same shape as the transcript
// evaluator.
type ProcessEvaluator struct {
	logger  *logrus.Logger
	catalog *rules.Catalog
}

// NewProcessEvaluator creates a process evaluator over a catalog.
func NewProcessEvaluator(logger *logrus.Logger, catalog *rules.Catalog) *ProcessEvaluator {
	return &ProcessEvaluator{
		logger:  logger,
		catalog: catalog,
	}
}

// Evaluate runs the configured process rules against a metrics record.
// Absent or structurally invalid metrics yield no findings and an
// ErrMetricsUnavailable so the caller scores on transcript findings
// only, never a silent pass.
func (e *ProcessEvaluator) Evaluate(personaID string, m *models.DPAMetrics) ([]models.Finding, error) {
	if m == nil {
		return nil, errors.Wrap(errors.ErrMetricsUnavailable, "no metrics record")
	}
	if err := validateMetrics(m); err != nil {
		e.logger.WithFields(logrus.Fields{
			"transcript_id": m.TranscriptID,
			"error":         err,
		}).Warn("DPA metrics failed validation, skipping process rules")
		return nil, err
	}

	applicable := e.catalog.RulesFor(personaID, rules.CategoryProcess)
	findings := make([]models.Finding, 0, len(applicable))

	for _, rule := range applicable {
		value, label, ok := metricValue(m, rule.Detect.Metric)
		if !ok {
			continue
		}

		passed := value <= rule.Detect.Max
		var reason string
		if passed {
			reason = fmt.Sprintf("%s %s within threshold %s", label, formatMetric(rule.Detect.Metric, value), formatMetric(rule.Detect.Metric, rule.Detect.Max))
		} else {
			reason = fmt.Sprintf("%s %s exceeds threshold %s", label, formatMetric(rule.Detect.Metric, value), formatMetric(rule.Detect.Metric, rule.Detect.Max))
		}

		findings = append(findings, models.Finding{
			TranscriptID: m.TranscriptID,
			RuleID:       rule.ID,
			Passed:       passed,
			Severity:     rule.Severity,
			Reason:       reason,
			Weight:       rule.Weight,
		})
	}

	return findings, nil
}

// validateMetrics enforces the structural invariants of a DPA metrics
// record: non-negative durations, idle ratio in [0,1] and consistent
// with idle_sec/call_duration_sec, and max_dwell matching the dwell
// map.
func validateMetrics(m *models.DPAMetrics) error {
	if m.CallDurationSec <= 0 {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("non-positive call duration %v", m.CallDurationSec))
	}
	if m.IdleSec < 0 || m.IdleSec > m.CallDurationSec {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("idle_sec %v outside [0, call duration]", m.IdleSec))
	}
	if m.IdleRatio < 0 || m.IdleRatio > 1 {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("idle_ratio %v outside [0,1]", m.IdleRatio))
	}

	derived := m.IdleSec / m.CallDurationSec
	if math.Abs(derived-m.IdleRatio) > idleRatioTolerance {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("stored idle_ratio %v disagrees with derived %v", m.IdleRatio, derived))
	}

	if m.MaxDwellSec < 0 {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("negative max_dwell_sec %v", m.MaxDwellSec))
	}
	maxDwell := 0.0
	for _, v := range m.DwellByScreen {
		if v < 0 {
			return errors.Wrap(errors.ErrMetricsUnavailable, "negative dwell value")
		}
		if v > maxDwell {
			maxDwell = v
		}
	}
	if math.Abs(maxDwell-m.MaxDwellSec) > idleRatioTolerance*m.CallDurationSec {
		return errors.Wrap(errors.ErrMetricsUnavailable, fmt.Sprintf("stored max_dwell_sec %v disagrees with dwell map max %v", m.MaxDwellSec, maxDwell))
	}

	return nil
}

func metricValue(m *models.DPAMetrics, metric string) (float64, string, bool) {
	switch metric {
	case rules.MetricIdleRatio:
		return m.IdleRatio, "idle ratio", true
	case rules.MetricMaxDwellSec:
		return m.MaxDwellSec, "max dwell", true
	}
	return 0, "", false
}

func formatMetric(metric string, value float64) string {
	if metric == rules.MetricMaxDwellSec {
		return fmt.Sprintf("%.1fs", value)
	}
	return fmt.Sprintf("%.2f", value)
}
