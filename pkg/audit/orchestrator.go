package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/models"
)

// ResultStore persists the output of one audit pass. Findings and the
// audit run must become visible together or not at all.
type ResultStore interface {
	SaveAuditResult(findings []models.Finding, run *models.AuditRun) error
}

// Orchestrator composes the transcript evaluator, the process evaluator
// and the scorer into one evaluation pass per transcript. Evaluation is
// stateless; multiple transcripts may be audited concurrently.
type Orchestrator struct {
	logger      *logrus.Logger
	transcripts *TranscriptEvaluator
	process     *ProcessEvaluator
	store       ResultStore
}

// NewOrchestrator wires an orchestrator. The store may be nil for
// callers that persist results themselves.
func NewOrchestrator(logger *logrus.Logger, transcripts *TranscriptEvaluator, process *ProcessEvaluator, store ResultStore) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		transcripts: transcripts,
		process:     process,
		store:       store,
	}
}

// Audit evaluates one transcript plus its DPA metrics and returns the
// scored run with its findings. The two evaluators are independent and
// run concurrently. Missing or invalid metrics degrade to transcript
// findings only; a persistence failure is returned to the caller with
// nothing partially written.
func (o *Orchestrator) Audit(ctx context.Context, t models.Transcript, m *models.DPAMetrics) (*models.AuditRun, []models.Finding, error) {
	var (
		transcriptFindings []models.Finding
		processFindings    []models.Finding
		metricsUnavailable bool
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		transcriptFindings = o.transcripts.Evaluate(t)
		return nil
	})
	g.Go(func() error {
		var err error
		processFindings, err = o.process.Evaluate(t.PersonaID, m)
		if err != nil {
			if errors.IsAny(err, errors.ErrMetricsUnavailable) {
				metricsUnavailable = true
				return nil
			}
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if metricsUnavailable {
		o.logger.WithField("transcript_id", t.ID).Warn("Scoring without process findings, metrics unavailable")
	}

	// Stable order: transcript findings first, then process findings.
	findings := make([]models.Finding, 0, len(transcriptFindings)+len(processFindings))
	findings = append(findings, transcriptFindings...)
	findings = append(findings, processFindings...)

	outcome := Score(findings)
	run := &models.AuditRun{
		TranscriptID: t.ID,
		Score:        models.DisplayScore(outcome.Score),
		SeverityBand: outcome.Band,
		HasCritical:  outcome.HasCritical,
		RunAt:        time.Now().UTC(),
	}

	if o.store != nil {
		if err := o.store.SaveAuditResult(findings, run); err != nil {
			return nil, nil, errors.Wrap(err, "persist audit result", map[string]interface{}{
				"transcript_id": t.ID,
			})
		}
	}

	o.recordMetrics(t, run, findings)

	o.logger.WithFields(logrus.Fields{
		"transcript_id": t.ID,
		"persona":       t.PersonaID,
		"score":         run.Score,
		"band":          run.SeverityBand,
		"has_critical":  run.HasCritical,
		"findings":      len(findings),
	}).Info("Audit run completed")

	return run, findings, nil
}

func (o *Orchestrator) recordMetrics(t models.Transcript, run *models.AuditRun, findings []models.Finding) {
	metrics.RecordAuditCompleted(t.PersonaID, string(run.SeverityBand), run.Score)
	for _, f := range findings {
		if !f.Passed {
			metrics.RecordRuleFailure(f.RuleID, string(f.Severity))
		}
	}
}

// FallbackSummary builds the deterministic reason-for-outcome used when
// no LLM narrative is available: the band followed by the failed
// findings' reasons. It is never empty.
func FallbackSummary(run *models.AuditRun, findings []models.Finding) string {
	band := string(run.SeverityBand)
	if band != "" {
		band = strings.ToUpper(band[:1]) + band[1:]
	}

	var reasons []string
	for _, f := range findings {
		if !f.Passed {
			reasons = append(reasons, f.Reason)
		}
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("%s: no rule failures.", band)
	}

	out := band + ": "
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out + "."
}
