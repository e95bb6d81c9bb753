package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/audit"
	"callaudit-server/pkg/config"
	"callaudit-server/pkg/database"
	"callaudit-server/pkg/dpa"
	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/messaging"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/models"
	"callaudit-server/pkg/summary"
	"callaudit-server/pkg/synthetic"
	"callaudit-server/pkg/util"
)

// AuditBroadcaster pushes completed audit runs to live subscribers.
type AuditBroadcaster interface {
	BroadcastAudit(run *models.AuditRun, personaID string, findings []models.Finding)
}

// Pipeline runs the full batch flow: generate synthetic transcripts
// and telemetry, audit them concurrently, persist the results, attach
// outcome summaries and publish to the queue.
type Pipeline struct {
	logger       *logrus.Logger
	cfg          config.PipelineConfig
	store        *database.Store
	generator    *synthetic.Generator
	orchestrator *audit.Orchestrator
	summaries    *summary.ProviderManager
	amqp         *messaging.AMQPClient
	broadcaster  AuditBroadcaster
}

// SetBroadcaster attaches a live event sink for completed audits.
func (p *Pipeline) SetBroadcaster(b AuditBroadcaster) {
	p.broadcaster = b
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	Generated int
	Audited   int
	Failed    int
	ByBand    map[string]int
}

// New wires a pipeline. The summary manager and AMQP client may be nil
// when those stages are disabled.
func New(logger *logrus.Logger, cfg config.PipelineConfig, store *database.Store,
	generator *synthetic.Generator, orchestrator *audit.Orchestrator,
	summaries *summary.ProviderManager, amqp *messaging.AMQPClient) *Pipeline {
	return &Pipeline{
		logger:       logger,
		cfg:          cfg,
		store:        store,
		generator:    generator,
		orchestrator: orchestrator,
		summaries:    summaries,
		amqp:         amqp,
	}
}

// Run executes the pipeline end to end. Per-transcript failures are
// counted and logged but do not stop the batch.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{ByBand: make(map[string]int)}

	transcripts, err := p.generator.BuildAll()
	if err != nil {
		metrics.RecordPipelineError("generate")
		return report, errors.Wrap(err, "generate transcripts")
	}
	report.Generated = len(transcripts)

	type prepared struct {
		transcript *models.Transcript
		metrics    models.DPAMetrics
	}
	var batch []prepared

	for _, t := range transcripts {
		if err := p.store.SaveTranscript(t); err != nil {
			metrics.RecordPipelineError("persist_transcript")
			p.logger.WithError(err).WithField("transcript_id", t.ID).Error("Failed to save transcript")
			report.Failed++
			continue
		}

		events, m := dpa.GenerateForTranscript(*t, dpa.GenerateOptions{})
		if err := p.store.SaveDPA(t.ID, events, &m); err != nil {
			metrics.RecordPipelineError("persist_telemetry")
			p.logger.WithError(err).WithField("transcript_id", t.ID).Error("Failed to save telemetry")
			report.Failed++
			continue
		}

		batch = append(batch, prepared{transcript: t, metrics: m})
	}

	pool := util.NewWorkerPool(p.cfg.Workers, len(batch))
	pool.Start()
	defer pool.Shutdown(5 * time.Second)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, item := range batch {
		item := item
		wg.Add(1)
		ok := pool.Submit(func() {
			defer wg.Done()
			run, _, err := p.auditOne(ctx, item.transcript, item.metrics)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return
			}
			report.Audited++
			report.ByBand[string(run.SeverityBand)]++
		})
		if !ok {
			wg.Done()
			mu.Lock()
			report.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	p.logger.WithFields(logrus.Fields{
		"generated": report.Generated,
		"audited":   report.Audited,
		"failed":    report.Failed,
		"by_band":   report.ByBand,
	}).Info("Pipeline run completed")

	return report, nil
}

func (p *Pipeline) auditOne(ctx context.Context, t *models.Transcript, m models.DPAMetrics) (*models.AuditRun, []models.Finding, error) {
	auditCtx, cancel := context.WithTimeout(ctx, p.cfg.AuditTimeout)
	defer cancel()

	run, findings, err := p.orchestrator.Audit(auditCtx, *t, &m)
	if err != nil {
		metrics.RecordPipelineError("audit")
		p.logger.WithError(err).WithField("transcript_id", t.ID).Error("Audit failed")
		return nil, nil, err
	}

	if p.summaries != nil {
		p.attachSummary(ctx, t, run, findings)
	}

	if p.amqp != nil && p.amqp.IsConnected() {
		if err := p.amqp.PublishAuditResult(run, t.PersonaID, findings); err != nil {
			metrics.RecordPipelineError("publish")
			p.logger.WithError(err).WithField("transcript_id", t.ID).Warn("Failed to publish audit result")
		}
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastAudit(run, t.PersonaID, findings)
	}

	return run, findings, nil
}

func (p *Pipeline) attachSummary(ctx context.Context, t *models.Transcript, run *models.AuditRun, findings []models.Finding) {
	summaryCtx, cancel := context.WithTimeout(ctx, p.cfg.SummaryTimeout)
	defer cancel()

	text, err := p.summaries.Summarize(summaryCtx, t, run, findings)
	if err != nil {
		metrics.RecordPipelineError("summary")
		p.logger.WithError(err).WithField("transcript_id", run.TranscriptID).Warn("Summary generation failed")
		return
	}

	if err := p.store.UpdateOutcomeSummary(run.ID, text); err != nil {
		metrics.RecordPipelineError("summary")
		p.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to store outcome summary")
		return
	}
	run.OutcomeSummary = text
}

// BackfillSummaries attaches outcome summaries to stored runs that are
// missing one, oldest first.
func (p *Pipeline) BackfillSummaries(ctx context.Context) (int, error) {
	if p.summaries == nil {
		return 0, errors.ErrNoProviderAvailable
	}

	runs, err := p.store.ListRunsWithoutSummary()
	if err != nil {
		return 0, errors.Wrap(err, "list runs without summary")
	}

	updated := 0
	for i := range runs {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		run := runs[i]
		findings, err := p.store.GetFindings(run.TranscriptID)
		if err != nil {
			metrics.RecordPipelineError("summary")
			p.logger.WithError(err).WithField("transcript_id", run.TranscriptID).Warn("Failed to load findings for backfill")
			continue
		}

		transcript, err := p.store.GetTranscript(run.TranscriptID)
		if err != nil {
			metrics.RecordPipelineError("summary")
			p.logger.WithError(err).WithField("transcript_id", run.TranscriptID).Warn("Failed to load transcript for backfill")
			continue
		}

		p.attachSummary(ctx, transcript, &run, findings)
		if run.OutcomeSummary != "" {
			updated++
		}
	}

	p.logger.WithFields(logrus.Fields{
		"candidates": len(runs),
		"updated":    updated,
	}).Info("Summary backfill completed")

	return updated, nil
}
