package summary

import (
	"context"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/errors"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/models"
)

// Provider generates a human-readable outcome summary for one audit run.
type Provider interface {
	// Initialize prepares the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// Summarize produces a short narrative for the run, given the full
	// transcript and the finding list
	Summarize(ctx context.Context, transcript *models.Transcript, run *models.AuditRun, findings []models.Finding) (string, error)
}

// ProviderManager holds the registered summary providers and the order
// in which they are tried. The last registered provider is expected to
// be deterministic so a summary is always produced.
type ProviderManager struct {
	logger *logrus.Logger
	chain  []Provider
}

// NewProviderManager creates an empty provider manager.
func NewProviderManager(logger *logrus.Logger) *ProviderManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProviderManager{logger: logger}
}

// RegisterProvider initializes a provider and appends it to the chain.
// A provider that fails to initialize is skipped, not fatal; the chain
// still works as long as one provider registers.
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Warn("Failed to initialize summary provider")
		return err
	}

	m.chain = append(m.chain, provider)
	m.logger.WithField("provider", provider.Name()).Info("Registered summary provider")
	return nil
}

// Providers returns the names of the registered providers in try order.
func (m *ProviderManager) Providers() []string {
	names := make([]string, 0, len(m.chain))
	for _, p := range m.chain {
		names = append(names, p.Name())
	}
	return names
}

// Summarize tries each provider in order and returns the first
// successful summary. Every provider failing is an error; callers that
// register the rule-based provider last never see it.
func (m *ProviderManager) Summarize(ctx context.Context, transcript *models.Transcript, run *models.AuditRun, findings []models.Finding) (string, error) {
	if len(m.chain) == 0 {
		return "", errors.ErrNoProviderAvailable
	}

	var lastErr error
	for _, p := range m.chain {
		text, err := p.Summarize(ctx, transcript, run, findings)
		if err == nil && text != "" {
			metrics.RecordSummaryRequest(p.Name(), "success")
			return text, nil
		}
		metrics.RecordSummaryRequest(p.Name(), "error")
		m.logger.WithFields(logrus.Fields{
			"provider":      p.Name(),
			"transcript_id": run.TranscriptID,
			"error":         err,
		}).Warn("Summary provider failed, trying next")
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.ErrSummaryUnavailable
		}
	}

	return "", errors.Wrap(lastErr, "all summary providers failed",
		map[string]interface{}{"transcript_id": run.TranscriptID})
}
