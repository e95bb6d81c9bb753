package summary

import (
	"context"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/audit"
	"callaudit-server/pkg/models"
)

// RuleBasedProvider builds a deterministic summary from the band and
// the failed findings. It never fails, so it sits last in the chain.
type RuleBasedProvider struct {
	logger *logrus.Logger
}

// NewRuleBasedProvider creates a new deterministic summary provider.
func NewRuleBasedProvider(logger *logrus.Logger) *RuleBasedProvider {
	return &RuleBasedProvider{logger: logger}
}

// Name returns the provider name
func (p *RuleBasedProvider) Name() string {
	return "rule_based"
}

// Initialize is a no-op; the provider has no external configuration.
func (p *RuleBasedProvider) Initialize() error {
	return nil
}

// Summarize composes the band with the failed finding reasons. The
// transcript is not consulted; the reasons already carry the evidence.
func (p *RuleBasedProvider) Summarize(_ context.Context, _ *models.Transcript, run *models.AuditRun, findings []models.Finding) (string, error) {
	return audit.FallbackSummary(run, findings), nil
}
