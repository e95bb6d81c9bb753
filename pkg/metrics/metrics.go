package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Audit metrics
	AuditsCompleted *prometheus.CounterVec
	AuditScore      *prometheus.HistogramVec
	RuleFailures    *prometheus.CounterVec

	// Pipeline metrics
	TranscriptsGenerated *prometheus.CounterVec
	PipelineErrors       *prometheus.CounterVec

	// Summary provider metrics
	SummaryRequests *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AuditsCompleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_audits_completed_total",
				Help: "Total number of completed audit runs",
			},
			[]string{"persona", "band"},
		)

		AuditScore = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callaudit_audit_score",
				Help:    "Distribution of audit scores (0-100, higher is worse)",
				Buckets: []float64{5, 10, 25, 40, 50, 65, 80, 90, 100},
			},
			[]string{"persona"},
		)

		RuleFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_rule_failures_total",
				Help: "Total number of failed rule findings",
			},
			[]string{"rule_id", "severity"},
		)

		TranscriptsGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_transcripts_generated_total",
				Help: "Total number of synthetic transcripts generated",
			},
			[]string{"persona", "language"},
		)

		PipelineErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_pipeline_errors_total",
				Help: "Total number of pipeline stage errors",
			},
			[]string{"stage"},
		)

		SummaryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_summary_requests_total",
				Help: "Total number of outcome summary requests by provider and status",
			},
			[]string{"provider", "status"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_amqp_published_messages_total",
				Help: "Total number of AMQP messages published",
			},
			[]string{"status"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callaudit_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"operation"},
		)

		registry.MustRegister(
			AuditsCompleted,
			AuditScore,
			RuleFailures,
			TranscriptsGenerated,
			PipelineErrors,
			SummaryRequests,
			AMQPPublishedMessages,
			AMQPConnectionErrors,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordAuditCompleted records one completed audit run
func RecordAuditCompleted(persona, band string, score float64) {
	if !metricsEnabled || AuditsCompleted == nil {
		return
	}
	AuditsCompleted.WithLabelValues(persona, band).Inc()
	AuditScore.WithLabelValues(persona).Observe(score)
}

// RecordRuleFailure records one failed finding
func RecordRuleFailure(ruleID, severity string) {
	if !metricsEnabled || RuleFailures == nil {
		return
	}
	RuleFailures.WithLabelValues(ruleID, severity).Inc()
}

// RecordTranscriptGenerated records one generated transcript
func RecordTranscriptGenerated(persona, language string) {
	if !metricsEnabled || TranscriptsGenerated == nil {
		return
	}
	TranscriptsGenerated.WithLabelValues(persona, language).Inc()
}

// RecordPipelineError records a pipeline stage error
func RecordPipelineError(stage string) {
	if !metricsEnabled || PipelineErrors == nil {
		return
	}
	PipelineErrors.WithLabelValues(stage).Inc()
}

// RecordSummaryRequest records an outcome summary attempt
func RecordSummaryRequest(provider, status string) {
	if !metricsEnabled || SummaryRequests == nil {
		return
	}
	SummaryRequests.WithLabelValues(provider, status).Inc()
}

// RecordAMQPPublish records one publish attempt
func RecordAMQPPublish(status string) {
	if !metricsEnabled || AMQPPublishedMessages == nil {
		return
	}
	AMQPPublishedMessages.WithLabelValues(status).Inc()
}

// RecordAMQPConnectionError records a connection-level AMQP error
func RecordAMQPConnectionError(operation string) {
	if !metricsEnabled || AMQPConnectionErrors == nil {
		return
	}
	AMQPConnectionErrors.WithLabelValues(operation).Inc()
}
