package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/audit"
	"callaudit-server/pkg/config"
	"callaudit-server/pkg/database"
	http_server "callaudit-server/pkg/http"
	"callaudit-server/pkg/messaging"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/pipeline"
	"callaudit-server/pkg/rules"
	"callaudit-server/pkg/summary"
	"callaudit-server/pkg/synthetic"
	"callaudit-server/pkg/util"
)

var (
	logger      = logrus.New()
	appConfig   *config.Config
	store       *database.Store
	catalog     *rules.Catalog
	amqpClient  *messaging.AMQPClient
	summaries   *summary.ProviderManager
	auditPipe   *pipeline.Pipeline
	httpServer  *http_server.Server
	wsHub       *http_server.AuditHub
	shutdownMgr *util.GracefulShutdown

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	runPipeline := flag.Bool("pipeline", false, "generate a synthetic batch and audit it")
	backfill := flag.Bool("backfill-summaries", false, "generate outcome summaries for runs missing one")
	serve := flag.Bool("serve", false, "keep the HTTP API running after batch work completes")
	flag.Parse()

	// Default invocation runs the full pipeline and then serves results.
	if !*runPipeline && !*backfill && !*serve {
		*runPipeline = true
		*serve = true
	}

	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	if appConfig.HTTP.Enabled {
		httpServer.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	// Batch work runs in the foreground; -serve keeps the process alive after.
	exitCode := 0
	if *runPipeline {
		report, err := auditPipe.Run(rootCtx)
		if err != nil {
			logger.WithError(err).Error("Audit pipeline failed")
			exitCode = 1
		} else {
			logger.WithFields(logrus.Fields{
				"generated": report.Generated,
				"audited":   report.Audited,
				"failed":    report.Failed,
				"by_band":   report.ByBand,
			}).Info("Audit pipeline completed")
			if report.Failed > 0 {
				exitCode = 1
			}
		}
	}

	if *backfill && exitCode == 0 {
		updated, err := auditPipe.BackfillSummaries(rootCtx)
		if err != nil {
			logger.WithError(err).Error("Summary backfill failed")
			exitCode = 1
		} else {
			logger.WithField("updated", updated).Info("Summary backfill completed")
		}
	}

	if !*serve || !appConfig.HTTP.Enabled {
		shutdown()
		os.Exit(exitCode)
	}

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")
	shutdown()
	os.Exit(exitCode)
}

func shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Cancel the root context to signal shutdown to all goroutines
	rootCancel()

	if err := shutdownMgr.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Errors during shutdown")
		return
	}
	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and wires all components
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.SetMetricsPath(appConfig.HTTP.MetricsPath)
	metrics.StartMetrics(logger, appConfig.HTTP.EnableMetrics)

	shutdownMgr = util.NewGracefulShutdown(logger, 15*time.Second)

	store, err = database.NewStore(appConfig.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	logger.WithField("path", appConfig.Database.Path).Info("Database opened")
	shutdownMgr.RegisterCloser("database", store, 30)

	if appConfig.Audit.CatalogPath != "" {
		catalog, err = rules.LoadFile(appConfig.Audit.CatalogPath)
		if err != nil {
			return fmt.Errorf("failed to load rule catalog: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"path":  appConfig.Audit.CatalogPath,
			"rules": catalog.Len(),
		}).Info("Rule catalog loaded from file")
	} else {
		catalog, err = rules.DefaultCatalog(rules.Thresholds{
			IdleRatioMax: appConfig.Audit.IdleRatioMax,
			MaxDwellSec:  appConfig.Audit.MaxDwellSec,
		})
		if err != nil {
			return fmt.Errorf("failed to build default rule catalog: %w", err)
		}
		logger.WithField("rules", catalog.Len()).Info("Default rule catalog loaded")
	}

	transcriptEval := audit.NewTranscriptEvaluator(logger, catalog)
	processEval := audit.NewProcessEvaluator(logger, catalog)
	orchestrator := audit.NewOrchestrator(logger, transcriptEval, processEval, store)

	if appConfig.Summary.Enabled {
		summaries = summary.NewProviderManager(logger)
		if err := summaries.RegisterProvider(summary.NewOpenAIProvider(logger, appConfig.Summary.OpenAIModel)); err != nil {
			logger.WithError(err).Warn("OpenAI summary provider unavailable, relying on fallback")
		}
		if err := summaries.RegisterProvider(summary.NewRuleBasedProvider(logger)); err != nil {
			logger.WithError(err).Warn("Failed to register rule-based summary provider")
		}
		logger.WithField("providers", summaries.Providers()).Info("Summary providers registered")
	} else {
		logger.Info("Outcome summaries disabled by configuration")
	}

	// AMQP is best effort. A dead broker must never block audit work.
	if appConfig.Messaging.AMQPUrl != "" && appConfig.Messaging.AMQPQueueName != "" {
		logger.Info("Initializing AMQP client")
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:        appConfig.Messaging.AMQPUrl,
			QueueName:  appConfig.Messaging.AMQPQueueName,
			Exchange:   appConfig.Messaging.AMQPExchange,
			RoutingKey: appConfig.Messaging.AMQPRoutingKey,
			Durable:    true,
			AutoDelete: false,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("Failed to connect to AMQP server, continuing without AMQP")
		} else {
			logger.Info("AMQP client initialized successfully")
		}
		shutdownMgr.Register(util.ShutdownResource{
			Name:     "amqp",
			Priority: 20,
			Shutdown: func(ctx context.Context) error {
				amqpClient.Disconnect()
				return nil
			},
		})
	} else {
		logger.Warn("AMQP not configured, audit results will not be sent to message queue")
	}

	auditPipe = pipeline.New(logger, appConfig.Pipeline, store,
		synthetic.NewGenerator(logger), orchestrator, summaries, amqpClient)

	wsHub = http_server.NewAuditHub(logger)
	go wsHub.Run(rootCtx)
	auditPipe.SetBroadcaster(wsHub)

	httpServer = http_server.NewServer(logger, appConfig.HTTP, appConfig.Audit.ScoreThreshold, store, wsHub)
	shutdownMgr.Register(util.ShutdownResource{
		Name:     "http",
		Priority: 10,
		Shutdown: httpServer.Shutdown,
	})

	logStartupConfig()
	return nil
}

// logStartupConfig logs the current configuration
func logStartupConfig() {
	logger.WithFields(logrus.Fields{
		"http_enabled":       appConfig.HTTP.Enabled,
		"http_port":          appConfig.HTTP.Port,
		"http_metrics":       appConfig.HTTP.EnableMetrics,
		"http_read_timeout":  appConfig.HTTP.ReadTimeout,
		"http_write_timeout": appConfig.HTTP.WriteTimeout,
	}).Info("HTTP server configuration")

	logger.WithFields(logrus.Fields{
		"db_path":         appConfig.Database.Path,
		"catalog_path":    appConfig.Audit.CatalogPath,
		"idle_ratio_max":  appConfig.Audit.IdleRatioMax,
		"max_dwell_sec":   appConfig.Audit.MaxDwellSec,
		"score_threshold": appConfig.Audit.ScoreThreshold,
		"workers":         appConfig.Pipeline.Workers,
		"audit_timeout":   appConfig.Pipeline.AuditTimeout,
		"summary_timeout": appConfig.Pipeline.SummaryTimeout,
	}).Info("Audit configuration")

	logger.WithFields(logrus.Fields{
		"amqp_configured":   appConfig.Messaging.AMQPUrl != "",
		"amqp_queue":        appConfig.Messaging.AMQPQueueName,
		"summaries_enabled": appConfig.Summary.Enabled,
	}).Info("Delivery configuration")
}
