package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callaudit-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Database  DatabaseConfig  `json:"database"`
	Messaging MessagingConfig `json:"messaging"`
	Audit     AuditConfig     `json:"audit"`
	Summary   SummaryConfig   `json:"summary"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"text"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Enabled       bool          `json:"enabled" env:"HTTP_ENABLED" default:"true"`
	Port          int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	EnableMetrics bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	MetricsPath   string        `json:"metrics_path" env:"HTTP_METRICS_PATH" default:"/metrics"`
}

// DatabaseConfig holds SQLite storage configuration
type DatabaseConfig struct {
	Path string `json:"path" env:"DB_PATH" default:"callaudit.db"`
}

// MessagingConfig holds AMQP publishing configuration
type MessagingConfig struct {
	AMQPUrl        string `json:"amqp_url" env:"AMQP_URL"`
	AMQPQueueName  string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME"`
	AMQPExchange   string `json:"amqp_exchange" env:"AMQP_EXCHANGE"`
	AMQPRoutingKey string `json:"amqp_routing_key" env:"AMQP_ROUTING_KEY"`
}

// AuditConfig holds rule evaluation and scoring configuration
type AuditConfig struct {
	CatalogPath    string  `json:"catalog_path" env:"AUDIT_CATALOG_PATH"`
	IdleRatioMax   float64 `json:"idle_ratio_max" env:"AUDIT_IDLE_RATIO_MAX" default:"0.25"`
	MaxDwellSec    float64 `json:"max_dwell_sec" env:"AUDIT_MAX_DWELL_SEC" default:"300"`
	ScoreThreshold float64 `json:"score_threshold" env:"AUDIT_SCORE_THRESHOLD" default:"70"`
}

// SummaryConfig holds LLM summary configuration
type SummaryConfig struct {
	Enabled     bool   `json:"enabled" env:"SUMMARY_ENABLED" default:"true"`
	OpenAIModel string `json:"openai_model" env:"SUMMARY_OPENAI_MODEL" default:"gpt-4o-mini"`
}

// PipelineConfig holds batch pipeline configuration
type PipelineConfig struct {
	Workers        int           `json:"workers" env:"PIPELINE_WORKERS" default:"4"`
	AuditTimeout   time.Duration `json:"audit_timeout" env:"PIPELINE_AUDIT_TIMEOUT" default:"30s"`
	SummaryTimeout time.Duration `json:"summary_timeout" env:"PIPELINE_SUMMARY_TIMEOUT" default:"60s"`
}

// Load reads configuration from the environment, with optional .env
// file support, and validates it.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
	}

	config := &Config{}

	loadLoggingConfig(&config.Logging)
	loadHTTPConfig(&config.HTTP)
	loadDatabaseConfig(&config.Database)
	loadMessagingConfig(logger, &config.Messaging)
	loadAuditConfig(&config.Audit)
	loadSummaryConfig(&config.Summary)
	loadPipelineConfig(&config.Pipeline)

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "text")
	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")
}

func loadHTTPConfig(config *HTTPConfig) {
	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.MetricsPath = getEnv("HTTP_METRICS_PATH", "/metrics")
}

func loadDatabaseConfig(config *DatabaseConfig) {
	config.Path = getEnv("DB_PATH", "callaudit.db")
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "")
	config.AMQPExchange = getEnv("AMQP_EXCHANGE", "")
	config.AMQPRoutingKey = getEnv("AMQP_ROUTING_KEY", "")

	if config.AMQPUrl == "" || config.AMQPQueueName == "" {
		logger.Info("AMQP not configured, audit publishing disabled")
	}
}

func loadAuditConfig(config *AuditConfig) {
	config.CatalogPath = getEnv("AUDIT_CATALOG_PATH", "")
	config.IdleRatioMax = getEnvFloat("AUDIT_IDLE_RATIO_MAX", 0.25)
	config.MaxDwellSec = getEnvFloat("AUDIT_MAX_DWELL_SEC", 300)
	config.ScoreThreshold = getEnvFloat("AUDIT_SCORE_THRESHOLD", 70)
}

func loadSummaryConfig(config *SummaryConfig) {
	config.Enabled = getEnvBool("SUMMARY_ENABLED", true)
	config.OpenAIModel = getEnv("SUMMARY_OPENAI_MODEL", "gpt-4o-mini")
}

func loadPipelineConfig(config *PipelineConfig) {
	config.Workers = getEnvInt("PIPELINE_WORKERS", 4)
	config.AuditTimeout = getEnvDuration("PIPELINE_AUDIT_TIMEOUT", 30*time.Second)
	config.SummaryTimeout = getEnvDuration("PIPELINE_SUMMARY_TIMEOUT", 60*time.Second)
}

func validateConfig(config *Config) error {
	if config.HTTP.Port < 1 || config.HTTP.Port > 65535 {
		return errors.New(fmt.Sprintf("HTTP port out of range: %d", config.HTTP.Port))
	}
	if config.Database.Path == "" {
		return errors.New("database path must not be empty")
	}
	if config.Audit.IdleRatioMax <= 0 || config.Audit.IdleRatioMax > 1 {
		return errors.New(fmt.Sprintf("idle ratio threshold out of range: %g", config.Audit.IdleRatioMax))
	}
	if config.Audit.MaxDwellSec <= 0 {
		return errors.New(fmt.Sprintf("max dwell threshold must be positive: %g", config.Audit.MaxDwellSec))
	}
	if config.Audit.ScoreThreshold < 0 || config.Audit.ScoreThreshold > 100 {
		return errors.New(fmt.Sprintf("actionable score threshold out of range: %g", config.Audit.ScoreThreshold))
	}
	if config.Pipeline.Workers < 1 {
		return errors.New(fmt.Sprintf("pipeline workers must be at least 1: %d", config.Pipeline.Workers))
	}
	return nil
}

// ApplyLogging configures the logger from the logging section.
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
