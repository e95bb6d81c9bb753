package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/models"
)

// AuditMessage is the queue payload emitted after each audit run.
type AuditMessage struct {
	TranscriptID string    `json:"transcript_id"`
	PersonaID    string    `json:"persona_id"`
	RunID        int64     `json:"run_id"`
	Score        float64   `json:"score"`
	SeverityBand string    `json:"severity_band"`
	HasCritical  bool      `json:"has_critical"`
	FailedRules  []string  `json:"failed_rules"`
	Timestamp    time.Time `json:"timestamp"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	Exchange   string
	RoutingKey string
	Durable    bool
	AutoDelete bool
}

// AMQPClient handles the AMQP connection and audit result publishing.
// An unconfigured client stays disconnected and publishing becomes a
// no-op; a broker outage never fails an audit.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true
	config.AutoDelete = false

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether the client has broker settings at all.
func (c *AMQPClient) Enabled() bool {
	return c.config.URL != "" && c.config.QueueName != ""
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if !c.Enabled() {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, audit publishing disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		metrics.RecordAMQPConnectionError("dial")
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		metrics.RecordAMQPConnectionError("dial")
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}
	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.RecordAMQPConnectionError("channel")
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	c.channel = channel

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		metrics.RecordAMQPConnectionError("queue_declare")
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	if err := channel.Qos(10, 0, false); err != nil {
		c.logger.WithError(err).Warn("Failed to set QoS on AMQP channel, continuing anyway")
	}

	c.connected = true
	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	c.stopChan = make(chan struct{})
	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishAuditResult publishes the outcome of one audit run. Errors
// are logged and counted; callers treat publishing as best-effort.
func (c *AMQPClient) PublishAuditResult(run *models.AuditRun, personaID string, findings []models.Finding) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"transcript_id": run.TranscriptID,
				"recover":       r,
			}).Error("Recovered from panic in AMQP PublishAuditResult")
		}
	}()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to AMQP server")
	}

	var failed []string
	for _, f := range findings {
		if !f.Passed {
			failed = append(failed, f.RuleID)
		}
	}

	message := AuditMessage{
		TranscriptID: run.TranscriptID,
		PersonaID:    personaID,
		RunID:        run.ID,
		Score:        run.Score,
		SeverityBand: string(run.SeverityBand),
		HasCritical:  run.HasCritical,
		FailedRules:  failed,
		Timestamp:    time.Now().UTC(),
	}

	bodyBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal audit message: %w", err)
	}

	c.connMutex.RLock()
	channel := c.channel
	connected := c.connected
	c.connMutex.RUnlock()

	if !connected || channel == nil {
		metrics.RecordAMQPPublish("error")
		return fmt.Errorf("lost AMQP connection before publishing")
	}

	err = channel.Publish(
		c.config.Exchange,
		c.config.RoutingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         bodyBytes,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   "43200000", // 12 hours in milliseconds
		},
	)
	if err != nil {
		metrics.RecordAMQPPublish("error")
		return fmt.Errorf("failed to publish audit result to AMQP: %w", err)
	}

	metrics.RecordAMQPPublish("success")
	c.logger.WithFields(logrus.Fields{
		"transcript_id": run.TranscriptID,
		"severity_band": run.SeverityBand,
	}).Debug("Published audit result to AMQP")
	return nil
}

// monitorConnection watches for connection loss and reconnects with
// exponential backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")

				err := c.Connect()
				if err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					return
				}

				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
