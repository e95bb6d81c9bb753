package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"callaudit-server/pkg/models"
)

// AuditEventMessage is pushed to connected clients when an audit run
// completes.
type AuditEventMessage struct {
	TranscriptID string    `json:"transcript_id"`
	PersonaID    string    `json:"persona_id"`
	Score        float64   `json:"score"`
	SeverityBand string    `json:"severity_band"`
	HasCritical  bool      `json:"has_critical"`
	FailedRules  []string  `json:"failed_rules"`
	Timestamp    time.Time `json:"timestamp"`
}

// Client represents a connected WebSocket client
type Client struct {
	hub          *AuditHub
	conn         *websocket.Conn
	send         chan []byte
	logger       *logrus.Logger
	transcriptID string // If client subscribes to a specific transcript
}

// AuditHub manages WebSocket clients and broadcasts audit events.
type AuditHub struct {
	logger      *logrus.Logger
	clients     map[*Client]bool
	subscribers map[string]map[*Client]bool
	broadcast   chan *AuditEventMessage
	register    chan *Client
	unregister  chan *Client
	mutex       sync.RWMutex
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewAuditHub creates a new audit event hub
func NewAuditHub(logger *logrus.Logger) *AuditHub {
	return &AuditHub{
		logger:      logger,
		clients:     make(map[*Client]bool),
		subscribers: make(map[string]map[*Client]bool),
		broadcast:   make(chan *AuditEventMessage),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
	}
}

// Run starts the audit hub
func (h *AuditHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket audit hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket audit hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			if client.transcriptID != "" {
				if _, exists := h.subscribers[client.transcriptID]; !exists {
					h.subscribers[client.transcriptID] = make(map[*Client]bool)
				}
				h.subscribers[client.transcriptID][client] = true
				h.logger.WithField("transcript_id", client.transcriptID).Info("Client subscribed to specific transcript")
			}
			h.mutex.Unlock()
			h.logger.Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				if client.transcriptID != "" {
					if subs, exists := h.subscribers[client.transcriptID]; exists {
						delete(subs, client)
						if len(subs) == 0 {
							delete(h.subscribers, client.transcriptID)
						}
					}
				}
				h.logger.Info("Client disconnected from WebSocket")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal audit event message")
				continue
			}

			h.mutex.Lock()
			if subs, exists := h.subscribers[message.TranscriptID]; exists {
				for client := range subs {
					select {
					case client.send <- data:
					default:
						close(client.send)
						delete(h.clients, client)
						delete(subs, client)
					}
				}
			}

			for client := range h.clients {
				if client.transcriptID != "" {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastAudit pushes one completed audit run to connected clients.
func (h *AuditHub) BroadcastAudit(run *models.AuditRun, personaID string, findings []models.Finding) {
	var failed []string
	for _, f := range findings {
		if !f.Passed {
			failed = append(failed, f.RuleID)
		}
	}

	h.broadcast <- &AuditEventMessage{
		TranscriptID: run.TranscriptID,
		PersonaID:    personaID,
		Score:        run.Score,
		SeverityBand: string(run.SeverityBand),
		HasCritical:  run.HasCritical,
		FailedRules:  failed,
		Timestamp:    time.Now().UTC(),
	}
}

// ServeWs handles WebSocket requests from clients
func (h *AuditHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, 256),
		logger:       h.logger,
		transcriptID: r.URL.Query().Get("transcript_id"),
	}

	client.hub.register <- client
	go client.writePump()
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
