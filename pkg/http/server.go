package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"callaudit-server/pkg/config"
	"callaudit-server/pkg/database"
	"callaudit-server/pkg/metrics"
	"callaudit-server/pkg/version"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes the audit results API, health checks and metrics.
type Server struct {
	config         config.HTTPConfig
	logger         *logrus.Logger
	httpServer     *http.Server
	mux            *http.ServeMux
	store          *database.Store
	wsHub          *AuditHub
	scoreThreshold float64
	startTime      time.Time
}

// NewServer creates a new HTTP server instance. scoreThreshold is the
// score at or above which an unsuppressed run is listed as actionable.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, scoreThreshold float64, store *database.Store, hub *AuditHub) *Server {
	server := &Server{
		config:         cfg,
		logger:         logger,
		store:          store,
		wsHub:          hub,
		scoreThreshold: scoreThreshold,
		startTime:      time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.healthHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	mux.HandleFunc("/api/audits", addServerHeader(server.auditsHandler))
	mux.HandleFunc("/api/transcripts/", addServerHeader(server.transcriptHandler))
	mux.HandleFunc("/api/overrides", addServerHeader(server.overridesHandler))

	if hub != nil {
		mux.HandleFunc("/ws/audits", hub.ServeWs)
		logger.Info("Audit WebSocket endpoint registered at /ws/audits")
	}

	if cfg.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			promHandler := promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			)
			mux.HandleFunc(cfg.MetricsPath, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Server", version.ServerHeader())
				promHandler.ServeHTTP(w, r)
			})
			logger.WithField("path", cfg.MetricsPath).Info("Prometheus metrics endpoint enabled")
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// RegisterHandler adds a custom handler to the server
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.mux.HandleFunc(path, handler)
	s.logger.WithField("path", path).Info("Registered custom HTTP handler")
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		s.logger.Infof("HTTP server listening on port %d", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	go func() {
		time.Sleep(500 * time.Millisecond)
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port), 2*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Could not connect to HTTP server")
		} else {
			s.logger.Info("HTTP server is running correctly")
			conn.Close()
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness plus a database ping.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if s.store != nil {
		if err := s.store.DB().Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"uptime":  time.Since(s.startTime).String(),
		"version": version.Version,
	})
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.WithField("endpoint", "/status").Debug("Status endpoint accessed")

	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"version":    version.Version,
		"started_at": s.startTime.Format(time.RFC3339),
	}

	if s.store != nil {
		if ids, err := s.store.ListTranscriptIDs(); err == nil {
			status["transcripts"] = len(ids)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("Failed to encode HTTP response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
