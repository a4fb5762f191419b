package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/frame-audio-service/internal/config"
	"github.com/skypro1111/frame-audio-service/internal/metrics"
	"github.com/skypro1111/frame-audio-service/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring and management.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	sessions  *session.Manager
	tcpServer *TCPServer
	metrics   *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessions *session.Manager, tcpServer *TCPServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  sessions,
		tcpServer: tcpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes.
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	tcpStats := h.tcpServer.GetStatistics()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "frame-audio-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"tcp_server": map[string]interface{}{
				"status":               "running",
				"connections_accepted": tcpStats.ConnectionsAccepted,
				"connections_rejected": tcpStats.ConnectionsRejected,
				"active_connections":   tcpStats.ActiveConnections,
				"chunks_processed":     tcpStats.ChunksProcessed,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": tcpStats.ActiveSessions,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessions.GetAllSessions()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{session_id} endpoint.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionIDStr := r.URL.Path[len("/sessions/"):]
	if sessionIDStr == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sessionID, err := strconv.ParseUint(sessionIDStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessions.GetSession(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Info())
}

// handleConfig implements the /config endpoint.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration. The NATS URL is intentionally omitted
	// because it may embed credentials.
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"tcp_port":         h.config.Server.TCPPort,
			"bind_address":     h.config.Server.BindAddress,
			"read_buffer_size": h.config.Server.ReadBufferSize,
			"max_connections":  h.config.Server.MaxConnections,
			"idle_timeout":     h.config.Server.IdleTimeout,
		},
		"reassembly": map[string]interface{}{
			"max_pending_frames": h.config.Reassembly.MaxPendingFrames,
			"frame_timeout":      h.config.Reassembly.FrameTimeout,
		},
		"output": map[string]interface{}{
			"mode": h.config.Output.Mode,
			"nats": map[string]interface{}{
				"subject_prefix": h.config.Output.NATS.SubjectPrefix,
			},
			"wav": map[string]interface{}{
				"directory":   h.config.Output.WAV.Directory,
				"sample_rate": h.config.Output.WAV.SampleRate,
			},
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint.
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tcpStats := h.tcpServer.GetStatistics()
	uptime := time.Since(h.startTime)

	// Aggregate pipeline totals across live sessions. Completed sessions are
	// reflected only in the Prometheus counters.
	var messages, decodeErrors, segments, frames, discarded uint64
	for _, s := range h.sessions.GetAllSessions() {
		info := s.Info()
		messages += info.Deframe.Messages
		decodeErrors += info.Deframe.DecodeErrors
		segments += info.Reassembly.SegmentsAccepted
		frames += info.Reassembly.FramesCompleted
		discarded += info.Reassembly.IncompleteFramesDiscarded
	}

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"tcp": map[string]interface{}{
			"connections_accepted": tcpStats.ConnectionsAccepted,
			"connections_rejected": tcpStats.ConnectionsRejected,
			"active_connections":   tcpStats.ActiveConnections,
			"chunks_processed":     tcpStats.ChunksProcessed,
		},
		"pipeline": map[string]interface{}{
			"messages_decoded":            messages,
			"decode_errors":               decodeErrors,
			"segments_accepted":           segments,
			"frames_completed":            frames,
			"incomplete_frames_discarded": discarded,
		},
		"sessions": map[string]interface{}{
			"active_count": h.sessions.GetActiveSessionCount(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation.
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Frame Audio Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /sessions":               "List all active sessions",
			"GET /sessions/{session_id}":  "Get detailed session information",
			"GET /config":                 "Get service configuration",
			"GET /stats":                  "Get service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
