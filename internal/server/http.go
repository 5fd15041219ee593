package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/saltchicken/watch-controller/internal/config"
	"github.com/saltchicken/watch-controller/internal/metrics"
	"github.com/saltchicken/watch-controller/internal/pipeline"
	"github.com/saltchicken/watch-controller/internal/stream"
	"github.com/saltchicken/watch-controller/internal/transcription"
)

// PipelineStats exposes transcription queue counters
type PipelineStats interface {
	GetStats() pipeline.Stats
}

// transcriberStats is implemented by backends that keep request counters
type transcriberStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	manager     *stream.Manager
	tcpServer   *TCPServer
	pipeline    PipelineStats
	transcriber transcription.Transcriber
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	manager *stream.Manager, tcpServer *TCPServer, pipelineStats PipelineStats,
	transcriber transcription.Transcriber, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		manager:     manager,
		tcpServer:   tcpServer,
		pipeline:    pipelineStats,
		transcriber: transcriber,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/connections", h.withMetrics("/connections", h.handleConnections))
	mux.HandleFunc("/connections/", h.withMetrics("/connections/{id}", h.handleConnectionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Scrapes are not counted as API requests
	mux.Handle("/metrics", h.metrics.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode HTTP response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tcpStats := h.tcpServer.GetStatistics()
	pipelineStats := h.pipeline.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "watch-controller",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"tcp_server": map[string]any{
				"status":             "running",
				"address":            tcpStats.Address,
				"active_connections": tcpStats.ActiveConnections,
				"frames_decoded":     tcpStats.FramesDecoded,
				"framing_errors":     tcpStats.FramingErrors,
			},
			"pipeline": map[string]any{
				"status":         "running",
				"workers":        pipelineStats.Workers,
				"queue_size":     pipelineStats.QueueSize,
				"queue_capacity": pipelineStats.QueueCapacity,
				"in_flight":      pipelineStats.InFlight,
			},
			"transcription": map[string]any{
				"backend": h.config.Transcription.Backend,
			},
		},
	}

	h.writeJSON(w, health)
}

// handleConnections implements the /connections endpoint
func (h *HTTPServer) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.GetAllSessions()

	h.writeJSON(w, map[string]any{
		"total_connections": len(sessions),
		"timestamp":         time.Now().UTC(),
		"connections":       sessions,
	})
}

// handleConnectionDetail implements the /connections/{id} endpoint
func (h *HTTPServer) handleConnectionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/connections/"):]
	if id == "" {
		http.Error(w, "Connection ID required", http.StatusBadRequest)
		return
	}

	session, exists := h.manager.GetSession(id)
	if !exists {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, session.GetSessionInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, h.config.Redacted())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"tcp":       h.tcpServer.GetStatistics(),
		"pipeline":  h.pipeline.GetStats(),
	}
	if ts, ok := h.transcriber.(transcriberStats); ok {
		stats["transcription"] = ts.GetStats()
	}

	h.writeJSON(w, stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ts, ok := h.transcriber.(transcriberStats)
	if !ok {
		http.Error(w, "Transcription backend does not report statistics", http.StatusNotFound)
		return
	}

	h.writeJSON(w, ts.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, map[string]any{
		"service": "Watch Controller",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /connections":         "List live watch connections",
			"GET /connections/{id}":    "Get detailed connection information",
			"GET /config":              "Get service configuration (secrets redacted)",
			"GET /stats":               "Get service statistics",
			"GET /stats/transcription": "Get transcription backend statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
