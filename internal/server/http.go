package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/meeting-translate-service/internal/config"
	"github.com/skypro1111/meeting-translate-service/internal/metrics"
	"github.com/skypro1111/meeting-translate-service/internal/recording"
	"github.com/skypro1111/meeting-translate-service/internal/report"
	"github.com/skypro1111/meeting-translate-service/internal/session"
	"github.com/skypro1111/meeting-translate-service/internal/translation"
)

// translationStats exposes the language client counters for monitoring.
// *translation.Client satisfies it.
type translationStats interface {
	GetStats() translation.ClientStats
}

// HTTPServer provides the control and monitoring API for the service.
type HTTPServer struct {
	server   *http.Server
	config   *config.Config
	manager  *session.Manager
	store    *recording.Store
	reporter *report.Generator
	hub      *Hub
	stats    translationStats
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server.
func NewHTTPServer(cfg config.HTTPConfig, appConfig *config.Config, manager *session.Manager,
	store *recording.Store, reporter *report.Generator, hub *Hub,
	stats translationStats, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		config:    appConfig,
		manager:   manager,
		store:     store,
		reporter:  reporter,
		hub:       hub,
		stats:     stats,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session lifecycle endpoints
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	// Recording endpoints
	mux.HandleFunc("/recordings", h.withMetrics("/recordings", h.handleRecordings))
	mux.HandleFunc("/recordings/", h.withMetrics("/recordings/{id}", h.handleRecordingDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Live translation feed (websocket)
	mux.HandleFunc("/live", h.hub.ServeWS)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Wrap the response writer to capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	slog.Info("Starting HTTP API server", "address", h.server.Addr)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	slog.Info("Stopping HTTP API server...")
	h.hub.Close()
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := h.manager.Status()
	translationStats := h.stats.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "meeting-translate-service",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"session": map[string]any{
				"state":     status.State,
				"in_flight": status.InFlight,
			},
			"translation": map[string]any{
				"status":          "running",
				"total_requests":  translationStats.TotalRequests,
				"success_rate":    translationStats.SuccessRate,
				"active_requests": translationStats.ActiveRequests,
			},
			"live": map[string]any{
				"clients": h.hub.ClientCount(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessionStart implements POST /session/start
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	meetingID, err := h.manager.StartSession(context.Background())
	if err != nil {
		slog.Warn("Failed to start session", "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"meeting_id": meetingID,
		"state":      session.StateRecording,
	})
}

// handleSessionStop implements POST /session/stop
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := h.manager.StopSession(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recording_id": rec.ID,
		"meeting_id":   rec.MeetingID,
		"entries":      len(rec.Entries),
		"gaps":         rec.GapCount(),
		"duration":     rec.Duration().String(),
		"degraded":     rec.DegradedSources,
	})
}

// handleSession implements GET /session
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, h.manager.Status())
}

// handleRecordings implements GET /recordings
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ids, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(ids),
		"recordings": ids,
	})
}

// handleRecordingDetail implements GET /recordings/{id} and
// POST /recordings/{id}/report
func (h *HTTPServer) handleRecordingDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/recordings/")
	idStr, action, _ := strings.Cut(rest, "/")

	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recording ID")
		return
	}

	rec, err := h.store.Load(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, rec)

	case action == "report" && r.Method == http.MethodPost:
		h.generateReport(w, r, rec)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *HTTPServer) generateReport(w http.ResponseWriter, r *http.Request, rec *recording.MeetingRecording) {
	text, err := h.reporter.Generate(r.Context(), rec)
	if err != nil {
		slog.Error("Report generation failed", "recording_id", rec.ID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	path, err := h.store.SaveReport(rec.ID, text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recording_id": rec.ID,
		"path":         path,
		"report":       text,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// API credentials live in the environment, so the file-backed config
	// can be returned whole except for the capture command lines, which may
	// embed device identifiers.
	sanitized := map[string]any{
		"http": map[string]any{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
			"enabled": h.config.HTTP.Enabled,
		},
		"audio": map[string]any{
			"sample_rate":         h.config.Audio.SampleRate,
			"frame_ms":            h.config.Audio.FrameMs,
			"silence_threshold":   h.config.Audio.SilenceThreshold,
			"microphone_language": h.config.Audio.Microphone.Language,
			"system_language":     h.config.Audio.System.Language,
		},
		"segmenter": map[string]any{
			"silence_gap_ms": h.config.Segmenter.SilenceGapMs,
			"max_segment_ms": h.config.Segmenter.MaxSegmentMs,
			"min_segment_ms": h.config.Segmenter.MinSegmentMs,
		},
		"translation": map[string]any{
			"transcription_model":  h.config.Translation.TranscriptionModel,
			"chat_model":           h.config.Translation.ChatModel,
			"target_language":      h.config.Translation.TargetLanguage,
			"timeout":              h.config.Translation.Timeout,
			"max_retries":          h.config.Translation.MaxRetries,
			"max_concurrent_calls": h.config.Translation.MaxConcurrentCalls,
		},
		"session": map[string]any{
			"shutdown_drain_timeout_ms": h.config.Session.ShutdownDrainTimeoutMs,
			"source_reopen_attempts":    h.config.Session.SourceReopenAttempts,
			"reopen_backoff_ms":         h.config.Session.ReopenBackoffMs,
		},
		"recording": map[string]any{
			"output_dir": h.config.Recording.OutputDir,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := map[string]any{
		"uptime":       time.Since(h.startTime).String(),
		"timestamp":    time.Now().UTC(),
		"session":      h.manager.Status(),
		"translation":  h.stats.GetStats(),
		"live_clients": h.hub.ClientCount(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Meeting Translate Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                             "API documentation",
			"GET /health":                       "Service health check",
			"POST /session/start":               "Start a meeting session",
			"POST /session/stop":                "Stop the active session",
			"GET /session":                      "Current session status",
			"GET /recordings":                   "List stored recordings",
			"GET /recordings/{id}":              "Get one recording",
			"POST /recordings/{id}/report":      "Generate a meeting report",
			"GET /live":                         "Websocket live translation feed",
			"GET /config":                       "Get service configuration",
			"GET /stats":                        "Get service statistics",
			"GET /metrics":                      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
