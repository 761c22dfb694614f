package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/config"
	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
	"github.com/skypro1111/voice-dialogue-service/internal/metrics"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
	"github.com/skypro1111/voice-dialogue-service/internal/stt"
)

// HTTPServer provides the voice dialogue HTTP and WebSocket API
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	coordinator *pipeline.Coordinator
	ingress     *audio.Ingress
	synthesizer pipeline.Synthesizer
	store       conversation.Store
	sttStats    func() stt.Stats
	metrics     *metrics.Metrics
	sessions    *sessionRegistry

	startTime time.Time
}

// Deps bundles the components the server exposes over HTTP.
type Deps struct {
	Config      *config.Config
	Coordinator *pipeline.Coordinator
	Ingress     *audio.Ingress
	Synthesizer pipeline.Synthesizer
	Store       conversation.Store
	STTStats    func() stt.Stats
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewHTTPServer creates the API server
func NewHTTPServer(deps Deps) *HTTPServer {
	h := &HTTPServer{
		logger:      deps.Logger,
		config:      deps.Config,
		coordinator: deps.Coordinator,
		ingress:     deps.Ingress,
		synthesizer: deps.Synthesizer,
		store:       deps.Store,
		sttStats:    deps.STTStats,
		metrics:     deps.Metrics,
		sessions:    newSessionRegistry(),
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", deps.Config.HTTP.Address, deps.Config.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 60 * time.Second,
		// Write timeout must cover the full processing budget plus the
		// response itself.
		WriteTimeout: deps.Config.Pipeline.GetMaxProcessingTime() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Dialogue pipeline endpoint
	mux.HandleFunc("/api/orchestrator/dialogue", h.withMetrics("/api/orchestrator/dialogue", h.handleDialogue))

	// Direct synthesis endpoint
	mux.HandleFunc("/api/tts/synthesize", h.withMetrics("/api/tts/synthesize", h.handleSynthesize))

	// Pipeline status
	mux.HandleFunc("/api/orchestrator/status", h.withMetrics("/api/orchestrator/status", h.handleStatus))

	// Realtime WebSocket endpoint
	mux.HandleFunc("/ws/realtime", h.handleWebSocket)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

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

// Handler returns the underlying handler, for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// Start starts the HTTP server
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

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.sessions.closeAll()
	return h.server.Shutdown(ctx)
}
