package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice dialogue service
type Metrics struct {
	// Dialogue request metrics
	RequestsReceived  prometheus.Counter
	RequestsCompleted prometheus.Counter
	RequestsFailed    *prometheus.CounterVec
	RequestsRejected  prometheus.Counter
	RequestsInFlight  prometheus.Gauge
	RequestDuration   prometheus.Histogram

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Audio metrics
	InputAudioDuration  prometheus.Histogram
	OutputAudioDuration prometheus.Histogram
	InputAudioSize      prometheus.Histogram

	// Conversation metrics
	ActiveConversations prometheus.Gauge

	// WebSocket metrics
	ActiveSessions     prometheus.Gauge
	SessionsOpened     prometheus.Counter
	SessionsClosed     prometheus.Counter
	SessionMessages    *prometheus.CounterVec
	SessionParseErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default
// Prometheus registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics against the given registerer. Tests
// use this with a private registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Dialogue request metrics
		RequestsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_requests_received_total",
			Help: "Total number of dialogue requests received",
		}),
		RequestsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_requests_completed_total",
			Help: "Total number of dialogue requests completed successfully",
		}),
		RequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_requests_failed_total",
			Help: "Total number of failed dialogue requests",
		}, []string{"code"}),
		RequestsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_requests_rejected_total",
			Help: "Total number of requests rejected at capacity",
		}),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_requests_in_flight",
			Help: "Current number of dialogue requests being processed",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_request_duration_seconds",
			Help:    "End-to-end duration of dialogue requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Stage metrics
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialogue_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~1 minute
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		}, []string{"stage", "code"}),

		// Audio metrics
		InputAudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_input_audio_duration_seconds",
			Help:    "Duration of uploaded utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~1 minute
		}),
		OutputAudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_output_audio_duration_seconds",
			Help:    "Duration of synthesized replies",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		InputAudioSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialogue_input_audio_size_bytes",
			Help:    "Size of uploaded audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Conversation metrics
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_active_conversations",
			Help: "Current number of cached conversations",
		}),

		// WebSocket metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialogue_ws_active_sessions",
			Help: "Current number of open WebSocket sessions",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_ws_sessions_opened_total",
			Help: "Total number of WebSocket sessions opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_ws_sessions_closed_total",
			Help: "Total number of WebSocket sessions closed",
		}),
		SessionMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_ws_messages_total",
			Help: "Total number of WebSocket client messages by type",
		}, []string{"type"}),
		SessionParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_ws_parse_errors_total",
			Help: "Total number of unparseable WebSocket frames",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialogue_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRequestReceived increments the requests received counter
func (m *Metrics) RecordRequestReceived() {
	m.RequestsReceived.Inc()
}

// RecordRequestCompleted records a completed request with its timings
func (m *Metrics) RecordRequestCompleted(totalSeconds, sttSeconds, llmSeconds, ttsSeconds float64) {
	m.RequestsCompleted.Inc()
	m.RequestDuration.Observe(totalSeconds)
	m.StageDuration.WithLabelValues("recognition").Observe(sttSeconds)
	m.StageDuration.WithLabelValues("response").Observe(llmSeconds)
	m.StageDuration.WithLabelValues("synthesis").Observe(ttsSeconds)
}

// RecordRequestFailed records a failed request by error code
func (m *Metrics) RecordRequestFailed(code string) {
	m.RequestsFailed.WithLabelValues(code).Inc()
}

// RecordRequestRejected increments the capacity rejection counter
func (m *Metrics) RecordRequestRejected() {
	m.RequestsRejected.Inc()
}

// SetRequestsInFlight sets the in-flight gauge
func (m *Metrics) SetRequestsInFlight(count int) {
	m.RequestsInFlight.Set(float64(count))
}

// RecordStageFailure records a stage failure by error code
func (m *Metrics) RecordStageFailure(stage, code string) {
	m.StageFailures.WithLabelValues(stage, code).Inc()
}

// RecordInputAudio records properties of an accepted utterance
func (m *Metrics) RecordInputAudio(durationSeconds float64, sizeBytes int) {
	m.InputAudioDuration.Observe(durationSeconds)
	m.InputAudioSize.Observe(float64(sizeBytes))
}

// RecordOutputAudio records the duration of a synthesized reply
func (m *Metrics) RecordOutputAudio(durationSeconds float64) {
	m.OutputAudioDuration.Observe(durationSeconds)
}

// SetActiveConversations sets the cached conversation gauge
func (m *Metrics) SetActiveConversations(count int) {
	m.ActiveConversations.Set(float64(count))
}

// RecordSessionOpened records a new WebSocket session
func (m *Metrics) RecordSessionOpened() {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed records a closed WebSocket session
func (m *Metrics) RecordSessionClosed() {
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
}

// RecordSessionMessage records a client message by type
func (m *Metrics) RecordSessionMessage(msgType string) {
	m.SessionMessages.WithLabelValues(msgType).Inc()
}

// RecordSessionParseError increments the frame parse error counter
func (m *Metrics) RecordSessionParseError() {
	m.SessionParseErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
