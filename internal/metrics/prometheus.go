package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recognition service
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionDuration  prometheus.Histogram
	SessionRetries   prometheus.Counter

	// Protocol metrics
	ChunksSent     prometheus.Counter
	AudioBytesSent prometheus.Counter
	FramesReceived *prometheus.CounterVec
	ServerErrors   *prometheus.CounterVec

	// Publishing metrics
	TranscriptsPublished prometheus.Counter
	PublishFailures      prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates and registers all metrics with reg
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_started_total",
			Help: "Total number of recognition sessions started",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_sessions_finished_total",
			Help: "Total number of recognition sessions finished, by outcome",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_active_sessions",
			Help: "Current number of running recognition sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_session_duration_seconds",
			Help:    "Duration of recognition sessions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		SessionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_session_retries_total",
			Help: "Total number of session retries after connection failures",
		}),

		// Protocol metrics
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_sent_total",
			Help: "Total number of audio packets sent",
		}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_bytes_sent_total",
			Help: "Total number of audio bytes sent",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_frames_received_total",
			Help: "Total number of server frames received, by message type",
		}, []string{"message_type"}),
		ServerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_server_errors_total",
			Help: "Total number of errors reported by the recognition server, by code",
		}, []string{"code"}),

		// Publishing metrics
		TranscriptsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_transcripts_published_total",
			Help: "Total number of transcript events published",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_publish_failures_total",
			Help: "Total number of transcript events that failed to publish",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the started counter and the active gauge
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished records the outcome and duration of a session
func (m *Metrics) RecordSessionFinished(outcome string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordRetry increments the retry counter
func (m *Metrics) RecordRetry() {
	m.SessionRetries.Inc()
}

// RecordChunkSent records one audio packet
func (m *Metrics) RecordChunkSent(sizeBytes int) {
	m.ChunksSent.Inc()
	m.AudioBytesSent.Add(float64(sizeBytes))
}

// RecordFrameReceived records one server frame
func (m *Metrics) RecordFrameReceived(messageType string) {
	m.FramesReceived.WithLabelValues(messageType).Inc()
}

// RecordServerError records an error code reported by the server
func (m *Metrics) RecordServerError(code int64) {
	m.ServerErrors.WithLabelValues(strconv.FormatInt(code, 10)).Inc()
}

// RecordPublished records a transcript publish attempt
func (m *Metrics) RecordPublished(err error) {
	if err != nil {
		m.PublishFailures.Inc()
		return
	}
	m.TranscriptsPublished.Inc()
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
