package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the watch controller.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsAccepted prometheus.Counter
	ActiveConnections   prometheus.Gauge
	ConnectionDuration  prometheus.Histogram

	// Frame metrics
	FramesDecoded *prometheus.CounterVec
	FramingErrors *prometheus.CounterVec
	ChunksDropped *prometheus.CounterVec

	// Dispatch metrics
	ActionsDispatched *prometheus.CounterVec
	CommandMisses     prometheus.Counter
	KeyPressFailures  *prometheus.CounterVec

	// Recording metrics
	RecordingsCompleted *prometheus.CounterVec
	RecordingSize       prometheus.Histogram

	// Pipeline metrics
	JobsSubmitted prometheus.Counter
	JobsDropped   *prometheus.CounterVec
	JobPanics     prometheus.Counter
	QueueSize     prometheus.Gauge

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(registry)
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Connection metrics
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_connections_accepted_total",
			Help: "Total number of accepted watch connections",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watch_active_connections",
			Help: "Current number of open watch connections",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "watch_connection_duration_seconds",
			Help:    "Lifetime of watch connections in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		// Frame metrics
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_frames_decoded_total",
			Help: "Total number of decoded frames by kind",
		}, []string{"kind"}),
		FramingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_framing_errors_total",
			Help: "Total number of frames dropped by the decoder",
		}, []string{"reason"}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped",
		}, []string{"reason"}),

		// Dispatch metrics
		ActionsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_actions_dispatched_total",
			Help: "Total number of key-press actions injected",
		}, []string{"action", "source"}),
		CommandMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_command_misses_total",
			Help: "Total number of command frames with no mapped action",
		}),
		KeyPressFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_key_press_failures_total",
			Help: "Total number of failed key injections",
		}, []string{"action"}),

		// Recording metrics
		RecordingsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_recordings_completed_total",
			Help: "Total number of recordings closed by AUDIO_END by outcome",
		}, []string{"outcome"}),
		RecordingSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "watch_recording_size_bytes",
			Help:    "Size of completed recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Pipeline metrics
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_transcription_jobs_submitted_total",
			Help: "Total number of transcription jobs accepted by the queue",
		}),
		JobsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_transcription_jobs_dropped_total",
			Help: "Total number of transcription jobs rejected by the queue",
		}, []string{"reason"}),
		JobPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_transcription_job_panics_total",
			Help: "Total number of recovered panics in transcription workers",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watch_transcription_queue_size",
			Help: "Current number of jobs waiting in the transcription queue",
		}),

		// Transcription metrics
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "watch_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "watch_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnectionAccepted increments the accepted connections counter
func (m *Metrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
}

// SetActiveConnections sets the current number of open connections
func (m *Metrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(count))
}

// RecordConnectionClosed records the lifetime of a closed connection
func (m *Metrics) RecordConnectionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordFrame increments the decoded frames counter for a frame kind
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(kind).Inc()
}

// RecordFramingError increments the framing errors counter
func (m *Metrics) RecordFramingError(reason string) {
	if m == nil {
		return
	}
	m.FramingErrors.WithLabelValues(reason).Inc()
}

// RecordChunkDropped increments the dropped chunks counter
func (m *Metrics) RecordChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// RecordAction increments the dispatched actions counter
func (m *Metrics) RecordAction(action, source string) {
	if m == nil {
		return
	}
	m.ActionsDispatched.WithLabelValues(action, source).Inc()
}

// RecordCommandMiss increments the unmatched commands counter
func (m *Metrics) RecordCommandMiss() {
	if m == nil {
		return
	}
	m.CommandMisses.Inc()
}

// RecordKeyPressFailure increments the key injection failures counter
func (m *Metrics) RecordKeyPressFailure(action string) {
	if m == nil {
		return
	}
	m.KeyPressFailures.WithLabelValues(action).Inc()
}

// RecordRecording records a completed recording and its outcome
func (m *Metrics) RecordRecording(outcome string, sizeBytes int) {
	if m == nil {
		return
	}
	m.RecordingsCompleted.WithLabelValues(outcome).Inc()
	if sizeBytes > 0 {
		m.RecordingSize.Observe(float64(sizeBytes))
	}
}

// RecordJobSubmitted increments the submitted jobs counter
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobDropped increments the dropped jobs counter
func (m *Metrics) RecordJobDropped(reason string) {
	if m == nil {
		return
	}
	m.JobsDropped.WithLabelValues(reason).Inc()
}

// RecordJobPanic increments the recovered worker panics counter
func (m *Metrics) RecordJobPanic() {
	if m == nil {
		return
	}
	m.JobPanics.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
