package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting translate service
type Metrics struct {
	// Capture metrics
	FramesCaptured  *prometheus.CounterVec
	SourceReopens   *prometheus.CounterVec
	SourcesDegraded *prometheus.CounterVec

	// Segmentation metrics
	SegmentsEmitted *prometheus.CounterVec
	SegmentDuration prometheus.Histogram

	// Translation metrics
	TranslationRequests  prometheus.Counter
	TranslationSuccesses prometheus.Counter
	TranslationFailures  prometheus.Counter
	TranslationRetries   prometheus.Counter
	TranslationDuration  prometheus.Histogram
	InFlightCalls        prometheus.Gauge

	// Pipeline metrics
	EntriesPublished  prometheus.Counter
	GapMarkers        *prometheus.CounterVec
	ReorderBufferSize prometheus.Gauge
	SessionStates     *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		FramesCaptured: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_frames_captured_total",
			Help: "Total number of audio frames captured per source",
		}, []string{"source"}),
		SourceReopens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_source_reopens_total",
			Help: "Total number of audio source reopen attempts per source",
		}, []string{"source"}),
		SourcesDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_sources_degraded_total",
			Help: "Total number of sources that failed permanently",
		}, []string{"source"}),

		// Segmentation metrics
		SegmentsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_segments_emitted_total",
			Help: "Total number of speech segments emitted per source",
		}, []string{"source"}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_segment_duration_seconds",
			Help:    "Duration of emitted speech segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),

		// Translation metrics
		TranslationRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_translation_requests_total",
			Help: "Total number of translation requests sent",
		}),
		TranslationSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_translation_successes_total",
			Help: "Total number of successful translation requests",
		}),
		TranslationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_translation_failures_total",
			Help: "Total number of permanently failed translation requests",
		}),
		TranslationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_translation_retries_total",
			Help: "Total number of translation request retries",
		}),
		TranslationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_translation_duration_seconds",
			Help:    "Duration of translation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		InFlightCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meeting_translation_in_flight_calls",
			Help: "Current number of outstanding translation calls",
		}),

		// Pipeline metrics
		EntriesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_entries_published_total",
			Help: "Total number of entries published to sinks",
		}),
		GapMarkers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_gap_markers_total",
			Help: "Total number of gap markers published, by reason",
		}, []string{"reason"}),
		ReorderBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meeting_reorder_buffer_size",
			Help: "Current number of completed calls waiting for in-order publish",
		}),
		SessionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_session_state_changes_total",
			Help: "Total number of session state transitions, by new state",
		}, []string{"state"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameCaptured increments the captured frames counter for a source.
// All recorder methods tolerate a nil receiver so pipeline components can run
// without a registry in tests.
func (m *Metrics) RecordFrameCaptured(source string) {
	if m == nil {
		return
	}
	m.FramesCaptured.WithLabelValues(source).Inc()
}

// RecordSourceReopen increments the reopen counter for a source
func (m *Metrics) RecordSourceReopen(source string) {
	if m == nil {
		return
	}
	m.SourceReopens.WithLabelValues(source).Inc()
}

// RecordSourceDegraded increments the degraded sources counter
func (m *Metrics) RecordSourceDegraded(source string) {
	if m == nil {
		return
	}
	m.SourcesDegraded.WithLabelValues(source).Inc()
}

// RecordSegmentEmitted records an emitted speech segment
func (m *Metrics) RecordSegmentEmitted(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsEmitted.WithLabelValues(source).Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordTranslationRequest increments the translation requests counter and
// the in-flight gauge
func (m *Metrics) RecordTranslationRequest() {
	if m == nil {
		return
	}
	m.TranslationRequests.Inc()
	m.InFlightCalls.Inc()
}

// RecordTranslationSuccess records a completed translation
func (m *Metrics) RecordTranslationSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranslationSuccesses.Inc()
	m.TranslationDuration.Observe(durationSeconds)
	m.InFlightCalls.Dec()
}

// RecordTranslationFailure records a permanently failed translation
func (m *Metrics) RecordTranslationFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranslationFailures.Inc()
	m.TranslationDuration.Observe(durationSeconds)
	m.InFlightCalls.Dec()
}

// RecordTranslationRetry increments the retry counter
func (m *Metrics) RecordTranslationRetry() {
	if m == nil {
		return
	}
	m.TranslationRetries.Inc()
}

// RecordEntryPublished records an entry published to the sinks
func (m *Metrics) RecordEntryPublished() {
	if m == nil {
		return
	}
	m.EntriesPublished.Inc()
}

// RecordGapMarker records a published gap marker
func (m *Metrics) RecordGapMarker(reason string) {
	if m == nil {
		return
	}
	m.GapMarkers.WithLabelValues(reason).Inc()
}

// SetReorderBufferSize sets the current reorder buffer size
func (m *Metrics) SetReorderBufferSize(size int) {
	if m == nil {
		return
	}
	m.ReorderBufferSize.Set(float64(size))
}

// RecordStateChange records a session state transition
func (m *Metrics) RecordStateChange(state string) {
	if m == nil {
		return
	}
	m.SessionStates.WithLabelValues(state).Inc()
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
