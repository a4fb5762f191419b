package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the frame audio service.
type Metrics struct {
	// Transport metrics
	BytesReceived   prometheus.Counter
	ChunksReceived  prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Deframing metrics
	MessagesDecoded prometheus.Counter
	DecodeErrors    *prometheus.CounterVec

	// Reassembly metrics
	SegmentsReceived          prometheus.Counter
	InvalidSegments           prometheus.Counter
	FramesReassembled         prometheus.Counter
	FrameSize                 prometheus.Histogram
	IncompleteFramesDiscarded prometheus.Counter

	// Frame delivery metrics
	SinkErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_bytes_received_total",
			Help: "Total bytes received from transport connections",
		}),
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_chunks_received_total",
			Help: "Total transport chunks fed into deframers",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "frame_active_sessions",
			Help: "Current number of active connection sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_sessions_created_total",
			Help: "Total sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_sessions_closed_total",
			Help: "Total sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "frame_session_duration_seconds",
			Help:    "Duration of connection sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		MessagesDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_messages_decoded_total",
			Help: "Total wire messages successfully decoded",
		}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_decode_errors_total",
			Help: "Total message decode failures by kind",
		}, []string{"kind"}),

		SegmentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_segments_received_total",
			Help: "Total frame segments carried by Data messages",
		}),
		InvalidSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_invalid_segments_total",
			Help: "Total segments rejected before reassembly",
		}),
		FramesReassembled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_frames_reassembled_total",
			Help: "Total audio frames fully reassembled",
		}),
		FrameSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "frame_reassembled_frame_bytes",
			Help:    "Size of reassembled frame payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 12), // 64B to ~128KB
		}),
		IncompleteFramesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_incomplete_frames_discarded_total",
			Help: "Total incomplete frames evicted by count or age limits",
		}),

		SinkErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frame_sink_errors_total",
			Help: "Total frame deliveries the configured sink rejected",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frame_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordChunk records one received transport chunk.
func (m *Metrics) RecordChunk(size int) {
	m.ChunksReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordSessionCreated updates session counters on connect.
func (m *Metrics) RecordSessionCreated(active int) {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Set(float64(active))
}

// RecordSessionClosed updates session counters on disconnect.
func (m *Metrics) RecordSessionClosed(active int, durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.ActiveSessions.Set(float64(active))
	m.SessionDuration.Observe(durationSeconds)
}

// RecordDecodeError counts one decode failure of the given kind.
func (m *Metrics) RecordDecodeError(kind string) {
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
