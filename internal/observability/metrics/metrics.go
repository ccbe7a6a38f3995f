// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_pipeline"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal     prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Transcript metrics
	SegmentsAppended   prometheus.Counter
	PartialsDiscarded  prometheus.Counter
	TranscriptSegments prometheus.Histogram

	// Finalize metrics
	FinalizeTriggers *prometheus.CounterVec

	// Extraction metrics
	ExtractionStage   *prometheus.CounterVec
	ExtractionLatency prometheus.Histogram
	FieldsExtracted   *prometheus.CounterVec

	// Delivery metrics
	DeliveryAttempts *prometheus.CounterVec
	DeliveryOutcome  *prometheus.CounterVec
	DeliveryLatency  *prometheus.HistogramVec

	// Room signal metrics
	RoomSignalsSent   prometheus.Counter
	RoomSignalsFailed prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of call sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active call sessions",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of sessions that reached Completed",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions dropped as Failed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration from session start to finalize",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		SegmentsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_appended_total",
			Help:      "Total number of final transcript segments appended",
		}),
		PartialsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_discarded_total",
			Help:      "Total number of interim transcript segments discarded",
		}),
		TranscriptSegments: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_segments_per_session",
			Help:      "Number of final segments per sealed transcript",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		FinalizeTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_triggers_total",
			Help:      "Total number of honored finalize triggers",
		}, []string{"cause"}),

		ExtractionStage: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_stage_total",
			Help:      "Extraction stage outcomes",
		}, []string{"stage", "outcome"}),
		ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Time to produce an extraction result",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		FieldsExtracted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_extracted_total",
			Help:      "Extracted fields by source",
		}, []string{"field", "source"}),

		DeliveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by sink",
		}, []string{"sink"}),
		DeliveryOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_outcome_total",
			Help:      "Terminal delivery outcomes by sink",
		}, []string{"sink", "status"}),
		DeliveryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Latency of delivery attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"sink"}),

		RoomSignalsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_signals_sent_total",
			Help:      "Total END_CALL signals sent",
		}),
		RoomSignalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_signals_failed_total",
			Help:      "Total END_CALL signals that failed to send",
		}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(completed bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if completed {
		m.SessionsCompleted.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordSegmentAppended records a final segment appended to a transcript.
func (m *Metrics) RecordSegmentAppended() {
	m.SegmentsAppended.Inc()
}

// RecordPartialDiscarded records an interim segment being dropped.
func (m *Metrics) RecordPartialDiscarded() {
	m.PartialsDiscarded.Inc()
}

// RecordFinalize records an honored finalize trigger with its cause.
func (m *Metrics) RecordFinalize(cause string, segments int) {
	m.FinalizeTriggers.WithLabelValues(cause).Inc()
	m.TranscriptSegments.Observe(float64(segments))
}

// RecordExtractionStage records an extraction stage outcome.
func (m *Metrics) RecordExtractionStage(stage, outcome string) {
	m.ExtractionStage.WithLabelValues(stage, outcome).Inc()
}

// RecordExtraction records a completed extraction.
func (m *Metrics) RecordExtraction(latencySeconds float64) {
	m.ExtractionLatency.Observe(latencySeconds)
}

// RecordField records an extracted field and its source.
func (m *Metrics) RecordField(field, source string) {
	m.FieldsExtracted.WithLabelValues(field, source).Inc()
}

// RecordDeliveryAttempt records one delivery attempt to a sink.
func (m *Metrics) RecordDeliveryAttempt(sink string, latencySeconds float64) {
	m.DeliveryAttempts.WithLabelValues(sink).Inc()
	m.DeliveryLatency.WithLabelValues(sink).Observe(latencySeconds)
}

// RecordDeliveryOutcome records a terminal delivery status for a sink.
func (m *Metrics) RecordDeliveryOutcome(sink, status string) {
	m.DeliveryOutcome.WithLabelValues(sink, status).Inc()
}

// RecordRoomSignal records an END_CALL signal send result.
func (m *Metrics) RecordRoomSignal(err error) {
	if err != nil {
		m.RoomSignalsFailed.Inc()
		return
	}
	m.RoomSignalsSent.Inc()
}
