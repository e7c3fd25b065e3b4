// Package metrics exposes the Prometheus instruments for chunk processing,
// model inference and session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Components observed by InferenceDuration and InferenceCalls.
const (
	ComponentDiarizer    = "diarizer"
	ComponentTranscriber = "transcriber"
)

var (
	// ChunksTotal counts processed chunks by outcome (ok, validation, model,
	// persistence, conflict, not_found).
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diarist_chunks_total",
			Help: "Total number of audio chunks processed by outcome",
		},
		[]string{"outcome"},
	)

	// ChunkDuration observes end-to-end ProcessChunk latency.
	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diarist_chunk_processing_duration_seconds",
			Help:    "End-to-end chunk processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// InferenceCalls counts model calls by component and status.
	InferenceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diarist_inference_calls_total",
			Help: "Total number of model inference calls by component and status",
		},
		[]string{"component", "status"},
	)

	// InferenceDuration observes model call latency by component.
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diarist_inference_duration_seconds",
			Help:    "Model inference duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"component"},
	)

	// InferenceInFlight is the number of model calls holding a limiter slot.
	InferenceInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diarist_inference_in_flight",
			Help: "Model inference calls currently running",
		},
	)

	// SpeakerMappings counts chunk speaker labels resolved onto earlier
	// labels across a chunk boundary.
	SpeakerMappings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diarist_speaker_mappings_total",
			Help: "Chunk-local speaker labels mapped onto established labels",
		},
	)

	// SessionsFinalized counts sessions marked complete.
	SessionsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diarist_sessions_finalized_total",
			Help: "Total number of sessions finalized",
		},
	)

	// SessionsSwept counts incomplete sessions removed by the sweeper.
	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diarist_sessions_swept_total",
			Help: "Total number of stale incomplete sessions deleted",
		},
	)
)

// RecordChunk records one ProcessChunk outcome and its latency.
func RecordChunk(outcome string, seconds float64) {
	ChunksTotal.WithLabelValues(outcome).Inc()
	ChunkDuration.Observe(seconds)
}

// RecordInference records one model call.
func RecordInference(component string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	InferenceCalls.WithLabelValues(component, status).Inc()
	InferenceDuration.WithLabelValues(component).Observe(seconds)
}
