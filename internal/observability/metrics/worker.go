package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const namespace = "docextract"

// WorkerMetrics observes the extraction pipeline and the admission controller.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	sessionsTotal    *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionsInFlight prometheus.Gauge
	filesTotal       *prometheus.CounterVec
	chunksTotal      *prometheus.CounterVec
	chunkDuration    *prometheus.HistogramVec
	admissionsTotal  *prometheus.CounterVec
	admissionWait    *prometheus.HistogramVec
	utilization      prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sessions_total",
			Help:      "Total finished extraction sessions by final status.",
		},
		[]string{"service", "status"},
	)
	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "session_duration_seconds",
			Help:      "Extraction session duration in seconds by final status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"service", "status"},
	)
	sessionsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sessions_in_flight",
			Help:      "Number of sessions currently processing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "files_total",
			Help:      "Total processed files by status and chunking strategy.",
		},
		[]string{"service", "status", "strategy"},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunks_total",
			Help:      "Total dispatched chunks by strategy and outcome.",
		},
		[]string{"service", "strategy", "outcome"},
	)
	chunkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunk_duration_seconds",
			Help:      "Chunk admission plus completion duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "strategy"},
	)
	admissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	admissionWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for window capacity.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)
	utilization := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "utilization_percent",
			Help:      "Window utilization against the safety-adjusted budget.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		sessionsTotal,
		sessionDuration,
		sessionsInFlight,
		filesTotal,
		chunksTotal,
		chunkDuration,
		admissionsTotal,
		admissionWait,
		utilization,
	)

	return &WorkerMetrics{
		registry:         registry,
		service:          service,
		sessionsTotal:    sessionsTotal,
		sessionDuration:  sessionDuration,
		sessionsInFlight: sessionsInFlight,
		filesTotal:       filesTotal,
		chunksTotal:      chunksTotal,
		chunkDuration:    chunkDuration,
		admissionsTotal:  admissionsTotal,
		admissionWait:    admissionWait,
		utilization:      utilization,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) SessionStarted() {
	m.sessionsInFlight.Inc()
}

func (m *WorkerMetrics) SessionFinished(status domain.SessionStatus, duration time.Duration) {
	m.sessionsInFlight.Dec()
	m.sessionsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.sessionDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) FileFinished(status domain.FileStatus, strategy domain.ChunkStrategy) {
	m.filesTotal.WithLabelValues(m.service, string(status), strategyLabel(strategy)).Inc()
}

func (m *WorkerMetrics) ChunkFinished(strategy domain.ChunkStrategy, failure domain.ChunkFailureKind, duration time.Duration) {
	outcome := "success"
	if failure != "" {
		outcome = string(failure)
	}
	m.chunksTotal.WithLabelValues(m.service, strategyLabel(strategy), outcome).Inc()
	m.chunkDuration.WithLabelValues(m.service, strategyLabel(strategy)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AdmissionObserved(outcome string, waited time.Duration, utilizationPercent float64) {
	m.admissionsTotal.WithLabelValues(m.service, outcome).Inc()
	m.admissionWait.WithLabelValues(m.service, outcome).Observe(waited.Seconds())
	m.utilization.Set(utilizationPercent)
}

func strategyLabel(strategy domain.ChunkStrategy) string {
	if strategy == "" {
		return "none"
	}
	return string(strategy)
}
