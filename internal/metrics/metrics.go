// Package metrics provides metrics collection and reporting for the
// monitoring agent.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelStatus   = "status"
	labelKind     = "kind"
	labelSeverity = "severity"
	labelSink     = "sink"
	labelOutcome  = "outcome"
)

// Metrics tracks operational metrics with both internal atomic counters and
// Prometheus metrics. The internal counters back /api/stats; Prometheus
// backs /metrics.
type Metrics struct {
	// Store request metrics (internal atomic counters for fast access)
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	// Monitoring loop counters
	cyclesCompleted atomic.Uint64
	cyclesFailed    atomic.Uint64

	// Error tracking by status code
	errorsMu       sync.RWMutex
	errorsByStatus map[int]uint64

	// Detection tracking
	detectMu            sync.RWMutex
	anomaliesByKind     map[string]uint64
	incidentsBySeverity map[string]uint64

	logger *zap.Logger

	// Prometheus metrics
	promStoreRequestsTotal  prometheus.Counter
	promStoreRequestsFailed prometheus.Counter
	promStoreLatency        prometheus.Histogram
	promErrorsByStatus      *prometheus.CounterVec
	promCyclesTotal         *prometheus.CounterVec
	promCycleLatency        prometheus.Histogram
	promLogsProcessed       prometheus.Counter
	promAnomalies           *prometheus.CounterVec
	promIncidents           *prometheus.CounterVec
	promAlerts              *prometheus.CounterVec
	promRCAAnalyses         *prometheus.CounterVec
}

// New creates a new metrics tracker with Prometheus integration
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		errorsByStatus:      make(map[int]uint64),
		anomaliesByKind:     make(map[string]uint64),
		incidentsBySeverity: make(map[string]uint64),
		logger:              logger,

		// Initialize Prometheus metrics using promauto (auto-registers with default registry)
		promStoreRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "store_requests_total",
			Help:      "Total number of requests made to the log store",
		}),
		promStoreRequestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "store_requests_failed_total",
			Help:      "Total number of failed log store requests",
		}),
		promStoreLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "observeai",
			Name:      "store_request_latency_seconds",
			Help:      "Log store request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}),
		promErrorsByStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "store_errors_by_status_total",
			Help:      "Log store errors by HTTP status code",
		}, []string{labelStatus}),
		promCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "monitor_cycles_total",
			Help:      "Monitoring cycles run, labeled by outcome (ok, failed, skipped)",
		}, []string{labelOutcome}),
		promCycleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "observeai",
			Name:      "monitor_cycle_latency_seconds",
			Help:      "Monitoring cycle duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		promLogsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "logs_processed_total",
			Help:      "Total number of log records fetched and analyzed",
		}),
		promAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "anomalies_detected_total",
			Help:      "Anomalies detected, labeled by detector kind (e.g. error_spike, error_cascade)",
		}, []string{labelKind}),
		promIncidents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "incidents_created_total",
			Help:      "Incidents synthesized, labeled by severity",
		}, []string{labelSeverity}),
		promAlerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "alerts_total",
			Help:      "Alert deliveries, labeled by sink (chat, webhook) and outcome",
		}, []string{labelSink, labelOutcome}),
		promRCAAnalyses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "rca_analyses_total",
			Help:      "Root cause analyses attempted, labeled by outcome",
		}, []string{labelOutcome}),
	}

	// Initialize min latency to max value
	m.minLatency.Store(int64(time.Hour))

	return m
}

// RecordStoreRequest records a log store request (both internal counters and
// Prometheus). Implements the logstore.Recorder interface.
func (m *Metrics) RecordStoreRequest(success bool, latency time.Duration, statusCode int) {
	m.totalRequests.Add(1)

	m.promStoreRequestsTotal.Inc()
	m.promStoreLatency.Observe(latency.Seconds())

	if success {
		m.successfulRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
		m.promStoreRequestsFailed.Inc()
		m.recordErrorStatus(statusCode)
	}

	m.recordLatency(latency)
}

// RecordCycle records the outcome and duration of one monitoring cycle.
func (m *Metrics) RecordCycle(outcome string, duration time.Duration) {
	if outcome == "ok" {
		m.cyclesCompleted.Add(1)
	} else {
		m.cyclesFailed.Add(1)
	}
	m.promCyclesTotal.WithLabelValues(outcome).Inc()
	m.promCycleLatency.Observe(duration.Seconds())
}

// RecordLogsProcessed records the batch size of one cycle.
func (m *Metrics) RecordLogsProcessed(count int) {
	m.promLogsProcessed.Add(float64(count))
}

// RecordAnomaly records one detected anomaly by detector kind.
func (m *Metrics) RecordAnomaly(kind string) {
	m.detectMu.Lock()
	m.anomaliesByKind[kind]++
	m.detectMu.Unlock()

	m.promAnomalies.WithLabelValues(kind).Inc()
}

// RecordIncident records one synthesized incident by severity.
func (m *Metrics) RecordIncident(severity string) {
	m.detectMu.Lock()
	m.incidentsBySeverity[severity]++
	m.detectMu.Unlock()

	m.promIncidents.WithLabelValues(severity).Inc()
}

// RecordAlert records one alert delivery attempt.
func (m *Metrics) RecordAlert(sink string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	m.promAlerts.WithLabelValues(sink, outcome).Inc()
}

// RecordRCA records one root cause analysis attempt.
func (m *Metrics) RecordRCA(success bool) {
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	m.promRCAAnalyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	// Update max latency
	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	// Update min latency
	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

func (m *Metrics) recordErrorStatus(statusCode int) {
	if statusCode == 0 {
		return
	}

	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()

	m.promErrorsByStatus.WithLabelValues(fmt.Sprintf("%d", statusCode)).Inc()
}

// GetStats returns current statistics
func (m *Metrics) GetStats() Stats {
	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	m.detectMu.RLock()
	anomaliesByKind := make(map[string]uint64, len(m.anomaliesByKind))
	incidentsBySeverity := make(map[string]uint64, len(m.incidentsBySeverity))
	for k, v := range m.anomaliesByKind {
		anomaliesByKind[k] = v
	}
	for k, v := range m.incidentsBySeverity {
		incidentsBySeverity[k] = v
	}
	m.detectMu.RUnlock()

	latencyCount := m.latencyCount.Load()

	var avgLatency time.Duration
	if latencyCount > 0 {
		// Use float64 division to avoid integer overflow issues
		avgLatencyMicros := float64(m.totalLatency.Load()) / float64(latencyCount)
		avgLatency = time.Duration(avgLatencyMicros) * time.Microsecond
	}

	return Stats{
		TotalRequests:       m.totalRequests.Load(),
		SuccessfulRequests:  m.successfulRequests.Load(),
		FailedRequests:      m.failedRequests.Load(),
		CyclesCompleted:     m.cyclesCompleted.Load(),
		CyclesFailed:        m.cyclesFailed.Load(),
		AverageLatency:      avgLatency,
		MaxLatency:          time.Duration(m.maxLatency.Load()) * time.Microsecond,
		MinLatency:          time.Duration(m.minLatency.Load()) * time.Microsecond,
		ErrorsByStatus:      errorsByStatus,
		AnomaliesByKind:     anomaliesByKind,
		IncidentsBySeverity: incidentsBySeverity,
	}
}

// LogStats logs current statistics
func (m *Metrics) LogStats() {
	stats := m.GetStats()

	var errorRate float64
	if stats.TotalRequests > 0 {
		errorRate = float64(stats.FailedRequests) / float64(stats.TotalRequests) * 100
	}

	m.logger.Info("Operational metrics",
		zap.Uint64("store_requests", stats.TotalRequests),
		zap.Uint64("store_failures", stats.FailedRequests),
		zap.Float64("store_error_rate_pct", errorRate),
		zap.Uint64("cycles_completed", stats.CyclesCompleted),
		zap.Uint64("cycles_failed", stats.CyclesFailed),
		zap.Duration("avg_latency", stats.AverageLatency),
		zap.Duration("max_latency", stats.MaxLatency),
		zap.Duration("min_latency", stats.MinLatency),
		zap.Any("errors_by_status", stats.ErrorsByStatus),
		zap.Any("anomalies_by_kind", stats.AnomaliesByKind),
	)
}

// Stats represents current metrics
type Stats struct {
	TotalRequests       uint64
	SuccessfulRequests  uint64
	FailedRequests      uint64
	CyclesCompleted     uint64
	CyclesFailed        uint64
	AverageLatency      time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	ErrorsByStatus      map[int]uint64
	AnomaliesByKind     map[string]uint64
	IncidentsBySeverity map[string]uint64
}

// GetPrometheusRegistry returns the default Prometheus registry
// This can be used with promhttp.HandlerFor() to serve metrics
func GetPrometheusRegistry() *prometheus.Registry {
	// Return the default registry which promauto uses
	return prometheus.DefaultRegisterer.(*prometheus.Registry)
}
