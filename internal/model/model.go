// Package model defines the core data types shared by the detection
// pipeline: log records, anomalies, incidents and monitoring state.
package model

import (
	"strings"
	"time"
)

// Severity classifies how serious an anomaly or incident is.
type Severity string

// Severity levels, ordered low < medium < high < critical.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric position of the severity in the
// low < medium < high < critical order. Unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// SeverityFromScore maps an anomaly score in [0,1] to a severity label.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxSeverity returns the highest severity among the given anomalies.
// Returns SeverityLow for an empty slice.
func MaxSeverity(anomalies []Anomaly) Severity {
	max := SeverityLow
	for _, a := range anomalies {
		if a.Severity.Rank() > max.Rank() {
			max = a.Severity
		}
	}
	return max
}

// AnomalyKind identifies which detection algorithm produced an anomaly.
type AnomalyKind string

// The closed set of anomaly kinds emitted by the detectors.
const (
	KindErrorSpike                AnomalyKind = "error_spike"
	KindDominantErrorPattern      AnomalyKind = "dominant_error_pattern"
	KindServiceDegradation        AnomalyKind = "service_degradation"
	KindLogVolumeSpike            AnomalyKind = "log_volume_spike"
	KindLogVolumeDrop             AnomalyKind = "log_volume_drop"
	KindIncreasingTrend           AnomalyKind = "increasing_trend"
	KindOscillation               AnomalyKind = "oscillation"
	KindSuddenLevelChange         AnomalyKind = "sudden_level_change"
	KindEndpointErrorCorrelation  AnomalyKind = "endpoint_error_correlation"
	KindTimeBasedErrorPattern     AnomalyKind = "time_based_error_pattern"
	KindErrorCascade              AnomalyKind = "error_cascade"
	KindErrorClustering           AnomalyKind = "error_clustering"
	KindAdaptiveBaselineDeviation AnomalyKind = "adaptive_baseline_deviation"
)

// Anomaly is a single detector finding for one cycle. Anomalies are value
// objects: created by a detector, never mutated afterwards.
type Anomaly struct {
	Kind        AnomalyKind    `json:"kind"`
	Severity    Severity       `json:"severity"`
	Score       float64        `json:"score"`
	Description string         `json:"description"`
	DetectedAt  time.Time      `json:"detected_at"`
	Metrics     map[string]any `json:"metrics"`
}

// KubernetesMeta is the optional nested pod descriptor on a log record.
type KubernetesMeta struct {
	Namespace string            `json:"namespace,omitempty"`
	Pod       PodMeta           `json:"pod,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// PodMeta identifies the emitting pod.
type PodMeta struct {
	Name string `json:"name,omitempty"`
}

// LogRecord is a single log document as returned by the log store.
// Missing fields default safely; no schema is enforced beyond these lookups.
type LogRecord struct {
	Timestamp  string          `json:"@timestamp"`
	Level      string          `json:"level,omitempty"`
	Message    string          `json:"message"`
	Service    string          `json:"service,omitempty"`
	Endpoint   string          `json:"endpoint,omitempty"`
	Kubernetes *KubernetesMeta `json:"kubernetes,omitempty"`
}

// ServiceName returns the service field, falling back to the nested
// kubernetes app label, then "unknown".
func (r LogRecord) ServiceName() string {
	if r.Service != "" {
		return r.Service
	}
	if r.Kubernetes != nil {
		if app := r.Kubernetes.Labels["app"]; app != "" {
			return app
		}
	}
	return "unknown"
}

// IsError reports whether the record represents an error event, matching
// either the level field or an "error" marker in the message.
func (r LogRecord) IsError() bool {
	if strings.Contains(r.Level, "ERROR") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Message), "error")
}

// Time parses the record timestamp. The second return value is false when
// the timestamp is absent or malformed.
func (r LogRecord) Time() (time.Time, bool) {
	if r.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SampleLog is a truncated view of a LogRecord kept as incident evidence.
type SampleLog struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Service   string `json:"service,omitempty"`
	Pod       string `json:"pod,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// SampleMessageLimit caps the message length kept on incident sample logs.
const SampleMessageLimit = 200

// NewSampleLog builds the truncated evidence view of a record.
func NewSampleLog(r LogRecord) SampleLog {
	msg := r.Message
	if len(msg) > SampleMessageLimit {
		msg = msg[:SampleMessageLimit]
	}
	s := SampleLog{
		Timestamp: r.Timestamp,
		Level:     r.Level,
		Message:   msg,
		Service:   r.Service,
	}
	if r.Kubernetes != nil {
		s.Pod = r.Kubernetes.Pod.Name
		s.Namespace = r.Kubernetes.Namespace
	}
	return s
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident lifecycle states. Transition logic beyond the initial "open"
// state is intentionally undefined in the current design.
const (
	StatusOpen          IncidentStatus = "open"
	StatusInvestigating IncidentStatus = "investigating"
	StatusResolved      IncidentStatus = "resolved"
)

// RCAAnalysis is the structured root-cause record parsed from the LLM
// response. FullAnalysis always retains the complete prose.
type RCAAnalysis struct {
	RootCause            string    `json:"root_cause"`
	Impact               string    `json:"impact,omitempty"`
	TechnicalExplanation string    `json:"technical_explanation,omitempty"`
	ImmediateActions     []string  `json:"immediate_actions"`
	Prevention           []string  `json:"prevention,omitempty"`
	Confidence           string    `json:"confidence"`
	FullAnalysis         string    `json:"full_analysis"`
	AnalyzedAt           time.Time `json:"analyzed_at"`
	IncidentID           string    `json:"incident_id,omitempty"`
}

// Incident is the fused record synthesized from one cycle's high/critical
// anomalies.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Anomalies        []Anomaly `json:"anomalies"`
	AffectedServices []string  `json:"affected_services"`
	LogCount         int       `json:"log_count"`
	ErrorCount       int       `json:"error_count"`

	RootCause       string         `json:"root_cause,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	RCA             *RCAAnalysis   `json:"rca_analysis,omitempty"`
	SampleLogs      []SampleLog    `json:"sample_logs"`
	MetricsSnapshot map[string]any `json:"metrics_snapshot"`
}

// ErrorRate returns error_count/log_count, zero-safe.
func (i Incident) ErrorRate() float64 {
	if i.LogCount == 0 {
		return 0
	}
	return float64(i.ErrorCount) / float64(i.LogCount)
}

// MonitorStatus describes the scheduler's self-reported condition.
type MonitorStatus string

// Monitor status values.
const (
	MonitorInitializing MonitorStatus = "initializing"
	MonitorHealthy      MonitorStatus = "healthy"
	MonitorDegraded     MonitorStatus = "degraded"
	MonitorError        MonitorStatus = "error"
	MonitorStopped      MonitorStatus = "stopped"
)

// MonitoringState is the scheduler's counters. Counters are monotonically
// non-decreasing over a process lifetime.
type MonitoringState struct {
	LastCheck         time.Time     `json:"last_check"`
	LogsProcessed     int64         `json:"logs_processed"`
	AnomaliesDetected int64         `json:"anomalies_detected"`
	IncidentsCreated  int64         `json:"incidents_created"`
	Status            MonitorStatus `json:"status"`
}
