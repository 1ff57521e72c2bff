package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// describedAnomalyLimit caps how many anomaly lines the description carries.
const describedAnomalyLimit = 5

// baselineAnomaly turns baseline evidence into an anomaly. Severity derives
// from the error z-score magnitude: above 3 is critical.
func (m *Monitor) baselineAnomaly(evidence *baseline.Evidence, now time.Time) model.Anomaly {
	zErr := math.Abs(evidence.ErrorRate.ZScore)

	severity := model.SeverityHigh
	if zErr > 3 {
		severity = model.SeverityCritical
	}

	score := zErr / 4
	if score > 1 {
		score = 1
	}

	return model.Anomaly{
		Kind:     model.KindAdaptiveBaselineDeviation,
		Severity: severity,
		Score:    score,
		Description: fmt.Sprintf(
			"Error rate %.1f deviates from learned baseline %.1f±%.1f (z=%.1f)",
			evidence.ErrorRate.Current,
			evidence.ErrorRate.Expected,
			evidence.ErrorRate.Std,
			evidence.ErrorRate.ZScore,
		),
		DetectedAt: now,
		Metrics: map[string]any{
			"error_rate":       evidence.ErrorRate,
			"log_volume":       evidence.LogVolume,
			"baseline_samples": evidence.BaselineSamples,
			"sensitivity":      evidence.Sensitivity,
		},
	}
}

// synthesizeIncident fuses the high and critical anomalies of one cycle
// into an incident.
func (m *Monitor) synthesizeIncident(logs []model.LogRecord, anomalies []model.Anomaly, methods []string, now time.Time) *model.Incident {
	var errorLogs []model.LogRecord
	for _, log := range logs {
		if log.IsError() {
			errorLogs = append(errorLogs, log)
		}
	}

	services := affectedServices(errorLogs)
	severity := model.MaxSeverity(anomalies)
	summary := m.baseline.Summarize(now)

	sampleLogs := make([]model.SampleLog, 0, 5)
	for i, log := range errorLogs {
		if i >= 5 {
			break
		}
		sampleLogs = append(sampleLogs, model.NewSampleLog(log))
	}

	breakdown := make(map[string]int, len(anomalies))
	for _, a := range anomalies {
		breakdown[string(a.Kind)]++
	}

	return &model.Incident{
		ID:               fmt.Sprintf("INC-%d", now.Unix()),
		Title:            incidentTitle(anomalies),
		Description:      incidentDescription(anomalies, summary.Confidence),
		Severity:         severity,
		Status:           model.StatusOpen,
		StartedAt:        now.Add(-m.cfg.SampleWindow),
		DetectedAt:       now,
		Anomalies:        anomalies,
		AffectedServices: services,
		LogCount:         len(logs),
		ErrorCount:       len(errorLogs),
		SampleLogs:       sampleLogs,
		MetricsSnapshot: map[string]any{
			"total_logs":        len(logs),
			"error_logs":        len(errorLogs),
			"error_rate":        errorRate(len(errorLogs), len(logs)),
			"anomaly_breakdown": breakdown,
			"ml_context": map[string]any{
				"baseline_confidence": summary.Confidence,
				"baseline_samples":    summary.TotalSamples,
				"hours_learned":       summary.HoursWithData,
				"detection_methods":   methods,
			},
		},
	}
}

// incidentTitle names the incident after up to three distinct anomaly
// kinds, in detection order.
func incidentTitle(anomalies []model.Anomaly) string {
	seen := make(map[model.AnomalyKind]struct{}, len(anomalies))
	var kinds []string
	for _, a := range anomalies {
		if _, ok := seen[a.Kind]; ok {
			continue
		}
		seen[a.Kind] = struct{}{}
		kinds = append(kinds, string(a.Kind))
	}

	extra := ""
	if len(kinds) > 3 {
		extra = fmt.Sprintf(" (+%d more)", len(kinds)-3)
		kinds = kinds[:3]
	}
	return fmt.Sprintf("ML-Detected Incident: %s%s", strings.Join(kinds, ", "), extra)
}

// incidentDescription orders the lines: baseline deviations first with the
// learned-baseline confidence, then up to 5 other anomalies, then an
// overflow suffix.
func incidentDescription(anomalies []model.Anomaly, confidence float64) string {
	var lines []string
	var others []model.Anomaly

	for _, a := range anomalies {
		if a.Kind == model.KindAdaptiveBaselineDeviation {
			lines = append(lines, fmt.Sprintf(
				"Learned-baseline deviation (baseline confidence %.0f%%): %s",
				confidence*100, a.Description,
			))
		} else {
			others = append(others, a)
		}
	}

	for i, a := range others {
		if i >= describedAnomalyLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Description))
	}
	if len(others) > describedAnomalyLimit {
		lines = append(lines, fmt.Sprintf("... and %d more anomalies", len(others)-describedAnomalyLimit))
	}

	return strings.Join(lines, "\n")
}

// affectedServices collects distinct named services from the error logs.
func affectedServices(errorLogs []model.LogRecord) []string {
	seen := make(map[string]struct{})
	for _, log := range errorLogs {
		service := log.ServiceName()
		if service == "" || service == "unknown" {
			continue
		}
		seen[service] = struct{}{}
	}

	services := make([]string, 0, len(seen))
	for service := range seen {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}

func errorRate(errors, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total)
}
