package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// Message normalization for clustering: digit runs collapse to N, long hex
// runs (IDs, hashes) to ID.
var (
	digitRunPattern = regexp.MustCompile(`\d+`)
	hexRunPattern   = regexp.MustCompile(`[a-f0-9]{8,}`)
)

// httpVerbs recognized when extracting an endpoint from a message.
var httpVerbs = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// CorrelationEngine finds co-occurrence patterns in a single log batch.
// Stateless per invocation.
type CorrelationEngine struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewCorrelationEngine creates the engine.
func NewCorrelationEngine(logger *zap.Logger) *CorrelationEngine {
	return &CorrelationEngine{
		logger: logger.Named("correlation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Analyze runs all correlation analyses over the batch.
func (e *CorrelationEngine) Analyze(logs []model.LogRecord) []model.Anomaly {
	var anomalies []model.Anomaly
	if len(logs) == 0 {
		return anomalies
	}

	if a := e.correlateEndpoints(logs); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := e.correlateTimeOfDay(logs); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := e.detectCascade(logs); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := e.detectClustering(logs); a != nil {
		anomalies = append(anomalies, *a)
	}

	if len(anomalies) > 0 {
		e.logger.Info("Correlation analysis found anomalies", zap.Int("count", len(anomalies)))
	}
	return anomalies
}

// endpointStats is the per-endpoint evidence row.
type endpointStats struct {
	Endpoint      string  `json:"endpoint"`
	ErrorCount    int     `json:"error_count"`
	TotalRequests int     `json:"total_requests"`
	ErrorRate     float64 `json:"error_rate"`
}

// correlateEndpoints flags the worst endpoint with error rate above 30%
// among endpoints with at least 5 requests.
func (e *CorrelationEngine) correlateEndpoints(logs []model.LogRecord) *model.Anomaly {
	endpointErrors := make(map[string]int)
	endpointTotal := make(map[string]int)

	for _, log := range logs {
		endpoint := extractEndpoint(log)
		endpointTotal[endpoint]++
		if log.IsError() {
			endpointErrors[endpoint]++
		}
	}

	var problematic []endpointStats
	for endpoint, errCount := range endpointErrors {
		total := endpointTotal[endpoint]
		if total < 5 {
			continue
		}
		rate := float64(errCount) / float64(total)
		if rate > 0.3 {
			problematic = append(problematic, endpointStats{
				Endpoint:      endpoint,
				ErrorCount:    errCount,
				TotalRequests: total,
				ErrorRate:     rate,
			})
		}
	}
	if len(problematic) == 0 {
		return nil
	}

	sort.Slice(problematic, func(i, j int) bool {
		if problematic[i].ErrorRate != problematic[j].ErrorRate {
			return problematic[i].ErrorRate > problematic[j].ErrorRate
		}
		return problematic[i].Endpoint < problematic[j].Endpoint
	})
	top := problematic[0]

	score := clamp01(top.ErrorRate)
	severity := model.SeverityHigh
	if score > 0.8 {
		severity = model.SeverityCritical
	}

	e.logger.Warn("Endpoint correlation detected",
		zap.String("endpoint", top.Endpoint),
		zap.Float64("error_rate", top.ErrorRate),
	)

	return &model.Anomaly{
		Kind:        model.KindEndpointErrorCorrelation,
		Severity:    severity,
		Score:       score,
		Description: fmt.Sprintf("Endpoint '%s' has %.1f%% error rate", top.Endpoint, top.ErrorRate*100),
		DetectedAt:  e.now(),
		Metrics: map[string]any{
			"endpoint":        top.Endpoint,
			"error_count":     top.ErrorCount,
			"total_requests":  top.TotalRequests,
			"error_rate":      top.ErrorRate,
			"all_problematic": problematic,
		},
	}
}

// extractEndpoint parses an HTTP verb plus path from the message, falling
// back to the explicit endpoint field, then "unknown".
func extractEndpoint(log model.LogRecord) string {
	parts := strings.Fields(log.Message)
	for i, part := range parts {
		if httpVerbs[part] && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if log.Endpoint != "" {
		return log.Endpoint
	}
	return "unknown"
}

// correlateTimeOfDay flags the hour bucket with the highest error rate when
// it exceeds 50% over at least 5 events.
func (e *CorrelationEngine) correlateTimeOfDay(logs []model.LogRecord) *model.Anomaly {
	errorsByHour := make(map[int]int)
	totalByHour := make(map[int]int)

	for _, log := range logs {
		ts, ok := log.Time()
		if !ok {
			continue
		}
		hour := ts.Hour()
		totalByHour[hour]++
		if log.IsError() {
			errorsByHour[hour]++
		}
	}
	if len(errorsByHour) == 0 {
		return nil
	}

	problemHour := -1
	maxRate := 0.0
	for hour := 0; hour < 24; hour++ {
		total := totalByHour[hour]
		if total < 5 {
			continue
		}
		rate := float64(errorsByHour[hour]) / float64(total)
		if rate > maxRate {
			maxRate = rate
			problemHour = hour
		}
	}
	if problemHour < 0 || maxRate <= 0.5 {
		return nil
	}

	score := clamp01(maxRate)

	e.logger.Info("Time-based correlation detected",
		zap.Int("hour", problemHour),
		zap.Float64("error_rate", maxRate),
	)

	return &model.Anomaly{
		Kind:        model.KindTimeBasedErrorPattern,
		Severity:    model.SeverityMedium,
		Score:       score,
		Description: fmt.Sprintf("Errors concentrated around hour %d:00 UTC (%.1f%% error rate)", problemHour, maxRate*100),
		DetectedAt:  e.now(),
		Metrics: map[string]any{
			"problem_hour":   problemHour,
			"error_rate":     maxRate,
			"errors_by_hour": errorsByHour,
			"total_by_hour":  totalByHour,
		},
	}
}

// cascadeEvent is one timestamped error used in the sliding-window scan.
type cascadeEvent struct {
	at      time.Time
	message string
}

// detectCascade scans 5-event sliding windows of sorted errors and flags
// the first window where five errors of at least 3 distinct messages fall
// within 30 seconds.
func (e *CorrelationEngine) detectCascade(logs []model.LogRecord) *model.Anomaly {
	if len(logs) < 10 {
		return nil
	}

	var events []cascadeEvent
	for _, log := range logs {
		if !log.IsError() {
			continue
		}
		ts, ok := log.Time()
		if !ok {
			continue
		}
		events = append(events, cascadeEvent{at: ts, message: truncate(log.Message, 100)})
	}
	if len(events) < 5 {
		return nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	cascadeCount := 0
	var first *struct {
		duration    float64
		uniqueTypes int
	}
	for i := 0; i+4 < len(events); i++ {
		duration := events[i+4].at.Sub(events[i].at).Seconds()
		if duration > 30 {
			continue
		}
		unique := make(map[string]struct{}, 5)
		for j := i; j < i+5; j++ {
			unique[events[j].message] = struct{}{}
		}
		if len(unique) < 3 {
			continue
		}
		cascadeCount++
		if first == nil {
			first = &struct {
				duration    float64
				uniqueTypes int
			}{duration: duration, uniqueTypes: len(unique)}
		}
	}
	if first == nil {
		return nil
	}

	score := clamp01(float64(first.uniqueTypes) / 5)

	e.logger.Warn("Error cascade detected",
		zap.Float64("duration", first.duration),
		zap.Int("unique_types", first.uniqueTypes),
	)

	return &model.Anomaly{
		Kind:        model.KindErrorCascade,
		Severity:    model.SeverityHigh,
		Score:       score,
		Description: fmt.Sprintf("Error cascade detected: 5 errors (%d types) in %.1fs", first.uniqueTypes, first.duration),
		DetectedAt:  e.now(),
		Metrics: map[string]any{
			"duration_seconds":   first.duration,
			"error_count":        5,
			"unique_error_types": first.uniqueTypes,
			"cascade_count":      cascadeCount,
		},
	}
}

// detectClustering normalizes error messages and flags one dominant
// normalized form covering at least 60% of at least 10 errors.
func (e *CorrelationEngine) detectClustering(logs []model.LogRecord) *model.Anomaly {
	var normalized []string
	for _, log := range logs {
		if !log.IsError() {
			continue
		}
		normalized = append(normalized, truncate(NormalizeMessage(log.Message), 100))
	}
	if len(normalized) < 10 {
		return nil
	}

	counts := make(map[string]int, len(normalized))
	for _, msg := range normalized {
		counts[msg]++
	}
	top := topCounts(counts, 3)
	totalErrors := len(normalized)

	for _, mc := range top {
		percentage := float64(mc.count) / float64(totalErrors) * 100
		if percentage <= 60 {
			continue
		}

		score := clamp01(percentage / 100)
		severity := model.SeverityMedium
		if percentage > 80 {
			severity = model.SeverityHigh
		}

		e.logger.Warn("Error clustering detected",
			zap.String("pattern", truncate(mc.key, 50)),
			zap.Int("count", mc.count),
			zap.Float64("percentage", percentage),
		)

		topPatterns := make([]map[string]any, 0, len(top))
		for _, p := range top {
			topPatterns = append(topPatterns, map[string]any{
				"pattern": truncate(p.key, 50),
				"count":   p.count,
			})
		}

		return &model.Anomaly{
			Kind:        model.KindErrorClustering,
			Severity:    severity,
			Score:       score,
			Description: fmt.Sprintf("Error pattern '%s...' accounts for %.1f%% of errors", truncate(mc.key, 50), percentage),
			DetectedAt:  e.now(),
			Metrics: map[string]any{
				"dominant_pattern": truncate(mc.key, 100),
				"occurrence_count": mc.count,
				"percentage":       percentage,
				"total_errors":     totalErrors,
				"top_patterns":     topPatterns,
			},
		}
	}
	return nil
}

// NormalizeMessage collapses variable parts of an error message so
// structurally identical errors cluster together.
func NormalizeMessage(message string) string {
	normalized := digitRunPattern.ReplaceAllString(message, "N")
	return hexRunPattern.ReplaceAllString(normalized, "ID")
}
