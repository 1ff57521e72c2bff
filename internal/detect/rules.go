// Package detect implements the per-cycle anomaly detectors: rule-based
// counters over the current batch, a streaming time-series window, and a
// stateless log-content correlation engine.
package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// historyRetention bounds the rule detector's per-cycle history.
const historyRetention = time.Hour

// observation is one per-cycle total kept in the rolling history.
type observation struct {
	At    time.Time `json:"at"`
	Value int       `json:"value"`
}

// RuleDetector runs stateless-per-cycle heuristics over a log batch plus a
// bounded history of per-cycle totals. Owned by the scheduler goroutine;
// snapshots are the only concurrent access path.
type RuleDetector struct {
	logger      *zap.Logger
	errorCounts []observation
	volumes     []observation
	now         func() time.Time
}

// NewRuleDetector creates a rule detector.
func NewRuleDetector(logger *zap.Logger) *RuleDetector {
	return &RuleDetector{
		logger: logger.Named("rules"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Analyze runs all rule heuristics over the batch.
func (d *RuleDetector) Analyze(logs []model.LogRecord) []model.Anomaly {
	var anomalies []model.Anomaly
	if len(logs) == 0 {
		d.logger.Debug("No logs to analyze")
		return anomalies
	}

	d.logger.Debug("Analyzing logs for anomalies", zap.Int("log_count", len(logs)))

	errorCount := 0
	for _, log := range logs {
		if log.IsError() {
			errorCount++
		}
	}

	if a := d.detectErrorSpike(errorCount); a != nil {
		anomalies = append(anomalies, *a)
	}
	anomalies = append(anomalies, d.detectErrorPatterns(logs)...)
	if a := d.detectServiceDegradation(logs); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := d.detectUnusualVolume(len(logs)); a != nil {
		anomalies = append(anomalies, *a)
	}

	if len(anomalies) > 0 {
		d.logger.Warn("Anomalies detected", zap.Int("count", len(anomalies)))
	}
	return anomalies
}

// detectErrorSpike compares the current error count to the rolling mean and
// stddev of the previous cycles. Triggers when current > mean + 2*std and
// current > 10.
func (d *RuleDetector) detectErrorSpike(currentErrors int) *model.Anomaly {
	now := d.now()
	d.errorCounts = pruneHistory(append(d.errorCounts, observation{At: now, Value: currentErrors}), now)

	if len(d.errorCounts) < 5 {
		d.logger.Debug("Insufficient history for error spike detection")
		return nil
	}

	mean, std := meanStd(valuesExceptLast(d.errorCounts))
	threshold := mean + 2*std

	if float64(currentErrors) <= threshold || currentErrors <= 10 {
		return nil
	}

	score := clamp01((float64(currentErrors) - threshold) / (threshold + 1))
	severity := model.SeverityFromScore(score)

	d.logger.Warn("Error spike detected",
		zap.Int("current", currentErrors),
		zap.Float64("baseline", mean),
		zap.Float64("threshold", threshold),
		zap.Float64("score", score),
	)

	return &model.Anomaly{
		Kind:        model.KindErrorSpike,
		Severity:    severity,
		Score:       score,
		Description: fmt.Sprintf("Error rate spiked to %d (baseline: %.1f)", currentErrors, mean),
		DetectedAt:  now,
		Metrics: map[string]any{
			"current_errors": currentErrors,
			"baseline_avg":   mean,
			"threshold":      threshold,
			"time_window":    "5m",
		},
	}
}

// detectErrorPatterns flags a single error message accounting for more than
// half of all errors in the batch.
func (d *RuleDetector) detectErrorPatterns(logs []model.LogRecord) []model.Anomaly {
	var anomalies []model.Anomaly

	counts := make(map[string]int)
	total := 0
	for _, log := range logs {
		if log.IsError() {
			counts[log.Message]++
			total++
		}
	}
	if total == 0 {
		return anomalies
	}

	for _, mc := range topCounts(counts, 5) {
		percentage := float64(mc.count) / float64(total) * 100
		if percentage <= 50 || mc.count <= 5 {
			continue
		}

		score := clamp01(percentage / 100)
		severity := model.SeverityFromScore(score)

		d.logger.Warn("Dominant error pattern detected",
			zap.String("error_type", truncate(mc.key, 50)),
			zap.Int("count", mc.count),
			zap.Float64("percentage", percentage),
		)

		anomalies = append(anomalies, model.Anomaly{
			Kind:        model.KindDominantErrorPattern,
			Severity:    severity,
			Score:       score,
			Description: fmt.Sprintf("Error '%s' accounts for %.1f%% of errors", truncate(mc.key, 50), percentage),
			DetectedAt:  d.now(),
			Metrics: map[string]any{
				"error_message": truncate(mc.key, 100),
				"count":         mc.count,
				"percentage":    percentage,
				"total_errors":  total,
			},
		})
	}
	return anomalies
}

// detectServiceDegradation flags the worst service whose error rate exceeds
// 30% with more than 10 errors.
func (d *RuleDetector) detectServiceDegradation(logs []model.LogRecord) *model.Anomaly {
	serviceErrors := make(map[string]int)
	serviceTotal := make(map[string]int)

	for _, log := range logs {
		service := log.ServiceName()
		serviceTotal[service]++
		if log.IsError() {
			serviceErrors[service]++
		}
	}

	var worst string
	var worstRate float64
	for service, errCount := range serviceErrors {
		total := serviceTotal[service]
		if total == 0 {
			continue
		}
		rate := float64(errCount) / float64(total)
		if rate > 0.3 && errCount > 10 && rate > worstRate {
			worst = service
			worstRate = rate
		}
	}
	if worst == "" {
		return nil
	}

	score := clamp01(worstRate)
	severity := model.SeverityFromScore(score)

	d.logger.Warn("Service degradation detected",
		zap.String("service", worst),
		zap.Int("error_count", serviceErrors[worst]),
		zap.Int("total_logs", serviceTotal[worst]),
		zap.Float64("error_rate", worstRate),
	)

	return &model.Anomaly{
		Kind:        model.KindServiceDegradation,
		Severity:    severity,
		Score:       score,
		Description: fmt.Sprintf("Service '%s' has %.1f%% error rate", worst, worstRate*100),
		DetectedAt:  d.now(),
		Metrics: map[string]any{
			"service":     worst,
			"error_count": serviceErrors[worst],
			"total_logs":  serviceTotal[worst],
			"error_rate":  worstRate,
		},
	}
}

// detectUnusualVolume flags a batch size beyond mean +/- 3*std of the
// rolling history. Drops are only reported against a baseline above 100 to
// avoid false positives on near-empty systems.
func (d *RuleDetector) detectUnusualVolume(currentVolume int) *model.Anomaly {
	now := d.now()
	d.volumes = pruneHistory(append(d.volumes, observation{At: now, Value: currentVolume}), now)

	if len(d.volumes) < 5 {
		return nil
	}

	mean, std := meanStd(valuesExceptLast(d.volumes))
	upper := mean + 3*std
	lower := math.Max(0, mean-3*std)

	if float64(currentVolume) > upper {
		score := clamp01((float64(currentVolume) - upper) / (upper + 1))
		severity := model.SeverityMedium
		if score >= 0.7 {
			severity = model.SeverityHigh
		}

		d.logger.Info("Log volume spike detected",
			zap.Int("current", currentVolume),
			zap.Float64("baseline", mean),
			zap.Float64("threshold", upper),
		)

		return &model.Anomaly{
			Kind:        model.KindLogVolumeSpike,
			Severity:    severity,
			Score:       score,
			Description: fmt.Sprintf("Log volume spiked to %d (baseline: %.1f)", currentVolume, mean),
			DetectedAt:  now,
			Metrics: map[string]any{
				"current_volume": currentVolume,
				"baseline_avg":   mean,
				"threshold":      upper,
			},
		}
	}

	if float64(currentVolume) < lower && mean > 100 {
		score := clamp01((mean - float64(currentVolume)) / (mean + 1))
		severity := model.SeverityMedium
		if score > 0.5 {
			severity = model.SeverityHigh
		}

		d.logger.Warn("Log volume drop detected",
			zap.Int("current", currentVolume),
			zap.Float64("baseline", mean),
			zap.Float64("threshold", lower),
		)

		return &model.Anomaly{
			Kind:        model.KindLogVolumeDrop,
			Severity:    severity,
			Score:       score,
			Description: fmt.Sprintf("Log volume dropped to %d (baseline: %.1f) - possible service issue", currentVolume, mean),
			DetectedAt:  now,
			Metrics: map[string]any{
				"current_volume": currentVolume,
				"baseline_avg":   mean,
				"threshold":      lower,
			},
		}
	}

	return nil
}

// RuleSnapshot is the rule detector's introspection view.
type RuleSnapshot struct {
	ErrorCounts []observation `json:"error_counts"`
	Volumes     []observation `json:"volumes"`
}

// Snapshot copies the current histories.
func (d *RuleDetector) Snapshot() RuleSnapshot {
	return RuleSnapshot{
		ErrorCounts: append([]observation(nil), d.errorCounts...),
		Volumes:     append([]observation(nil), d.volumes...),
	}
}

// pruneHistory drops observations older than the retention window.
func pruneHistory(history []observation, now time.Time) []observation {
	cutoff := now.Add(-historyRetention)
	kept := history[:0]
	for _, h := range history {
		if h.At.After(cutoff) {
			kept = append(kept, h)
		}
	}
	return kept
}

func valuesExceptLast(history []observation) []float64 {
	values := make([]float64, 0, len(history)-1)
	for _, h := range history[:len(history)-1] {
		values = append(values, float64(h.Value))
	}
	return values
}

// meanStd returns the arithmetic mean and sample standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type keyCount struct {
	key   string
	count int
}

// topCounts returns the n most frequent keys, ties broken by key for
// deterministic output.
func topCounts(counts map[string]int, n int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, keyCount{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
