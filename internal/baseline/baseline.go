// Package baseline implements online learning of normal error-rate and
// log-volume behavior, bucketed by hour of day and weekday, with JSON
// persistence. Statistics follow Welford's recurrence so updates are O(1)
// and numerically stable.
package baseline

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSensitivity is the z-score threshold used by the scheduler.
const DefaultSensitivity = 2.0

// Standard-deviation floors prevent division by zero in z-scores.
const (
	errorRateStdFloor = 0.1
	logVolumeStdFloor = 1.0
)

// historyCapacity bounds the sample rings (24 h at 30 s cadence).
const historyCapacity = 2880

// persistEvery controls how often accepted samples trigger a save.
const persistEvery = 10

// Stat is a single online (mean, stddev, samples) triple.
type Stat struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Samples int     `json:"samples"`
}

// Stats pairs the two tracked metrics for one temporal bucket.
type Stats struct {
	ErrorRate Stat `json:"error_rate"`
	LogVolume Stat `json:"log_volume"`
}

// Sample is one accepted observation, kept for introspection.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	ErrorRate float64   `json:"error_rate"`
	LogVolume int       `json:"log_volume"`
}

// Evidence describes why a pair of values was judged anomalous.
type Evidence struct {
	ErrorRate       MetricEvidence `json:"error_rate"`
	LogVolume       MetricEvidence `json:"log_volume"`
	BaselineSamples int            `json:"baseline_samples"`
	Sensitivity     float64        `json:"sensitivity"`
}

// MetricEvidence is the per-metric half of the evidence.
type MetricEvidence struct {
	Current     float64 `json:"current"`
	Expected    float64 `json:"expected"`
	Std         float64 `json:"std"`
	ZScore      float64 `json:"z_score"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// AdaptiveBaseline learns and adapts to normal system behavior over time.
// One mutex guards statistics, history and persistence so updates and
// scoring never interleave.
type AdaptiveBaseline struct {
	mu sync.Mutex

	hourly  [24]Stats
	weekday [7]Stats
	overall Stats

	errorHistory  []Sample
	volumeHistory []Sample

	persistencePath string
	logger          *zap.Logger
}

// New creates an adaptive baseline, loading persisted statistics from
// persistencePath when present. A missing or corrupt file starts fresh.
func New(persistencePath string, logger *zap.Logger) *AdaptiveBaseline {
	b := &AdaptiveBaseline{
		persistencePath: persistencePath,
		logger:          logger.Named("baseline"),
	}
	// Seed the overall fallback with a weak prior so early z-scores are
	// meaningless rather than explosive.
	b.overall = Stats{
		ErrorRate: Stat{Mean: 0, Std: 1, Samples: 0},
		LogVolume: Stat{Mean: 100, Std: 50, Samples: 0},
	}
	b.load()
	b.logger.Info("Adaptive baseline initialized", zap.String("path", persistencePath))
	return b
}

// Update folds a new (error_rate, log_volume) observation into the hourly,
// weekday and overall statistics and appends it to the history rings.
// Every 10th accepted sample triggers persistence.
func (b *AdaptiveBaseline) Update(errorRate float64, logVolume int, ts time.Time) {
	ts = ts.UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	sample := Sample{Timestamp: ts, ErrorRate: errorRate, LogVolume: logVolume}
	b.errorHistory = appendBounded(b.errorHistory, sample, historyCapacity)
	b.volumeHistory = appendBounded(b.volumeHistory, sample, historyCapacity)

	hour := ts.Hour()
	day := weekdayIndex(ts)

	updateStats(&b.hourly[hour], errorRate, logVolume)
	updateStats(&b.weekday[day], errorRate, logVolume)
	updateStats(&b.overall, errorRate, logVolume)

	if b.overall.ErrorRate.Samples%persistEvery == 0 {
		b.save()
	}

	b.logger.Debug("Baseline updated",
		zap.Int("hour", hour),
		zap.Int("weekday", day),
		zap.Float64("error_rate", errorRate),
		zap.Int("log_volume", logVolume),
		zap.Int("total_samples", b.overall.ErrorRate.Samples),
	)
}

// Expected returns the most specific baseline with at least 10 samples, in
// the order hourly, weekday, overall.
func (b *AdaptiveBaseline) Expected(ts time.Time) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expectedLocked(ts.UTC())
}

func (b *AdaptiveBaseline) expectedLocked(ts time.Time) Stats {
	if s := b.hourly[ts.Hour()]; s.ErrorRate.Samples >= 10 {
		return s
	}
	if s := b.weekday[weekdayIndex(ts)]; s.ErrorRate.Samples >= 10 {
		return s
	}
	return b.overall
}

// IsAnomalous scores the pair against the expected baseline. With fewer
// than 5 samples the baseline abstains. The result is anomalous when either
// z-score magnitude exceeds sensitivity.
func (b *AdaptiveBaseline) IsAnomalous(errorRate float64, logVolume int, ts time.Time, sensitivity float64) (bool, *Evidence) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.expectedLocked(ts.UTC())
	if stats.ErrorRate.Samples < 5 {
		return false, nil
	}

	errorZ := zScore(errorRate, stats.ErrorRate)
	volumeZ := zScore(float64(logVolume), stats.LogVolume)

	errorAnomalous := math.Abs(errorZ) > sensitivity
	volumeAnomalous := math.Abs(volumeZ) > sensitivity
	if !errorAnomalous && !volumeAnomalous {
		return false, nil
	}

	evidence := &Evidence{
		ErrorRate: MetricEvidence{
			Current:     errorRate,
			Expected:    stats.ErrorRate.Mean,
			Std:         stats.ErrorRate.Std,
			ZScore:      errorZ,
			IsAnomalous: errorAnomalous,
		},
		LogVolume: MetricEvidence{
			Current:     float64(logVolume),
			Expected:    stats.LogVolume.Mean,
			Std:         stats.LogVolume.Std,
			ZScore:      volumeZ,
			IsAnomalous: volumeAnomalous,
		},
		BaselineSamples: stats.ErrorRate.Samples,
		Sensitivity:     sensitivity,
	}

	b.logger.Warn("Anomaly detected via adaptive baseline",
		zap.Float64("error_z_score", errorZ),
		zap.Float64("volume_z_score", volumeZ),
		zap.Int("baseline_samples", stats.ErrorRate.Samples),
	)
	return true, evidence
}

// Confidence reports trust in the learned baseline: full confidence after
// 100 overall samples (about 50 minutes at the default cadence).
func (b *AdaptiveBaseline) Confidence() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confidenceLocked()
}

func (b *AdaptiveBaseline) confidenceLocked() float64 {
	return math.Min(1.0, float64(b.overall.ErrorRate.Samples)/100.0)
}

// Summary describes the learned state for introspection endpoints.
type Summary struct {
	Overall       Stats   `json:"overall"`
	Confidence    float64 `json:"confidence"`
	TotalSamples  int     `json:"total_samples"`
	HistorySize   int     `json:"history_size"`
	HoursWithData int     `json:"hours_with_data"`
	DaysWithData  int     `json:"days_with_data"`
	Expected      Stats   `json:"expected_now"`
}

// Summarize returns a snapshot of the learned baselines.
func (b *AdaptiveBaseline) Summarize(now time.Time) Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := 0
	for _, h := range b.hourly {
		if h.ErrorRate.Samples >= 10 {
			hours++
		}
	}
	days := 0
	for _, d := range b.weekday {
		if d.ErrorRate.Samples >= 10 {
			days++
		}
	}

	return Summary{
		Overall:       b.overall,
		Confidence:    b.confidenceLocked(),
		TotalSamples:  b.overall.ErrorRate.Samples,
		HistorySize:   len(b.errorHistory),
		HoursWithData: hours,
		DaysWithData:  days,
		Expected:      b.expectedLocked(now.UTC()),
	}
}

// HourlyPattern is one hour bucket with enough data to report.
type HourlyPattern struct {
	Hour  int   `json:"hour"`
	Stats Stats `json:"stats"`
}

// HourlyPatterns returns the per-hour baselines holding at least 5 samples.
func (b *AdaptiveBaseline) HourlyPatterns() []HourlyPattern {
	b.mu.Lock()
	defer b.mu.Unlock()

	patterns := make([]HourlyPattern, 0, 24)
	for hour, stats := range b.hourly {
		if stats.ErrorRate.Samples >= 5 {
			patterns = append(patterns, HourlyPattern{Hour: hour, Stats: stats})
		}
	}
	return patterns
}

// RecentSamples returns up to limit most recent history samples.
func (b *AdaptiveBaseline) RecentSamples(limit int) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.errorHistory)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Sample, limit)
	copy(out, b.errorHistory[n-limit:])
	return out
}

// updateStats applies Welford's recurrence to both metrics of one bucket,
// clamping stddev to the per-metric floor.
func updateStats(s *Stats, errorRate float64, logVolume int) {
	s.ErrorRate = welford(s.ErrorRate, errorRate, errorRateStdFloor)
	s.LogVolume = welford(s.LogVolume, float64(logVolume), logVolumeStdFloor)
}

// welford folds one value into an online (mean, std, n) triple using the
// population-variance recurrence.
func welford(s Stat, x, stdFloor float64) Stat {
	n := s.Samples + 1
	oldMean := s.Mean
	newMean := oldMean + (x-oldMean)/float64(n)

	var newStd float64
	if n > 1 {
		oldVar := s.Std * s.Std
		newVar := (float64(n-1)*oldVar + (x-oldMean)*(x-newMean)) / float64(n)
		newStd = math.Sqrt(newVar)
	}

	return Stat{
		Mean:    newMean,
		Std:     math.Max(newStd, stdFloor),
		Samples: n,
	}
}

func zScore(x float64, s Stat) float64 {
	if s.Std <= 0 {
		return 0
	}
	return (x - s.Mean) / s.Std
}

// weekdayIndex maps time.Weekday (Sunday=0) to the Monday=0 convention used
// by the bucket layout.
func weekdayIndex(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}

func appendBounded(history []Sample, s Sample, capacity int) []Sample {
	history = append(history, s)
	if len(history) > capacity {
		history = history[len(history)-capacity:]
	}
	return history
}
