package detect

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// windowCapacity bounds each metric FIFO (6 minutes at 30-second cadence).
const windowCapacity = 12

// Point is one (timestamp, value) sample in a metric window.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeSeriesAnalyzer keeps bounded FIFO windows of recent per-cycle metrics
// and detects upward trends, oscillation and step changes over them.
type TimeSeriesAnalyzer struct {
	logger       *zap.Logger
	errorWindow  []Point
	volumeWindow []Point
	now          func() time.Time
}

// NewTimeSeriesAnalyzer creates the analyzer.
func NewTimeSeriesAnalyzer(logger *zap.Logger) *TimeSeriesAnalyzer {
	return &TimeSeriesAnalyzer{
		logger: logger.Named("timeseries"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Add appends the cycle's error count and log volume to the windows,
// evicting the oldest point on overflow.
func (a *TimeSeriesAnalyzer) Add(errorCount, logVolume int) {
	ts := a.now()
	a.errorWindow = appendPoint(a.errorWindow, Point{Timestamp: ts, Value: float64(errorCount)})
	a.volumeWindow = appendPoint(a.volumeWindow, Point{Timestamp: ts, Value: float64(logVolume)})
}

// Analyze runs all pattern detectors over the error window. Each detector
// emits at most one anomaly per cycle.
func (a *TimeSeriesAnalyzer) Analyze() []model.Anomaly {
	var anomalies []model.Anomaly

	if t := a.detectIncreasingTrend(a.errorWindow, 5); t != nil {
		anomalies = append(anomalies, *t)
	}
	if o := a.detectOscillation(a.errorWindow, 6); o != nil {
		anomalies = append(anomalies, *o)
	}
	if c := a.detectSuddenChange(a.errorWindow, 2.0); c != nil {
		anomalies = append(anomalies, *c)
	}

	return anomalies
}

// detectIncreasingTrend fits an ordinary least-squares line over the window
// indices and flags a consistent upward trend (slope > 0.1 with R^2 > 0.7).
func (a *TimeSeriesAnalyzer) detectIncreasingTrend(window []Point, minPoints int) *model.Anomaly {
	if len(window) < minPoints {
		return nil
	}

	values := pointValues(window)
	n := float64(len(values))

	xMean := (n - 1) / 2
	var yMean float64
	for _, v := range values {
		yMean += v
	}
	yMean /= n

	var numerator, denominator float64
	for i, v := range values {
		dx := float64(i) - xMean
		numerator += dx * (v - yMean)
		denominator += dx * dx
	}
	if denominator == 0 {
		return nil
	}
	slope := numerator / denominator
	if slope <= 0.1 {
		return nil
	}

	intercept := yMean - slope*xMean
	var ssTot, ssRes float64
	for i, v := range values {
		pred := slope*float64(i) + intercept
		ssTot += (v - yMean) * (v - yMean)
		ssRes += (v - pred) * (v - pred)
	}
	rSquared := 0.0
	if ssTot != 0 {
		rSquared = 1 - ssRes/ssTot
	}
	if rSquared <= 0.7 {
		return nil
	}

	score := clamp01(slope * rSquared)
	severity := model.SeverityMedium
	if score > 0.6 {
		severity = model.SeverityHigh
	}

	a.logger.Warn("Increasing trend detected",
		zap.Float64("slope", slope),
		zap.Float64("r_squared", rSquared),
		zap.Float64("score", score),
	)

	return &model.Anomaly{
		Kind:        model.KindIncreasingTrend,
		Severity:    severity,
		Score:       score,
		Description: fmt.Sprintf("Detected upward trend with slope %.2f (R²=%.2f)", slope, rSquared),
		DetectedAt:  a.now(),
		Metrics: map[string]any{
			"slope":       slope,
			"r_squared":   rSquared,
			"data_points": len(values),
			"start_value": values[0],
			"end_value":   values[len(values)-1],
		},
	}
}

// detectOscillation flags unstable behavior via the coefficient of
// variation (stddev/mean > 0.5 with stddev > 5).
func (a *TimeSeriesAnalyzer) detectOscillation(window []Point, minPoints int) *model.Anomaly {
	if len(window) < minPoints {
		return nil
	}

	values := pointValues(window)
	mean, std := meanStd(values)
	if mean <= 0 {
		return nil
	}

	cv := std / mean
	if cv <= 0.5 || std <= 5 {
		return nil
	}

	score := math.Min(cv, 1.0)

	a.logger.Warn("Oscillation detected",
		zap.Float64("coefficient_of_variation", cv),
		zap.Float64("mean", mean),
		zap.Float64("stdev", std),
	)

	return &model.Anomaly{
		Kind:        model.KindOscillation,
		Severity:    model.SeverityMedium,
		Score:       score,
		Description: fmt.Sprintf("Unstable behavior detected (CV=%.2f)", cv),
		DetectedAt:  a.now(),
		Metrics: map[string]any{
			"coefficient_of_variation": cv,
			"mean":                     mean,
			"stdev":                    std,
			"data_points":              len(values),
		},
	}
}

// detectSuddenChange splits the window in halves and flags a level shift
// when the second half mean exceeds the first by the threshold multiplier.
func (a *TimeSeriesAnalyzer) detectSuddenChange(window []Point, thresholdMultiplier float64) *model.Anomaly {
	if len(window) < 6 {
		return nil
	}

	values := pointValues(window)
	mid := len(values) / 2
	avgFirst, _ := meanStd(values[:mid])
	avgSecond, _ := meanStd(values[mid:])

	if avgFirst <= 0 {
		return nil
	}
	ratio := avgSecond / avgFirst
	if ratio <= thresholdMultiplier {
		return nil
	}

	score := clamp01((ratio - thresholdMultiplier) / thresholdMultiplier)
	severity := model.SeverityMedium
	if score > 0.5 {
		severity = model.SeverityHigh
	}

	a.logger.Warn("Sudden level change detected",
		zap.Float64("before", avgFirst),
		zap.Float64("after", avgSecond),
		zap.Float64("ratio", ratio),
	)

	return &model.Anomaly{
		Kind:        model.KindSuddenLevelChange,
		Severity:    severity,
		Score:       score,
		Description: fmt.Sprintf("Sudden increase from %.1f to %.1f", avgFirst, avgSecond),
		DetectedAt:  a.now(),
		Metrics: map[string]any{
			"before_avg":  avgFirst,
			"after_avg":   avgSecond,
			"ratio":       ratio,
			"data_points": len(values),
		},
	}
}

// TimeSeriesSnapshot is the analyzer's introspection view.
type TimeSeriesSnapshot struct {
	ErrorWindow  []Point `json:"error_window"`
	VolumeWindow []Point `json:"volume_window"`
	Capacity     int     `json:"capacity"`
}

// Snapshot copies the current windows.
func (a *TimeSeriesAnalyzer) Snapshot() TimeSeriesSnapshot {
	return TimeSeriesSnapshot{
		ErrorWindow:  append([]Point(nil), a.errorWindow...),
		VolumeWindow: append([]Point(nil), a.volumeWindow...),
		Capacity:     windowCapacity,
	}
}

func appendPoint(window []Point, p Point) []Point {
	window = append(window, p)
	if len(window) > windowCapacity {
		window = window[len(window)-windowCapacity:]
	}
	return window
}

func pointValues(window []Point) []float64 {
	values := make([]float64, len(window))
	for i, p := range window {
		values[i] = p.Value
	}
	return values
}
