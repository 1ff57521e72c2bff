package baseline

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// Monday 10:00 UTC, so hour and weekday buckets are deterministic.
var monday10 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func newTestBaseline(t *testing.T) *AdaptiveBaseline {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "baseline.json"), zap.NewNop())
}

func TestWelfordMatchesNaiveStatistics(t *testing.T) {
	values := []float64{10, 12, 14, 16, 18}

	s := Stat{}
	for _, v := range values {
		s = welford(s, v, 0)
	}

	// Naive population mean and stddev.
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))

	if math.Abs(s.Mean-mean) > 1e-9 {
		t.Errorf("Expected mean %.6f, got %.6f", mean, s.Mean)
	}
	if math.Abs(s.Std-std) > 1e-9 {
		t.Errorf("Expected std %.6f, got %.6f", std, s.Std)
	}
	if s.Samples != len(values) {
		t.Errorf("Expected %d samples, got %d", len(values), s.Samples)
	}
}

func TestWelfordStdFloor(t *testing.T) {
	s := Stat{}
	for i := 0; i < 10; i++ {
		s = welford(s, 5.0, 0.1)
	}

	// Identical observations have zero variance, clamped to the floor.
	if s.Std != 0.1 {
		t.Errorf("Expected floored std 0.1, got %f", s.Std)
	}
}

func TestIsAnomalousAbstainsWithoutData(t *testing.T) {
	b := newTestBaseline(t)

	anomalous, evidence := b.IsAnomalous(100, 1000, monday10, DefaultSensitivity)
	if anomalous {
		t.Error("Expected fresh baseline to abstain")
	}
	if evidence != nil {
		t.Error("Expected nil evidence when abstaining")
	}
}

func TestIsAnomalousDetectsErrorRateSpike(t *testing.T) {
	b := newTestBaseline(t)

	for i := 0; i < 10; i++ {
		b.Update(5, 100, monday10.Add(time.Duration(i)*time.Minute))
	}

	anomalous, evidence := b.IsAnomalous(50, 100, monday10, DefaultSensitivity)
	if !anomalous {
		t.Fatal("Expected a 10x error rate to be anomalous")
	}
	if !evidence.ErrorRate.IsAnomalous {
		t.Error("Expected error rate evidence to be flagged")
	}
	if evidence.ErrorRate.ZScore <= DefaultSensitivity {
		t.Errorf("Expected z-score above sensitivity, got %f", evidence.ErrorRate.ZScore)
	}
	if evidence.BaselineSamples != 10 {
		t.Errorf("Expected 10 baseline samples, got %d", evidence.BaselineSamples)
	}
}

func TestIsAnomalousAcceptsNormalValues(t *testing.T) {
	b := newTestBaseline(t)

	rates := []float64{4, 5, 6, 5, 4, 6, 5, 5, 4, 6}
	for i, r := range rates {
		b.Update(r, 100, monday10.Add(time.Duration(i)*time.Minute))
	}

	anomalous, _ := b.IsAnomalous(5, 100, monday10, DefaultSensitivity)
	if anomalous {
		t.Error("Expected baseline-consistent values to pass")
	}
}

func TestExpectedFallsBackToOverall(t *testing.T) {
	b := newTestBaseline(t)

	// 5 samples: below the 10-sample hourly and weekday thresholds.
	for i := 0; i < 5; i++ {
		b.Update(5, 100, monday10)
	}

	stats := b.Expected(monday10)
	if stats.ErrorRate.Samples != 5 {
		t.Errorf("Expected overall fallback with 5 samples, got %d", stats.ErrorRate.Samples)
	}
}

func TestExpectedPrefersHourlyBucket(t *testing.T) {
	b := newTestBaseline(t)

	// Hour 10 learns one distribution, hour 22 a very different one.
	for i := 0; i < 10; i++ {
		b.Update(5, 100, monday10)
	}
	evening := monday10.Add(12 * time.Hour)
	for i := 0; i < 10; i++ {
		b.Update(50, 1000, evening)
	}

	if got := b.Expected(monday10).ErrorRate.Mean; math.Abs(got-5) > 1e-9 {
		t.Errorf("Expected hour-10 mean 5, got %f", got)
	}
	if got := b.Expected(evening).ErrorRate.Mean; math.Abs(got-50) > 1e-9 {
		t.Errorf("Expected hour-22 mean 50, got %f", got)
	}
}

func TestConfidenceGrowsWithSamples(t *testing.T) {
	b := newTestBaseline(t)

	if c := b.Confidence(); c != 0 {
		t.Errorf("Expected zero confidence before learning, got %f", c)
	}

	for i := 0; i < 50; i++ {
		b.Update(5, 100, monday10.Add(time.Duration(i)*time.Minute))
	}
	if c := b.Confidence(); math.Abs(c-0.5) > 1e-9 {
		t.Errorf("Expected confidence 0.5 after 50 samples, got %f", c)
	}

	for i := 0; i < 100; i++ {
		b.Update(5, 100, monday10.Add(time.Duration(i)*time.Minute))
	}
	if c := b.Confidence(); c != 1.0 {
		t.Errorf("Expected confidence capped at 1.0, got %f", c)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")

	b := New(path, zap.NewNop())
	for i := 0; i < 10; i++ {
		b.Update(5, 100, monday10.Add(time.Duration(i)*time.Minute))
	}

	reloaded := New(path, zap.NewNop())
	summary := reloaded.Summarize(monday10)

	if summary.TotalSamples != 10 {
		t.Errorf("Expected 10 samples after reload, got %d", summary.TotalSamples)
	}
	if math.Abs(summary.Overall.ErrorRate.Mean-5) > 1e-9 {
		t.Errorf("Expected reloaded mean 5, got %f", summary.Overall.ErrorRate.Mean)
	}
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "does-not-exist.json"), zap.NewNop())

	if got := b.Summarize(monday10).TotalSamples; got != 0 {
		t.Errorf("Expected fresh baseline, got %d samples", got)
	}
}

func TestSummarizeCountsLearnedBuckets(t *testing.T) {
	b := newTestBaseline(t)

	for i := 0; i < 12; i++ {
		b.Update(5, 100, monday10)
	}

	summary := b.Summarize(monday10)
	if summary.HoursWithData != 1 {
		t.Errorf("Expected 1 learned hour, got %d", summary.HoursWithData)
	}
	if summary.DaysWithData != 1 {
		t.Errorf("Expected 1 learned day, got %d", summary.DaysWithData)
	}
	if summary.HistorySize != 12 {
		t.Errorf("Expected history size 12, got %d", summary.HistorySize)
	}
}

func TestHourlyPatternsRequireFiveSamples(t *testing.T) {
	b := newTestBaseline(t)

	for i := 0; i < 4; i++ {
		b.Update(5, 100, monday10)
	}
	if got := b.HourlyPatterns(); len(got) != 0 {
		t.Errorf("Expected no patterns below 5 samples, got %d", len(got))
	}

	b.Update(5, 100, monday10)
	patterns := b.HourlyPatterns()
	if len(patterns) != 1 {
		t.Fatalf("Expected one pattern, got %d", len(patterns))
	}
	if patterns[0].Hour != 10 {
		t.Errorf("Expected hour 10, got %d", patterns[0].Hour)
	}
}

func TestRecentSamplesNewestLast(t *testing.T) {
	b := newTestBaseline(t)

	for i := 0; i < 5; i++ {
		b.Update(float64(i), 100, monday10.Add(time.Duration(i)*time.Minute))
	}

	samples := b.RecentSamples(3)
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	if samples[2].ErrorRate != 4 {
		t.Errorf("Expected newest sample last, got %f", samples[2].ErrorRate)
	}
}

func TestWeekdayIndexMondayFirst(t *testing.T) {
	if got := weekdayIndex(monday10); got != 0 {
		t.Errorf("Expected Monday index 0, got %d", got)
	}
	sunday := monday10.AddDate(0, 0, 6)
	if got := weekdayIndex(sunday); got != 6 {
		t.Errorf("Expected Sunday index 6, got %d", got)
	}
}
