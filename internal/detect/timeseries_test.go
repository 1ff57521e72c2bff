package detect

import (
	"testing"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

func addErrors(a *TimeSeriesAnalyzer, errorCounts ...int) {
	for _, e := range errorCounts {
		a.Add(e, 100)
	}
}

func TestDetectIncreasingTrend(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 2, 4, 6, 8, 10, 12)

	anomalies := a.Analyze()
	trend := findKind(anomalies, model.KindIncreasingTrend)
	if trend == nil {
		t.Fatal("Expected an increasing trend anomaly")
	}
	if trend.Severity != model.SeverityHigh {
		t.Errorf("Expected high severity for a perfect linear ramp, got %s", trend.Severity)
	}

	slope := trend.Metrics["slope"].(float64)
	if slope < 1.99 || slope > 2.01 {
		t.Errorf("Expected slope ~2, got %f", slope)
	}
	r2 := trend.Metrics["r_squared"].(float64)
	if r2 < 0.99 {
		t.Errorf("Expected R^2 ~1, got %f", r2)
	}
}

func TestTrendRequiresMinimumPoints(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 2, 4, 6, 8)

	if findKind(a.Analyze(), model.KindIncreasingTrend) != nil {
		t.Error("Expected no trend with fewer than 5 points")
	}
}

func TestFlatSeriesProducesNothing(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 5, 5, 5, 5, 5, 5)

	if got := a.Analyze(); len(got) != 0 {
		t.Errorf("Expected no anomalies for a flat series, got %d", len(got))
	}
}

func TestDetectOscillation(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 100, 1, 100, 1, 100, 1)

	osc := findKind(a.Analyze(), model.KindOscillation)
	if osc == nil {
		t.Fatal("Expected an oscillation anomaly")
	}
	if osc.Severity != model.SeverityMedium {
		t.Errorf("Expected medium severity, got %s", osc.Severity)
	}

	cv := osc.Metrics["coefficient_of_variation"].(float64)
	if cv <= 0.5 {
		t.Errorf("Expected CV above 0.5, got %f", cv)
	}
}

func TestDetectSuddenLevelChange(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 10, 10, 10, 30, 30, 30)

	step := findKind(a.Analyze(), model.KindSuddenLevelChange)
	if step == nil {
		t.Fatal("Expected a sudden level change anomaly")
	}
	if step.Severity != model.SeverityMedium {
		t.Errorf("Expected medium severity at ratio 3, got %s", step.Severity)
	}

	ratio := step.Metrics["ratio"].(float64)
	if ratio < 2.99 || ratio > 3.01 {
		t.Errorf("Expected ratio 3, got %f", ratio)
	}
}

func TestSuddenChangeIgnoresDecline(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	addErrors(a, 30, 30, 30, 10, 10, 10)

	if findKind(a.Analyze(), model.KindSuddenLevelChange) != nil {
		t.Error("Expected no anomaly for a declining level")
	}
}

func TestWindowEviction(t *testing.T) {
	a := NewTimeSeriesAnalyzer(zap.NewNop())
	for i := 0; i < windowCapacity+3; i++ {
		a.Add(i, 100)
	}

	snap := a.Snapshot()
	if len(snap.ErrorWindow) != windowCapacity {
		t.Errorf("Expected window bounded at %d, got %d", windowCapacity, len(snap.ErrorWindow))
	}
	if snap.Capacity != windowCapacity {
		t.Errorf("Expected capacity %d, got %d", windowCapacity, snap.Capacity)
	}

	// Oldest points evicted: first remaining value is 3.
	if snap.ErrorWindow[0].Value != 3 {
		t.Errorf("Expected oldest surviving value 3, got %f", snap.ErrorWindow[0].Value)
	}
}
