package model

import (
	"strings"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("Expected critical >= high")
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("Expected high >= high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("Expected medium < high")
	}
	if Severity("bogus").AtLeast(SeverityLow) {
		t.Error("Expected unknown severity to rank below low")
	}
}

func TestSeverityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.8, SeverityCritical},
		{0.7, SeverityHigh},
		{0.6, SeverityHigh},
		{0.5, SeverityMedium},
		{0.4, SeverityMedium},
		{0.2, SeverityLow},
		{0, SeverityLow},
	}

	for _, tt := range tests {
		if got := SeverityFromScore(tt.score); got != tt.want {
			t.Errorf("SeverityFromScore(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	anomalies := []Anomaly{
		{Severity: SeverityMedium},
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
	}
	if got := MaxSeverity(anomalies); got != SeverityCritical {
		t.Errorf("Expected critical, got %s", got)
	}
	if got := MaxSeverity(nil); got != SeverityLow {
		t.Errorf("Expected low for empty input, got %s", got)
	}
}

func TestServiceNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		log  LogRecord
		want string
	}{
		{"explicit service", LogRecord{Service: "payments"}, "payments"},
		{
			"kubernetes app label",
			LogRecord{Kubernetes: &KubernetesMeta{Labels: map[string]string{"app": "frontend"}}},
			"frontend",
		},
		{"no service info", LogRecord{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.log.ServiceName(); got != tt.want {
				t.Errorf("ServiceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsError(t *testing.T) {
	tests := []struct {
		name string
		log  LogRecord
		want bool
	}{
		{"error level", LogRecord{Level: "ERROR"}, true},
		{"error marker in message", LogRecord{Level: "INFO", Message: "unexpected error occurred"}, true},
		{"plain info", LogRecord{Level: "INFO", Message: "request handled"}, false},
		{"warn level", LogRecord{Level: "WARN", Message: "slow response"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.log.IsError(); got != tt.want {
				t.Errorf("IsError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeParsing(t *testing.T) {
	r := LogRecord{Timestamp: "2025-06-02T14:00:00.123Z"}
	ts, ok := r.Time()
	if !ok {
		t.Fatal("Expected timestamp to parse")
	}
	if ts.Hour() != 14 {
		t.Errorf("Expected hour 14, got %d", ts.Hour())
	}

	if _, ok := (LogRecord{}).Time(); ok {
		t.Error("Expected empty timestamp to fail")
	}
	if _, ok := (LogRecord{Timestamp: "yesterday"}).Time(); ok {
		t.Error("Expected malformed timestamp to fail")
	}
}

func TestNewSampleLogTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	r := LogRecord{
		Timestamp: "2025-06-02T14:00:00Z",
		Level:     "ERROR",
		Message:   long,
		Kubernetes: &KubernetesMeta{
			Namespace: "prod",
			Pod:       PodMeta{Name: "payments-7f9"},
		},
	}

	s := NewSampleLog(r)
	if len(s.Message) != SampleMessageLimit {
		t.Errorf("Expected message truncated to %d, got %d", SampleMessageLimit, len(s.Message))
	}
	if s.Pod != "payments-7f9" || s.Namespace != "prod" {
		t.Errorf("Expected pod metadata preserved, got %+v", s)
	}
}

func TestIncidentErrorRate(t *testing.T) {
	i := Incident{LogCount: 200, ErrorCount: 50}
	if got := i.ErrorRate(); got != 0.25 {
		t.Errorf("Expected 0.25, got %f", got)
	}
	if got := (Incident{}).ErrorRate(); got != 0 {
		t.Errorf("Expected zero-safe rate, got %f", got)
	}
}
