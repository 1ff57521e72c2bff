package rca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

const sampleResponse = `## Root Cause
The payment service lost its database connection pool after a failover.

## Impact
Checkout requests fail for all users.

## Immediate Actions
1. Restart the payment service pods
2. Verify database failover completed
3. Monitor connection pool metrics

## Confidence
High`

func testIncident() *model.Incident {
	return &model.Incident{
		ID:               "INC-1700000000",
		Title:            "ML-Detected Incident: error_spike",
		Severity:         model.SeverityHigh,
		ErrorCount:       42,
		AffectedServices: []string{"payments"},
		SampleLogs: []model.SampleLog{
			{Level: "ERROR", Message: "connection refused"},
		},
		Anomalies: []model.Anomaly{
			{Kind: model.KindErrorSpike, Description: "Error rate spiked to 42 (baseline: 3.0)"},
		},
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := &config.Config{
		LLMAPIKey:  "sk-test-key",
		LLMBaseURL: baseURL,
		LLMModel:   "test-model",
		RCATimeout: 5 * time.Second,
	}
	return NewClient(cfg, zap.NewNop())
}

func TestParseResponseSections(t *testing.T) {
	analysis := parseResponse(sampleResponse)

	if !strings.Contains(analysis.RootCause, "database connection pool") {
		t.Errorf("Unexpected root cause: %q", analysis.RootCause)
	}
	if !strings.Contains(analysis.Impact, "Checkout requests fail") {
		t.Errorf("Unexpected impact: %q", analysis.Impact)
	}
	if len(analysis.ImmediateActions) != 3 {
		t.Fatalf("Expected 3 actions, got %d: %v", len(analysis.ImmediateActions), analysis.ImmediateActions)
	}
	if analysis.ImmediateActions[0] != "Restart the payment service pods" {
		t.Errorf("Unexpected first action: %q", analysis.ImmediateActions[0])
	}
	if analysis.Confidence != "High" {
		t.Errorf("Expected High confidence, got %q", analysis.Confidence)
	}
	if analysis.FullAnalysis != sampleResponse {
		t.Error("Expected full analysis preserved verbatim")
	}
}

func TestParseResponseFallbacks(t *testing.T) {
	freeform := "The system looks overloaded but no clear section structure here."
	analysis := parseResponse(freeform)

	if analysis.RootCause != freeform {
		t.Errorf("Expected raw text as root cause fallback, got %q", analysis.RootCause)
	}
	if len(analysis.ImmediateActions) != 3 {
		t.Errorf("Expected default actions, got %v", analysis.ImmediateActions)
	}
	if analysis.Confidence != "Medium" {
		t.Errorf("Expected default Medium confidence, got %q", analysis.Confidence)
	}
}

func TestParseResponseTruncatesLongFallback(t *testing.T) {
	long := strings.Repeat("x", 500)
	analysis := parseResponse(long)

	if len(analysis.RootCause) != 200 {
		t.Errorf("Expected fallback root cause truncated to 200 chars, got %d", len(analysis.RootCause))
	}
}

func TestParseResponseIgnoresUnnumberedActionProse(t *testing.T) {
	text := `## Immediate Actions
Consider the following steps carefully.
1. Roll back the deploy
- Check upstream DNS
`
	analysis := parseResponse(text)

	for _, action := range analysis.ImmediateActions {
		if strings.Contains(action, "Consider the following") {
			t.Errorf("Prose leaked into actions: %v", analysis.ImmediateActions)
		}
	}
	if analysis.ImmediateActions[0] != "Roll back the deploy" {
		t.Errorf("Unexpected first action: %q", analysis.ImmediateActions[0])
	}
}

func TestAnalyzeIncident(t *testing.T) {
	var gotPath, gotAPIKey, gotVersion string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": sampleResponse}},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	analysis, err := c.AnalyzeIncident(context.Background(), testIncident())
	if err != nil {
		t.Fatalf("AnalyzeIncident() failed: %v", err)
	}

	if gotPath != "/v1/messages" {
		t.Errorf("Expected /v1/messages, got %s", gotPath)
	}
	if gotAPIKey != "sk-test-key" {
		t.Errorf("Expected API key header, got %q", gotAPIKey)
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("Expected version header, got %q", gotVersion)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("Expected model test-model, got %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(2000) {
		t.Errorf("Expected max_tokens 2000, got %v", gotBody["max_tokens"])
	}

	if analysis.IncidentID != "INC-1700000000" {
		t.Errorf("Expected incident id attached, got %q", analysis.IncidentID)
	}
	if analysis.Confidence != "High" {
		t.Errorf("Expected High confidence, got %q", analysis.Confidence)
	}
}

func TestAnalyzeIncidentServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.AnalyzeIncident(context.Background(), testIncident()); err == nil {
		t.Fatal("Expected an error on HTTP 503")
	}
}

func TestAnalyzeIncidentDisabledWithoutKey(t *testing.T) {
	cfg := &config.Config{RCATimeout: time.Second}
	c := NewClient(cfg, zap.NewNop())

	if c.Enabled() {
		t.Error("Expected client disabled without an API key")
	}
	if _, err := c.AnalyzeIncident(context.Background(), testIncident()); err == nil {
		t.Error("Expected an error when disabled")
	}
}

func TestBuildPromptContents(t *testing.T) {
	prompt := buildPrompt(testIncident())

	for _, want := range []string{
		"You are a DevOps expert",
		"ML-Detected Incident: error_spike",
		"Errors: 42",
		"payments",
		"connection refused",
		"## Root Cause",
		"## Confidence",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}
