package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/alerts"
	"github.com/Codewithaiyan/ObserveAI/internal/audit"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/health"
	"github.com/Codewithaiyan/ObserveAI/internal/logstore"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/monitor"
	"github.com/Codewithaiyan/ObserveAI/internal/rca"
)

// Prometheus collectors register once per process, so all tests share one
// metrics instance.
var testMetrics = metrics.New(zap.NewNop())

// fakeBackend answers the log store endpoints the control surface reaches.
type fakeBackend struct {
	healthStatus string
	calls        atomic.Int64
}

func (f *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		switch {
		case r.URL.Path == "/_cluster/health":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": f.healthStatus})
		case strings.HasSuffix(r.URL.Path, "/_count"):
			_ = json.NewEncoder(w).Encode(map[string]int{"count": 5000})
		case strings.HasSuffix(r.URL.Path, "/_search"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["aggs"] != nil {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"aggregations": map[string]any{
						"by_field": map[string]any{
							"buckets": []map[string]any{
								{"key": "INFO", "doc_count": 4800},
								{"key": "ERROR", "doc_count": 200},
							},
						},
					},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{
					"hits": []map[string]any{
						{"_source": map[string]any{"@timestamp": "2025-06-02T14:00:00Z", "level": "ERROR", "message": "boom"}},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestServer(t *testing.T, backend *fakeBackend) *Server {
	t.Helper()

	es := httptest.NewServer(backend.handler())
	t.Cleanup(es.Close)

	cfg := &config.Config{
		LogStoreURL:     es.URL,
		LogIndex:        "logs-*",
		ListenAddr:      "127.0.0.1",
		Port:            0,
		CheckInterval:   30 * time.Second,
		SampleWindow:    5 * time.Minute,
		BatchLimit:      500,
		BaselinePath:    filepath.Join(t.TempDir(), "baseline.json"),
		AlertSeverities: []string{"high", "critical"},
		AlertTimeout:    time.Second,
		RCATimeout:      time.Second,
		QueryTimeout:    5 * time.Second,
		TLSVerify:       true,
		MetricsEndpoint: true,
	}

	logger := zap.NewNop()
	store := logstore.New(cfg, logger, nil)
	adaptive := baseline.New(cfg.BaselinePath, logger)
	analyzer := rca.NewAnalyzer(rca.NewClient(cfg, logger), logger)
	alertMgr := alerts.NewManager(cfg, logger, nil)
	auditLog := audit.NewLogger(logger, false)
	mon := monitor.New(cfg, store, adaptive, analyzer, alertMgr, testMetrics, auditLog, logger)
	checker := health.New(store, mon.Status, logger)

	return New(cfg, mon, store, adaptive, checker, alertMgr, analyzer, testMetrics, auditLog, logger)
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["service"] != "observeai" {
		t.Errorf("Unexpected service name: %v", body["service"])
	}
	if body["version"] != Version {
		t.Errorf("Unexpected version: %v", body["version"])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	if rec := doRequest(s, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	if rec := doRequest(s, http.MethodDelete, "/api/status"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}
	if checks := body["checks"].([]any); len(checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(checks))
	}
}

func TestHealthEndpointUnhealthyStore(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "red"})

	rec := doRequest(s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	for _, key := range []string{"monitoring", "uptime_seconds", "baseline_confidence", "rca", "alerts"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Missing %q in status response", key)
		}
	}
}

func TestIncidentsEmpty(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/incidents")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(0) {
		t.Errorf("Expected empty incident list, got %v", body["count"])
	}
}

func TestIncidentByIDNotFound(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/incidents/INC-missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "RESOURCE_NOT_FOUND" {
		t.Errorf("Expected structured error code, got %v", errBody["code"])
	}
}

func TestIncidentRCANotFound(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	if rec := doRequest(s, http.MethodGet, "/api/incidents/INC-missing/rca"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestLogSearch(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/logs/search?query=boom&level=ERROR&limit=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(1) {
		t.Errorf("Expected 1 hit, got %v", body["count"])
	}
}

func TestLogErrors(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/logs/errors?minutes=30")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["minutes"] != float64(30) {
		t.Errorf("Expected minutes echoed, got %v", body["minutes"])
	}
}

func TestLogSearchBadGatewayOnStoreFailure(t *testing.T) {
	backend := &fakeBackend{healthStatus: "green"}
	s := newTestServer(t, backend)

	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer es.Close()
	s.cfg.LogStoreURL = es.URL
	s.store = logstore.New(s.cfg, zap.NewNop(), nil)

	if rec := doRequest(s, http.MethodGet, "/api/logs/search"); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestLogAggregateCaches(t *testing.T) {
	backend := &fakeBackend{healthStatus: "green"}
	s := newTestServer(t, backend)

	rec := doRequest(s, http.MethodGet, "/api/logs/aggregate?field=level")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["field"] != "level" {
		t.Errorf("Expected field echoed, got %v", body["field"])
	}
	buckets := body["buckets"].(map[string]any)
	if buckets["ERROR"] != float64(200) {
		t.Errorf("Unexpected buckets: %v", buckets)
	}

	// Second identical request is served from cache without touching the
	// store.
	before := backend.calls.Load()
	if rec := doRequest(s, http.MethodGet, "/api/logs/aggregate?field=level"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on cached read, got %d", rec.Code)
	}
	if backend.calls.Load() != before {
		t.Error("Expected cached aggregate to skip the store")
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	logs := body["logs"].(map[string]any)
	if logs["total"] != float64(5000) {
		t.Errorf("Expected store total 5000, got %v", logs["total"])
	}
	if logs["window"] != "1h" {
		t.Errorf("Expected 1h window, got %v", logs["window"])
	}
	if body["internal"] == nil {
		t.Error("Expected internal counters in stats")
	}
}

func TestBaselineEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodGet, "/api/ml/baseline")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/ml/hourly-patterns")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(0) {
		t.Errorf("Expected no learned patterns yet, got %v", body["count"])
	}
}

func TestCheckAnomalyValidation(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing params", "/api/ml/check-anomaly", http.StatusBadRequest},
		{"bad error rate", "/api/ml/check-anomaly?error_rate=abc&log_volume=100", http.StatusBadRequest},
		{"bad volume", "/api/ml/check-anomaly?error_rate=5&log_volume=many", http.StatusBadRequest},
		{"valid probe", "/api/ml/check-anomaly?error_rate=5&log_volume=100", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doRequest(s, http.MethodPost, tt.target); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCheckAnomalyAbstainsUntrained(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodPost, "/api/ml/check-anomaly?error_rate=500&log_volume=100")
	body := decodeBody(t, rec)
	if body["is_anomalous"] != false {
		t.Error("Expected untrained baseline to abstain")
	}
}

func TestAdvancedEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	for _, target := range []string{
		"/api/advanced/timeseries",
		"/api/advanced/patterns",
		"/api/advanced/correlations",
	} {
		if rec := doRequest(s, http.MethodGet, target); rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", target, rec.Code)
		}
	}
}

func TestAnalyzeTriggersCycle(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodPost, "/api/analyze")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "started" {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodPost, "/api/alerts/test")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if !strings.HasPrefix(body["incident_id"].(string), "INC-TEST-") {
		t.Errorf("Unexpected incident id: %v", body["incident_id"])
	}
	// No sinks configured in tests.
	if body["sent"] != false {
		t.Errorf("Expected sent=false without sinks, got %v", body["sent"])
	}

	for _, target := range []string{"/api/alerts/status", "/api/alerts/history", "/api/alerts/config"} {
		if rec := doRequest(s, http.MethodGet, target); rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", target, rec.Code)
		}
	}
}

func TestAlertmanagerWebhook(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	rec := doRequest(s, http.MethodPost, "/api/webhook/alertmanager")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "received" {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	s := newTestServer(t, &fakeBackend{healthStatus: "green"})

	if rec := doRequest(s, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name   string
		target string
		def    int
		want   int
	}{
		{"missing", "/?x=", 10, 10},
		{"valid", "/?limit=25", 10, 25},
		{"malformed", "/?limit=abc", 10, 10},
		{"negative", "/?limit=-5", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if got := queryInt(req, "limit", tt.def); got != tt.want {
				t.Errorf("queryInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(50, 500); got != 50 {
		t.Errorf("Expected 50, got %d", got)
	}
	if got := clampLimit(9999, 500); got != 500 {
		t.Errorf("Expected clamp to 500, got %d", got)
	}
	if got := clampLimit(0, 500); got != 500 {
		t.Errorf("Expected default to max, got %d", got)
	}
}
