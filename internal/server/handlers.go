package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/alerts"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/errors"
	"github.com/Codewithaiyan/ObserveAI/internal/health"
	"github.com/Codewithaiyan/ObserveAI/internal/logstore"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// handleRoot reports the agent identity and uptime.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":        "observeai",
		"version":        Version,
		"status":         string(s.monitor.Status()),
		"uptime_seconds": s.monitor.Uptime().Seconds(),
	})
}

// handleHealth runs all health checks. Anything short of fully healthy
// answers 503 so load balancers stop routing to a degraded agent.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, checks := s.checker.CheckAll(r.Context())

	code := http.StatusOK
	if status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]any{
		"status":    string(status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"checks":    checks,
	})
}

// handleStatus returns the monitoring state plus RCA and alert statistics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"monitoring":          s.monitor.State(),
		"uptime_seconds":      s.monitor.Uptime().Seconds(),
		"baseline_confidence": s.baseline.Confidence(),
		"rca":                 s.analyzer.Statistics(),
		"alerts":              s.alerts.Statistics(),
	})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	incidents := s.monitor.RecentIncidents(limit)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(incidents),
		"incidents": incidents,
	})
}

func (s *Server) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	incident, ok := s.monitor.IncidentByID(id)
	if !ok {
		s.writeError(w, errors.NewNotFound("incident", id))
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

func (s *Server) handleIncidentRCA(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	incident, ok := s.monitor.IncidentByID(id)
	if !ok {
		s.writeError(w, errors.NewNotFound("incident", id))
		return
	}

	if incident.RCA == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"incident_id": id,
			"has_rca":     false,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": id,
		"has_rca":     true,
		"rca":         incident.RCA,
	})
}

// handleLogSearch searches the last hour of logs with optional message,
// level and service filters.
func (s *Server) handleLogSearch(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(queryInt(r, "limit", 100), s.cfg.BatchLimit)

	clauses := []map[string]any{logstore.SinceQuery("1h")}
	if q := r.URL.Query().Get("query"); q != "" {
		clauses = append(clauses, logstore.MatchQuery("message", q))
	}
	if level := r.URL.Query().Get("level"); level != "" {
		clauses = append(clauses, logstore.MatchQuery("level", level))
	}
	if service := r.URL.Query().Get("service"); service != "" {
		clauses = append(clauses, logstore.MatchQuery("service", service))
	}

	logs, err := s.store.Search(r.Context(), logstore.BoolMust(clauses...), limit, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(logs),
		"logs":  logs,
	})
}

// handleLogErrors returns recent error-level logs.
func (s *Server) handleLogErrors(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 15)
	limit := clampLimit(queryInt(r, "limit", 100), s.cfg.BatchLimit)

	query := logstore.BoolMust(
		logstore.SinceMinutesQuery(minutes),
		logstore.MatchQuery("level", "ERROR"),
	)

	logs, err := s.store.Search(r.Context(), query, limit, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"minutes": minutes,
		"count":   len(logs),
		"logs":    logs,
	})
}

// handleLogAggregate groups logs by a field. Results are cached briefly
// since aggregations are the most expensive store queries.
func (s *Server) handleLogAggregate(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		field = "level"
	}
	size := queryInt(r, "size", 10)

	cacheKey := fmt.Sprintf("%s:%d", field, size)
	if cached, ok := s.cache.Get("aggregate", cacheKey); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	buckets, err := s.store.GroupBy(r.Context(), field, logstore.SinceQuery("1h"), size)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := map[string]any{
		"field":   field,
		"buckets": buckets,
	}
	s.cache.Set("aggregate", cacheKey, result)
	s.writeJSON(w, http.StatusOK, result)
}

// handleStats combines monitoring state, internal counters and store-wide
// log totals into one snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.Get("stats", "summary"); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	total, err := s.store.Count(r.Context(), logstore.SinceQuery("1h"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	byLevel, err := s.store.GroupBy(r.Context(), "level", logstore.SinceQuery("1h"), 10)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := map[string]any{
		"monitoring": s.monitor.State(),
		"internal":   s.metrics.GetStats(),
		"logs": map[string]any{
			"window":   "1h",
			"total":    total,
			"by_level": byLevel,
		},
	}
	s.cache.Set("stats", "summary", result)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.baseline.Summarize(time.Now().UTC()))
}

func (s *Server) handleHourlyPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := s.baseline.HourlyPatterns()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(patterns),
		"patterns": patterns,
	})
}

// handleCheckAnomaly probes the learned baseline with a hypothetical
// observation. The probe is read-only and never trains the baseline.
func (s *Server) handleCheckAnomaly(w http.ResponseWriter, r *http.Request) {
	errorRate, err := strconv.ParseFloat(r.URL.Query().Get("error_rate"), 64)
	if err != nil {
		s.writeError(w, errors.NewInvalidInput("error_rate must be a number"))
		return
	}
	logVolume, err := strconv.Atoi(r.URL.Query().Get("log_volume"))
	if err != nil {
		s.writeError(w, errors.NewInvalidInput("log_volume must be an integer"))
		return
	}

	anomalous, evidence := s.baseline.IsAnomalous(errorRate, logVolume, time.Now().UTC(), baseline.DefaultSensitivity)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"is_anomalous": anomalous,
		"evidence":     evidence,
	})
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.TimeSeriesSnapshot())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.RuleSnapshot())
}

// handleCorrelations surfaces the correlation-engine anomalies attached to
// recent incidents.
func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	correlationKinds := map[model.AnomalyKind]struct{}{
		model.KindEndpointErrorCorrelation: {},
		model.KindTimeBasedErrorPattern:    {},
		model.KindErrorCascade:             {},
		model.KindErrorClustering:          {},
	}

	var found []model.Anomaly
	for _, incident := range s.monitor.RecentIncidents(0) {
		for _, a := range incident.Anomalies {
			if _, ok := correlationKinds[a.Kind]; ok {
				found = append(found, a)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(found),
		"correlations": found,
	})
}

// handleAnalyze triggers one out-of-band monitoring cycle.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.monitor.ForceCycle()
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "started",
		"message": "monitoring cycle triggered",
	})
}

// handleAlertTest sends a synthetic incident through the real alert path.
func (s *Server) handleAlertTest(w http.ResponseWriter, r *http.Request) {
	incident := alerts.TestIncident()
	sent := s.alerts.SendIncidentAlert(r.Context(), incident)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": incident.ID,
		"sent":        sent,
	})
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alerts.Statistics())
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	history := s.alerts.RecentAlerts(limit)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(history),
		"history": history,
	})
}

func (s *Server) handleAlertConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alerts.Config())
}

// handleAlertmanagerWebhook acknowledges inbound Alertmanager payloads.
// External alerts are accepted but not folded into incident state.
func (s *Server) handleAlertmanagerWebhook(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "received"})
}

// queryInt parses an integer query parameter, falling back on the default
// for missing or malformed values.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
