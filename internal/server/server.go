// Package server exposes the agent's control surface: read-only JSON
// endpoints over monitoring state, incidents, the learned baseline and the
// backing log store, plus a few POST operations (forced cycle, alert test).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/alerts"
	"github.com/Codewithaiyan/ObserveAI/internal/audit"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/cache"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	agenterrors "github.com/Codewithaiyan/ObserveAI/internal/errors"
	"github.com/Codewithaiyan/ObserveAI/internal/health"
	"github.com/Codewithaiyan/ObserveAI/internal/logstore"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/monitor"
	"github.com/Codewithaiyan/ObserveAI/internal/rca"
)

// Version is the agent version reported on the identity endpoint.
const Version = "1.0.0"

// Server is the control surface HTTP server.
type Server struct {
	cfg      *config.Config
	monitor  *monitor.Monitor
	store    *logstore.Client
	baseline *baseline.AdaptiveBaseline
	checker  *health.Checker
	alerts   *alerts.Manager
	analyzer *rca.Analyzer
	metrics  *metrics.Metrics
	cache    *cache.Cache
	auditLog *audit.Logger
	logger   *zap.Logger

	httpServer *http.Server
}

// New creates the control surface server and wires its routes.
func New(
	cfg *config.Config,
	mon *monitor.Monitor,
	store *logstore.Client,
	adaptive *baseline.AdaptiveBaseline,
	checker *health.Checker,
	alertMgr *alerts.Manager,
	analyzer *rca.Analyzer,
	m *metrics.Metrics,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		monitor:  mon,
		store:    store,
		baseline: adaptive,
		checker:  checker,
		alerts:   alertMgr,
		analyzer: analyzer,
		metrics:  m,
		cache:    cache.New(cache.DefaultConfig()),
		auditLog: auditLog,
		logger:   logger.Named("server"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/incidents/{id}", s.handleIncidentByID)
	mux.HandleFunc("GET /api/incidents/{id}/rca", s.handleIncidentRCA)

	mux.HandleFunc("GET /api/logs/search", s.handleLogSearch)
	mux.HandleFunc("GET /api/logs/errors", s.handleLogErrors)
	mux.HandleFunc("GET /api/logs/aggregate", s.handleLogAggregate)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/ml/baseline", s.handleBaseline)
	mux.HandleFunc("GET /api/ml/hourly-patterns", s.handleHourlyPatterns)
	mux.HandleFunc("POST /api/ml/check-anomaly", s.handleCheckAnomaly)

	mux.HandleFunc("GET /api/advanced/timeseries", s.handleTimeSeries)
	mux.HandleFunc("GET /api/advanced/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/advanced/correlations", s.handleCorrelations)

	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/alerts/test", s.handleAlertTest)
	mux.HandleFunc("GET /api/alerts/status", s.handleAlertStatus)
	mux.HandleFunc("GET /api/alerts/history", s.handleAlertHistory)
	mux.HandleFunc("GET /api/alerts/config", s.handleAlertConfig)
	mux.HandleFunc("POST /api/webhook/alertmanager", s.handleAlertmanagerWebhook)

	if cfg.MetricsEndpoint {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port),
		Handler:           s.withAudit(mux),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting control surface",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("metrics_enabled", s.cfg.MetricsEndpoint),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control surface error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down control surface")
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response status for audit logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withAudit records every request in the audit trail.
func (s *Server) withAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.auditLog.LogAPIRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError translates an error into its HTTP status and structured body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := agenterrors.HTTPStatus(err)

	var body any
	if se, ok := err.(*agenterrors.StructuredError); ok {
		body = map[string]any{"error": se}
	} else {
		body = map[string]any{"error": map[string]any{"message": err.Error()}}
	}

	if status >= 500 {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, body)
}
