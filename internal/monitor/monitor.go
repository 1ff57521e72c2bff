// Package monitor drives the agent: a single scheduler goroutine that
// fetches recent logs, runs the detector stack, fuses anomalies into
// incidents and fans out RCA and alerts without blocking the next cycle.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/alerts"
	"github.com/Codewithaiyan/ObserveAI/internal/audit"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/detect"
	"github.com/Codewithaiyan/ObserveAI/internal/logstore"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
	"github.com/Codewithaiyan/ObserveAI/internal/rca"
	"github.com/Codewithaiyan/ObserveAI/internal/tracing"
)

// maxIncidents bounds the in-memory incident ring.
const maxIncidents = 100

// Monitor owns the monitoring loop and all shared agent state.
type Monitor struct {
	cfg         *config.Config
	store       *logstore.Client
	baseline    *baseline.AdaptiveBaseline
	rules       *detect.RuleDetector
	timeseries  *detect.TimeSeriesAnalyzer
	correlation *detect.CorrelationEngine
	analyzer    *rca.Analyzer
	alerts      *alerts.Manager
	metrics     *metrics.Metrics
	auditLog    *audit.Logger
	logger      *zap.Logger

	// cycleMu serializes cycles so a forced cycle never overlaps the
	// scheduler. Detector histories are only touched under it.
	cycleMu    sync.Mutex
	cycleCount uint64

	// mu guards state and incidents: single writer, many HTTP readers.
	mu        sync.RWMutex
	state     model.MonitoringState
	incidents []model.Incident

	startedAt time.Time
	now       func() time.Time
}

// New wires a monitor from its collaborators.
func New(
	cfg *config.Config,
	store *logstore.Client,
	adaptive *baseline.AdaptiveBaseline,
	analyzer *rca.Analyzer,
	alertMgr *alerts.Manager,
	m *metrics.Metrics,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Monitor {
	log := logger.Named("monitor")
	return &Monitor{
		cfg:         cfg,
		store:       store,
		baseline:    adaptive,
		rules:       detect.NewRuleDetector(logger),
		timeseries:  detect.NewTimeSeriesAnalyzer(logger),
		correlation: detect.NewCorrelationEngine(logger),
		analyzer:    analyzer,
		alerts:      alertMgr,
		metrics:     m,
		auditLog:    auditLog,
		logger:      log,
		state: model.MonitoringState{
			LastCheck: time.Now().UTC(),
			Status:    model.MonitorInitializing,
		},
		startedAt: time.Now().UTC(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the monitoring loop until the context is cancelled. Cycle
// errors are absorbed: the loop logs, marks the state and resumes on the
// next tick.
func (m *Monitor) Start(ctx context.Context) {
	m.setStatus(model.MonitorHealthy)
	m.logger.Info("Starting log monitor", zap.Duration("interval", m.cfg.CheckInterval))

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		m.runCycle(ctx)

		select {
		case <-ctx.Done():
			m.setStatus(model.MonitorStopped)
			m.logger.Info("Log monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// ForceCycle runs one cycle in the background, serialized against the
// scheduler's own cycles.
func (m *Monitor) ForceCycle() {
	go m.runCycle(context.Background())
}

// runCycle performs one full monitoring cycle.
func (m *Monitor) runCycle(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	checkStart := m.now()
	ctx, span := tracing.CycleSpan(ctx)
	defer span.End()

	m.cycleCount++
	m.logger.Debug("Checking logs for anomalies", zap.Uint64("cycle", m.cycleCount))

	if !m.store.Healthy(ctx) {
		m.logger.Error("Log store unhealthy, skipping cycle")
		m.setStatus(model.MonitorDegraded)
		m.metrics.RecordCycle("skipped", time.Since(start))
		m.auditLog.LogCycle(ctx, false, time.Since(start), 0, 0, nil)
		return
	}

	windowMinutes := int(m.cfg.SampleWindow.Minutes())
	logs, err := m.store.Search(ctx, logstore.SinceMinutesQuery(windowMinutes), m.cfg.BatchLimit, nil)
	if err != nil {
		m.logger.Error("Error in monitoring loop", zap.Error(err))
		m.setStatus(model.MonitorError)
		m.metrics.RecordCycle("failed", time.Since(start))
		m.auditLog.LogCycle(ctx, false, time.Since(start), 0, 0, err)
		return
	}

	m.mu.Lock()
	m.state.LogsProcessed += int64(len(logs))
	m.mu.Unlock()
	m.metrics.RecordLogsProcessed(len(logs))

	if len(logs) == 0 {
		m.logger.Debug("No recent logs found")
		m.finishCycle(ctx, checkStart, start, 0, 0)
		return
	}

	m.logger.Info("Processing logs", zap.Int("count", len(logs)))

	errorCount := 0
	for _, log := range logs {
		if log.IsError() {
			errorCount++
		}
	}

	anomalies, methods := m.detect(logs, errorCount, checkStart)
	tracing.SetAnomalyCount(span, len(anomalies))

	m.mu.Lock()
	m.state.AnomaliesDetected += int64(len(anomalies))
	m.mu.Unlock()
	for _, a := range anomalies {
		m.metrics.RecordAnomaly(string(a.Kind))
	}

	var critical []model.Anomaly
	for _, a := range anomalies {
		if a.Severity.AtLeast(model.SeverityHigh) {
			critical = append(critical, a)
		}
	}

	if len(critical) > 0 {
		incident := m.synthesizeIncident(logs, critical, methods, checkStart)

		m.mu.Lock()
		m.incidents = append(m.incidents, *incident)
		if len(m.incidents) > maxIncidents {
			m.incidents = m.incidents[len(m.incidents)-maxIncidents:]
		}
		m.state.IncidentsCreated++
		m.mu.Unlock()

		m.metrics.RecordIncident(string(incident.Severity))
		m.auditLog.LogIncident(ctx, incident.ID, string(incident.Severity), len(critical))
		m.logger.Warn("Incident created",
			zap.String("incident_id", incident.ID),
			zap.String("severity", string(incident.Severity)),
			zap.Int("anomaly_count", len(critical)),
		)

		go m.enrichAndAlert(*incident)
	}

	m.finishCycle(ctx, checkStart, start, len(logs), len(anomalies))
}

// detect runs the detector stack on its configured cadences and returns the
// fused anomaly set plus the list of methods that ran.
func (m *Monitor) detect(logs []model.LogRecord, errorCount int, now time.Time) ([]model.Anomaly, []string) {
	var anomalies []model.Anomaly
	methods := []string{"rules", "adaptive_baseline"}

	// Baseline commits the observation first so the score reflects it.
	m.baseline.Update(float64(errorCount), len(logs), now)
	if anomalous, evidence := m.baseline.IsAnomalous(float64(errorCount), len(logs), now, baseline.DefaultSensitivity); anomalous {
		anomalies = append(anomalies, m.baselineAnomaly(evidence, now))
	}

	m.timeseries.Add(errorCount, len(logs))

	anomalies = append(anomalies, m.rules.Analyze(logs)...)

	if m.cycleCount%3 == 0 {
		methods = append(methods, "timeseries")
		anomalies = append(anomalies, m.timeseries.Analyze()...)
	}
	if m.cycleCount%2 == 0 {
		methods = append(methods, "correlation")
		anomalies = append(anomalies, m.correlation.Analyze(logs)...)
	}

	return anomalies, methods
}

// enrichAndAlert runs RCA and alert fan-out for a fresh incident. Either
// step may fail without affecting the other or the incident itself.
func (m *Monitor) enrichAndAlert(incident model.Incident) {
	if m.analyzer.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RCATimeout)
		analysis, err := m.analyzer.AnalyzeIncident(ctx, &incident)
		cancel()

		if err != nil {
			m.metrics.RecordRCA(false)
			m.logger.Error("RCA failed",
				zap.String("incident_id", incident.ID),
				zap.Error(err),
			)
		} else if analysis != nil {
			m.metrics.RecordRCA(true)
			incident.RCA = analysis
			incident.RootCause = analysis.RootCause
			incident.Recommendations = analysis.ImmediateActions
			m.attachRCA(incident.ID, analysis)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AlertTimeout*2)
	defer cancel()
	m.alerts.SendIncidentAlert(ctx, &incident)
}

// attachRCA stores the analysis on the ring copy of the incident.
func (m *Monitor) attachRCA(incidentID string, analysis *model.RCAAnalysis) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.incidents {
		if m.incidents[i].ID == incidentID {
			m.incidents[i].RCA = analysis
			m.incidents[i].RootCause = analysis.RootCause
			m.incidents[i].Recommendations = analysis.ImmediateActions
			return
		}
	}
}

func (m *Monitor) finishCycle(ctx context.Context, checkStart time.Time, start time.Time, logCount, anomalyCount int) {
	m.mu.Lock()
	m.state.LastCheck = checkStart
	m.state.Status = model.MonitorHealthy
	m.mu.Unlock()

	m.metrics.RecordCycle("ok", time.Since(start))
	m.auditLog.LogCycle(ctx, true, time.Since(start), logCount, anomalyCount, nil)
}

func (m *Monitor) setStatus(status model.MonitorStatus) {
	m.mu.Lock()
	m.state.Status = status
	m.mu.Unlock()
}

// State returns a copy of the monitoring state.
func (m *Monitor) State() model.MonitoringState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the loop status, for health checks.
func (m *Monitor) Status() model.MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Status
}

// Uptime reports how long the monitor has existed.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// RecentIncidents returns up to limit incidents, newest first.
func (m *Monitor) RecentIncidents(limit int) []model.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.incidents)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]model.Incident, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.incidents[n-1-i]
	}
	return out
}

// IncidentByID returns a copy of the incident with the given id.
func (m *Monitor) IncidentByID(id string) (model.Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.incidents {
		if m.incidents[i].ID == id {
			return m.incidents[i], true
		}
	}
	return model.Incident{}, false
}

// RuleSnapshot exposes the rule detector's history for introspection.
func (m *Monitor) RuleSnapshot() detect.RuleSnapshot {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.rules.Snapshot()
}

// TimeSeriesSnapshot exposes the time-series windows for introspection.
func (m *Monitor) TimeSeriesSnapshot() detect.TimeSeriesSnapshot {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.timeseries.Snapshot()
}
