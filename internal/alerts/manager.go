// Package alerts fans incidents out to notification sinks: a chat webhook
// with rich message blocks and a generic JSON webhook. Delivery is gated on
// incident severity and never blocks the monitoring loop.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
	"github.com/Codewithaiyan/ObserveAI/internal/security"
	"github.com/Codewithaiyan/ObserveAI/internal/tracing"
)

// maxHistory bounds the in-memory alert history.
const maxHistory = 50

var upper = cases.Upper(language.English)

// severityEmoji maps severity to the chat header emoji.
var severityEmoji = map[model.Severity]string{
	model.SeverityCritical: "🚨",
	model.SeverityHigh:     "⚠️",
	model.SeverityMedium:   "⚡",
	model.SeverityLow:      "ℹ️",
}

// severityColor maps severity to the chat attachment color.
var severityColor = map[model.Severity]string{
	model.SeverityCritical: "#FF0000",
	model.SeverityHigh:     "#FFA500",
	model.SeverityMedium:   "#FFFF00",
	model.SeverityLow:      "#00FF00",
}

// HistoryEntry records one alert attempt.
type HistoryEntry struct {
	IncidentID string         `json:"incident_id"`
	Severity   model.Severity `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	Success    bool           `json:"success"`
}

// Manager delivers incident alerts to the configured sinks.
type Manager struct {
	chatWebhookURL    string
	genericWebhookURL string
	alertSeverities   []string

	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	history   []HistoryEntry
	totalSent int
	failed    int
}

// NewManager creates an alert manager from the configuration.
func NewManager(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		chatWebhookURL:    cfg.ChatWebhookURL,
		genericWebhookURL: cfg.GenericWebhookURL,
		alertSeverities:   cfg.AlertSeverities,
		httpClient:        &http.Client{Timeout: cfg.AlertTimeout},
		logger:            logger.Named("alerts"),
		metrics:           m,
	}

	mgr.logger.Info("Alert manager initialized",
		zap.Bool("chat_enabled", mgr.chatWebhookURL != ""),
		zap.Bool("webhook_enabled", mgr.genericWebhookURL != ""),
		zap.Strings("alert_severities", mgr.alertSeverities),
		zap.String("chat_webhook", security.MaskWebhookURL(mgr.chatWebhookURL)),
	)
	return mgr
}

// SendIncidentAlert dispatches the incident to every configured sink when
// its severity is in the alert list. Returns true if at least one sink
// accepted the alert.
func (m *Manager) SendIncidentAlert(ctx context.Context, incident *model.Incident) bool {
	if !slices.Contains(m.alertSeverities, string(incident.Severity)) {
		m.logger.Debug("Skipping alert, severity not in alert list",
			zap.String("incident_id", incident.ID),
			zap.String("severity", string(incident.Severity)),
		)
		return false
	}

	m.logger.Info("Sending incident alerts",
		zap.String("incident_id", incident.ID),
		zap.String("severity", string(incident.Severity)),
	)

	var results []bool
	if m.chatWebhookURL != "" {
		results = append(results, m.sendChatAlert(ctx, incident))
	}
	if m.genericWebhookURL != "" {
		results = append(results, m.sendWebhookAlert(ctx, incident))
	}

	success := slices.Contains(results, true)

	m.mu.Lock()
	if success {
		m.totalSent++
	} else {
		m.failed++
	}
	m.history = append(m.history, HistoryEntry{
		IncidentID: incident.ID,
		Severity:   incident.Severity,
		Timestamp:  time.Now().UTC(),
		Success:    success,
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.mu.Unlock()

	return success
}

// sendChatAlert posts the block-formatted message. Chat webhooks answer
// exactly 200 on success.
func (m *Manager) sendChatAlert(ctx context.Context, incident *model.Incident) bool {
	ctx, span := tracing.AlertSpan(ctx, "chat")
	defer span.End()

	status, err := m.post(ctx, m.chatWebhookURL, m.formatChatMessage(incident))
	success := err == nil && status == http.StatusOK
	if m.metrics != nil {
		m.metrics.RecordAlert("chat", success)
	}

	if !success {
		tracing.RecordError(span, err)
		m.logger.Error("Chat alert failed",
			zap.String("incident_id", incident.ID),
			zap.Int("status_code", status),
			zap.Error(err),
		)
		return false
	}

	m.logger.Info("Chat alert sent", zap.String("incident_id", incident.ID))
	return true
}

// sendWebhookAlert posts the flat JSON payload. Generic endpoints may
// answer 200, 201 or 202.
func (m *Manager) sendWebhookAlert(ctx context.Context, incident *model.Incident) bool {
	ctx, span := tracing.AlertSpan(ctx, "webhook")
	defer span.End()

	status, err := m.post(ctx, m.genericWebhookURL, m.formatWebhookPayload(incident))
	success := err == nil && (status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted)
	if m.metrics != nil {
		m.metrics.RecordAlert("webhook", success)
	}

	if !success {
		tracing.RecordError(span, err)
		m.logger.Error("Webhook alert failed",
			zap.String("incident_id", incident.ID),
			zap.Int("status_code", status),
			zap.Error(err),
		)
		return false
	}

	m.logger.Info("Webhook alert sent", zap.String("incident_id", incident.ID))
	return true
}

// post sends one JSON payload and returns the response status code.
func (m *Manager) post(ctx context.Context, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, nil
}

// formatChatMessage renders the incident as chat message blocks with an
// attachment color keyed on severity.
func (m *Manager) formatChatMessage(incident *model.Incident) map[string]any {
	emoji, ok := severityEmoji[incident.Severity]
	if !ok {
		emoji = "📊"
	}
	color, ok := severityColor[incident.Severity]
	if !ok {
		color = "#808080"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type":  "plain_text",
				"text":  fmt.Sprintf("%s %s", emoji, incident.Title),
				"emoji": true,
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Incident ID:*\n%s", incident.ID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", upper.String(string(incident.Severity)))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Error Rate:*\n%d/%d logs", incident.ErrorCount, incident.LogCount)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Services:*\n%s", strings.Join(incident.AffectedServices, ", "))},
			},
		},
	}

	if incident.RCA != nil {
		rcaText := incident.RCA.RootCause
		if len(rcaText) > 200 {
			rcaText = rcaText[:200]
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*🤖 AI Root Cause:*\n%s...", rcaText),
			},
		})

		if len(incident.RCA.ImmediateActions) > 0 {
			var actions []string
			for i, action := range incident.RCA.ImmediateActions {
				if i >= 3 {
					break
				}
				if len(action) > 80 {
					action = action[:80]
				}
				actions = append(actions, fmt.Sprintf("%d. %s", i+1, action))
			}
			blocks = append(blocks, map[string]any{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*⚡ Immediate Actions:*\n%s", strings.Join(actions, "\n")),
				},
			})
		}
	}

	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("Detected at %s UTC", incident.StartedAt.UTC().Format("2006-01-02 15:04:05")),
			},
		},
	})

	return map[string]any{
		"text":   fmt.Sprintf("%s Incident: %s", emoji, incident.Title),
		"blocks": blocks,
		"attachments": []map[string]any{
			{
				"color":    color,
				"fallback": fmt.Sprintf("Incident %s: %s", incident.ID, incident.Title),
			},
		},
	}
}

// formatWebhookPayload renders the incident as a flat JSON document for
// generic integrations.
func (m *Manager) formatWebhookPayload(incident *model.Incident) map[string]any {
	anomalies := make([]map[string]any, 0, len(incident.Anomalies))
	for _, a := range incident.Anomalies {
		anomalies = append(anomalies, map[string]any{
			"type":        a.Kind,
			"severity":    a.Severity,
			"score":       a.Score,
			"description": a.Description,
		})
	}

	payload := map[string]any{
		"incident_id":       incident.ID,
		"title":             incident.Title,
		"description":       incident.Description,
		"severity":          incident.Severity,
		"started_at":        incident.StartedAt.UTC().Format(time.RFC3339),
		"error_count":       incident.ErrorCount,
		"log_count":         incident.LogCount,
		"error_rate":        incident.ErrorRate(),
		"affected_services": incident.AffectedServices,
		"anomalies":         anomalies,
	}

	if incident.RCA != nil {
		payload["rca"] = map[string]any{
			"root_cause":        incident.RCA.RootCause,
			"impact":            incident.RCA.Impact,
			"immediate_actions": incident.RCA.ImmediateActions,
			"confidence":        incident.RCA.Confidence,
		}
	}

	return payload
}

// Statistics reports delivery counters for the status endpoints.
func (m *Manager) Statistics() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalSent + m.failed
	successRate := 0.0
	if total > 0 {
		successRate = float64(m.totalSent) / float64(total)
	}

	return map[string]any{
		"total_alerts_sent": m.totalSent,
		"failed_alerts":     m.failed,
		"success_rate":      successRate,
		"recent_alerts":     len(m.history),
		"chat_enabled":      m.chatWebhookURL != "",
		"webhook_enabled":   m.genericWebhookURL != "",
	}
}

// RecentAlerts returns up to limit most recent history entries, newest last.
func (m *Manager) RecentAlerts(limit int) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	copy(out, m.history[n-limit:])
	return out
}

// Config reports the sink configuration with the webhook URLs masked.
func (m *Manager) Config() map[string]any {
	return map[string]any{
		"chat_webhook":     security.MaskWebhookURL(m.chatWebhookURL),
		"generic_webhook":  security.MaskWebhookURL(m.genericWebhookURL),
		"alert_severities": m.alertSeverities,
	}
}

// TestIncident synthesizes a high-severity incident for verifying sink
// configuration end to end.
func TestIncident() *model.Incident {
	now := time.Now().UTC()
	return &model.Incident{
		ID:          fmt.Sprintf("INC-TEST-%d", now.Unix()),
		Title:       "Test Incident: Alert Configuration Check",
		Description: "This is a test incident used to verify alert delivery. No action required.",
		Severity:    model.SeverityHigh,
		Status:      model.StatusOpen,
		StartedAt:   now,
		DetectedAt:  now,
		Anomalies: []model.Anomaly{
			{
				Kind:        model.KindErrorSpike,
				Severity:    model.SeverityHigh,
				Score:       0.75,
				Description: "Synthetic anomaly generated for the alert test",
				DetectedAt:  now,
			},
		},
		AffectedServices: []string{"test-service"},
		LogCount:         100,
		ErrorCount:       42,
	}
}
