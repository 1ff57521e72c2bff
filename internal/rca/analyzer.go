package rca

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/model"
	"github.com/Codewithaiyan/ObserveAI/internal/tracing"
)

// maxHistory bounds the in-memory analysis history.
const maxHistory = 100

// HistoryEntry summarizes one completed analysis for introspection.
type HistoryEntry struct {
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	RootCause  string    `json:"root_cause"`
	Confidence string    `json:"confidence"`
}

// Analyzer wraps the client with bookkeeping: analysis history and counters.
type Analyzer struct {
	client *Client
	logger *zap.Logger

	mu            sync.Mutex
	history       []HistoryEntry
	totalAnalyses int
}

// NewAnalyzer creates an analyzer over the given client.
func NewAnalyzer(client *Client, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		client: client,
		logger: logger.Named("rca"),
	}
}

// Enabled reports whether analyses can run.
func (a *Analyzer) Enabled() bool {
	return a.client.Enabled()
}

// AnalyzeIncident runs RCA for the incident and records it in the history.
// Returns nil without error when the client is disabled.
func (a *Analyzer) AnalyzeIncident(ctx context.Context, incident *model.Incident) (*model.RCAAnalysis, error) {
	if !a.client.Enabled() {
		return nil, nil
	}

	ctx, span := tracing.RCASpan(ctx, incident.ID)
	defer span.End()

	a.logger.Info("Starting incident analysis", zap.String("incident_id", incident.ID))

	analysis, err := a.client.AnalyzeIncident(ctx, incident)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	rootCause := analysis.RootCause
	if len(rootCause) > 100 {
		rootCause = rootCause[:100]
	}

	a.mu.Lock()
	a.history = append(a.history, HistoryEntry{
		IncidentID: incident.ID,
		Timestamp:  time.Now().UTC(),
		RootCause:  rootCause,
		Confidence: analysis.Confidence,
	})
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
	a.totalAnalyses++
	a.mu.Unlock()

	return analysis, nil
}

// History returns up to limit most recent analyses, newest last.
func (a *Analyzer) History(limit int) []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	copy(out, a.history[n-limit:])
	return out
}

// Statistics reports analyzer counters for the status endpoints.
func (a *Analyzer) Statistics() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	return map[string]any{
		"total_analyses": a.totalAnalyses,
		"history_size":   len(a.history),
		"enabled":        a.client.Enabled(),
	}
}
