// Package rca performs LLM-backed root cause analysis of incidents. The
// client speaks the Anthropic Messages API over plain HTTP; when no API key
// is configured the whole package degrades to a no-op and incidents simply
// carry no RCA.
package rca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/errors"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
	"github.com/Codewithaiyan/ObserveAI/internal/security"
)

const (
	system     = "llm"
	apiVersion = "2023-06-01"

	maxTokens   = 2000
	temperature = 0.3
)

// Client calls the Messages API for root cause analysis.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	logger     *zap.Logger
	enabled    bool
}

// NewClient creates an RCA client. Without an API key the client is created
// disabled rather than failing, so monitoring runs without analysis.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RCATimeout},
		apiKey:     cfg.LLMAPIKey,
		baseURL:    strings.TrimSuffix(cfg.LLMBaseURL, "/"),
		model:      cfg.LLMModel,
		logger:     logger.Named("rca"),
		enabled:    cfg.RCAEnabled(),
	}

	if c.enabled {
		c.logger.Info("RCA client initialized",
			zap.String("model", c.model),
			zap.String("api_key", security.MaskAPIKey(c.apiKey)),
		)
	} else {
		c.logger.Warn("RCA API key not configured, analysis disabled")
	}
	return c
}

// Enabled reports whether the client can perform analyses.
func (c *Client) Enabled() bool {
	return c.enabled
}

// messagesRequest is the Messages API request body.
type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the subset of the Messages API response we consume.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnalyzeIncident builds the RCA prompt for the incident, calls the model
// and parses the structured sections out of the response.
func (c *Client) AnalyzeIncident(ctx context.Context, incident *model.Incident) (*model.RCAAnalysis, error) {
	if !c.enabled {
		return nil, errors.NewConfigurationMissing("LLM_API_KEY")
	}

	prompt := buildPrompt(incident)
	c.logger.Info("Sending incident for RCA", zap.String("incident_id", incident.ID))

	responseText, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	analysis := parseResponse(responseText)
	analysis.IncidentID = incident.ID
	analysis.AnalyzedAt = time.Now().UTC()

	c.logger.Info("RCA completed", zap.String("incident_id", incident.ID))
	return analysis, nil
}

// complete sends one user message and returns the concatenated text blocks.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", errors.NewParse(system, "encode request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewTransport(system, "failed to build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.NewDeadlineExceeded("rca analysis")
		}
		return "", errors.NewTransport(system, "request failed").WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewTransport(system, "failed to read response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewTransportStatus(system, resp.StatusCode, string(data))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errors.NewParse(system, "decode response body").WithCause(err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.NewParse(system, "response contained no text content")
	}
	return text.String(), nil
}

// buildPrompt renders the incident into the fixed RCA prompt: summary, up to
// 10 truncated error logs, up to 5 anomalies, then the answer template.
func buildPrompt(incident *model.Incident) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a DevOps expert. Analyze this incident:

# INCIDENT
Incident: %s
Severity: %s
Errors: %d
Services: %s

# ERRORS
`, incident.Title, incident.Severity, incident.ErrorCount, strings.Join(incident.AffectedServices, ", "))

	for i, log := range incident.SampleLogs {
		if i >= 10 {
			break
		}
		msg := log.Message
		if len(msg) > 100 {
			msg = msg[:100]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, msg)
	}

	b.WriteString("\n# ANOMALIES\n")
	for i, a := range incident.Anomalies {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", a.Kind, a.Description)
	}

	b.WriteString(`
Provide:

## Root Cause
[Identify root cause]

## Immediate Actions
1. [Action 1]
2. [Action 2]
3. [Action 3]

## Confidence
[High/Medium/Low]
`)
	return b.String()
}

// parseResponse walks the response line by line, collecting content under
// the markdown section headers. Missing sections get conservative fallbacks
// so downstream consumers never see an empty analysis.
func parseResponse(responseText string) *model.RCAAnalysis {
	analysis := &model.RCAAnalysis{
		Confidence:   "Medium",
		FullAnalysis: responseText,
	}

	var current string
	var content []string

	flush := func() {
		switch current {
		case "root_cause":
			analysis.RootCause = strings.TrimSpace(strings.Join(content, "\n"))
		case "impact":
			analysis.Impact = strings.TrimSpace(strings.Join(content, "\n"))
		case "immediate_actions":
			for _, line := range content {
				if action := strings.TrimSpace(line); action != "" {
					analysis.ImmediateActions = append(analysis.ImmediateActions, action)
				}
			}
		case "confidence":
			if v := strings.TrimSpace(strings.Join(content, "\n")); v != "" {
				analysis.Confidence = v
			}
		}
		content = nil
	}

	for _, line := range strings.Split(responseText, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "## root"):
			flush()
			current = "root_cause"
		case strings.Contains(lower, "## impact"):
			flush()
			current = "impact"
		case strings.Contains(lower, "## immediate"):
			flush()
			current = "immediate_actions"
		case strings.Contains(lower, "## confidence"):
			flush()
			current = "confidence"
		case current != "":
			if current == "immediate_actions" {
				trimmed := strings.TrimSpace(line)
				if hasActionPrefix(trimmed) {
					if clean := strings.TrimSpace(strings.TrimLeft(trimmed, "123.-*")); clean != "" {
						content = append(content, clean)
					}
				}
			} else {
				content = append(content, line)
			}
		}
	}
	flush()

	if analysis.RootCause == "" {
		analysis.RootCause = responseText
		if len(analysis.RootCause) > 200 {
			analysis.RootCause = analysis.RootCause[:200]
		}
	}
	if len(analysis.ImmediateActions) == 0 {
		analysis.ImmediateActions = []string{"Check logs", "Review changes", "Monitor system"}
	}

	return analysis
}

func hasActionPrefix(line string) bool {
	return strings.HasPrefix(line, "1.") ||
		strings.HasPrefix(line, "2.") ||
		strings.HasPrefix(line, "3.") ||
		strings.HasPrefix(line, "-")
}
