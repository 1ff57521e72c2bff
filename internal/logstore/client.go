// Package logstore provides the read-only façade over the backing
// Elasticsearch-compatible log index. It exposes exactly four operations
// (health, count, search, group-by); every failure surfaces as a transport
// error and the façade never retries - the caller decides.
package logstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/errors"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

const system = "log store"

// Recorder receives per-request outcomes for operational metrics.
type Recorder interface {
	RecordStoreRequest(success bool, latency time.Duration, statusCode int)
}

// Client is the HTTP façade over the log store.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	index       string
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	recorder    Recorder
}

// New creates a new log store client.
func New(cfg *config.Config, logger *zap.Logger, recorder Recorder) *Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !cfg.TLSVerify {
		tlsConfig.InsecureSkipVerify = true
		logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used for testing",
			zap.String("log_store_url", cfg.LogStoreURL),
		)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	var rateLimiter *rate.Limiter
	if cfg.EnableRateLimit {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.QueryTimeout,
		},
		baseURL:     cfg.LogStoreURL,
		index:       cfg.LogIndex,
		logger:      logger,
		rateLimiter: rateLimiter,
		recorder:    recorder,
	}
}

// Index returns the configured index pattern.
func (c *Client) Index() string { return c.index }

// Healthy reports whether the store's cluster-health probe is in a
// non-critical state. Transport failures are reported as unhealthy, not as
// errors, so the scheduler can degrade instead of aborting.
func (c *Client) Healthy(ctx context.Context) bool {
	body, err := c.do(ctx, http.MethodGet, "/_cluster/health", nil)
	if err != nil {
		c.logger.Error("Log store health check failed", zap.Error(err))
		return false
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Error("Log store health payload malformed", zap.Error(err))
		return false
	}

	c.logger.Debug("Log store health check", zap.String("status", payload.Status))
	return payload.Status == "green" || payload.Status == "yellow"
}

// Count counts documents matching the query. A nil query counts everything.
func (c *Client) Count(ctx context.Context, query map[string]any) (int, error) {
	path := fmt.Sprintf("/%s/_count", url.PathEscape(c.index))

	var reqBody any
	if query != nil {
		reqBody = map[string]any{"query": query}
	}

	body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, errors.NewParse(system, err.Error()).WithCause(err)
	}
	if payload.Count < 0 {
		return 0, errors.NewParse(system, "negative document count")
	}
	return payload.Count, nil
}

// Search returns documents matching the query, newest first unless a sort
// is supplied. limit is a hard cap enforced by the server.
func (c *Client) Search(ctx context.Context, query map[string]any, limit int, sort []any) ([]model.LogRecord, error) {
	path := fmt.Sprintf("/%s/_search", url.PathEscape(c.index))

	if query == nil {
		query = map[string]any{"match_all": map[string]any{}}
	}
	if sort == nil {
		sort = []any{map[string]any{"@timestamp": "desc"}}
	}

	reqBody := map[string]any{
		"size":  limit,
		"query": query,
		"sort":  sort,
	}

	body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Hits struct {
			Hits []struct {
				Source model.LogRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewParse(system, err.Error()).WithCause(err)
	}

	records := make([]model.LogRecord, 0, len(payload.Hits.Hits))
	for _, hit := range payload.Hits.Hits {
		records = append(records, hit.Source)
	}

	c.logger.Debug("Searched logs",
		zap.Int("count", len(records)),
		zap.String("index", c.index),
	)
	return records, nil
}

// GroupBy aggregates document counts by field, truncated to limit buckets.
func (c *Client) GroupBy(ctx context.Context, field string, query map[string]any, limit int) (map[string]int, error) {
	path := fmt.Sprintf("/%s/_search", url.PathEscape(c.index))

	if query == nil {
		query = map[string]any{"match_all": map[string]any{}}
	}

	reqBody := map[string]any{
		"size":  0,
		"query": query,
		"aggs": map[string]any{
			"by_field": map[string]any{
				"terms": map[string]any{
					"field": field + ".keyword",
					"size":  limit,
				},
			},
		},
	}

	body, err := c.do(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Aggregations struct {
			ByField struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int    `json:"doc_count"`
				} `json:"buckets"`
			} `json:"by_field"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewParse(system, err.Error()).WithCause(err)
	}

	result := make(map[string]int, len(payload.Aggregations.ByField.Buckets))
	for _, bucket := range payload.Aggregations.ByField.Buckets {
		result[bucket.Key] = bucket.DocCount
	}
	return result, nil
}

// do executes a single request. No retries: transient failures surface to
// the caller as transport errors.
func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.NewTransport(system, "rate limit wait failed: "+err.Error()).WithCause(err)
		}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return nil, errors.NewState("failed to marshal request body: " + err.Error()).WithCause(err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, errors.NewTransport(system, err.Error()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("Executing log store request",
		zap.String("method", method),
		zap.String("path", path),
	)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		if c.recorder != nil {
			c.recorder.RecordStoreRequest(false, duration, 0)
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewDeadlineExceeded("log store " + method + " " + path).WithCause(err)
		}
		return nil, errors.NewTransport(system, err.Error()).WithCause(err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if c.recorder != nil {
			c.recorder.RecordStoreRequest(false, duration, httpResp.StatusCode)
		}
		return nil, errors.NewTransport(system, "failed to read response body: "+err.Error()).WithCause(err)
	}

	success := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	if c.recorder != nil {
		c.recorder.RecordStoreRequest(success, duration, httpResp.StatusCode)
	}
	if !success {
		return nil, errors.NewTransportStatus(system, httpResp.StatusCode, truncate(string(body), 256))
	}

	c.logger.Debug("Log store request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
	)
	return body, nil
}

// Close closes the client and releases resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
