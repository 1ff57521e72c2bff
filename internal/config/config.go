// Package config provides configuration management for the observability
// agent.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the agent.
type Config struct {
	// Backing log store
	LogStoreURL string `json:"log_store_url"`
	LogIndex    string `json:"log_index"`

	// Monitoring loop
	CheckInterval time.Duration `json:"check_interval"`
	SampleWindow  time.Duration `json:"sample_window"`
	BatchLimit    int           `json:"batch_limit"`

	// Baseline persistence
	BaselinePath string `json:"baseline_path"`

	// Alerting (sinks are optional; enablement derives from presence)
	ChatWebhookURL    string        `json:"chat_webhook_url,omitempty"`
	GenericWebhookURL string        `json:"generic_webhook_url,omitempty"`
	AlertSeverities   []string      `json:"alert_severities"`
	AlertTimeout      time.Duration `json:"alert_timeout"`

	// Root cause analysis (optional; enablement derives from the key)
	LLMAPIKey  string        `json:"llm_api_key,omitempty"` // Not stored in files, from env only
	LLMBaseURL string        `json:"llm_base_url,omitempty"`
	LLMModel   string        `json:"llm_model,omitempty"`
	RCATimeout time.Duration `json:"rca_timeout"`

	// Control surface
	ListenAddr      string        `json:"listen_addr"`
	Port            int           `json:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// HTTP client configuration for the log store
	QueryTimeout    time.Duration `json:"query_timeout"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`

	// Rate limiting toward the log store
	RateLimit       int  `json:"rate_limit"` // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst"`
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Security
	TLSVerify bool `json:"tls_verify"`

	// Observability
	EnableTracing   bool `json:"enable_tracing"`
	EnableAuditLog  bool `json:"enable_audit_log"`
	MetricsEndpoint bool `json:"metrics_endpoint"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // json or console
}

// ChatAlertsEnabled reports whether the chat sink is configured.
func (c *Config) ChatAlertsEnabled() bool { return c.ChatWebhookURL != "" }

// WebhookAlertsEnabled reports whether the generic webhook sink is configured.
func (c *Config) WebhookAlertsEnabled() bool { return c.GenericWebhookURL != "" }

// RCAEnabled reports whether the LLM client is configured.
func (c *Config) RCAEnabled() bool { return c.LLMAPIKey != "" }

// Load configuration from environment variables and an optional config file.
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		LogIndex:        "logs-*",
		CheckInterval:   30 * time.Second,
		SampleWindow:    5 * time.Minute,
		BatchLimit:      500,
		BaselinePath:    "/data/baselines.json",
		AlertSeverities: []string{"high", "critical"},
		AlertTimeout:    10 * time.Second,
		LLMBaseURL:      "https://api.anthropic.com",
		LLMModel:        "claude-sonnet-4-20250514",
		RCATimeout:      60 * time.Second,
		ListenAddr:      "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 15 * time.Second,
		QueryTimeout:    30 * time.Second,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		RateLimit:       100,
		RateLimitBurst:  20,
		EnableRateLimit: true,
		TLSVerify:       true,
		EnableTracing:   true,
		EnableAuditLog:  true,
		MetricsEndpoint: true,
		LogLevel:        "info",
		LogFormat:       "json",
	}

	// Try to load from config file if specified
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)

	// Prevent path traversal by checking for ".." components
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("LOG_STORE_URL"); v != "" {
		cfg.LogStoreURL = v
	}
	if v := os.Getenv("LOG_INDEX"); v != "" {
		cfg.LogIndex = v
	}
	if v := os.Getenv("LOG_CHECK_INTERVAL"); v != "" {
		if d, err := parseIntervalValue(v); err == nil {
			cfg.CheckInterval = d
		}
	}
	if v := os.Getenv("SAMPLE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SampleWindow = d
		}
	}
	if v := os.Getenv("BATCH_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			cfg.BatchLimit = limit
		}
	}
	if v := os.Getenv("BASELINE_PATH"); v != "" {
		cfg.BaselinePath = v
	}
	if v := os.Getenv("CHAT_WEBHOOK_URL"); v != "" {
		cfg.ChatWebhookURL = v
	}
	if v := os.Getenv("GENERIC_WEBHOOK_URL"); v != "" {
		cfg.GenericWebhookURL = v
	}
	if v := os.Getenv("ALERT_SEVERITIES"); v != "" {
		parts := strings.Split(v, ",")
		severities := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(strings.ToLower(p)); s != "" {
				severities = append(severities, s)
			}
		}
		if len(severities) > 0 {
			cfg.AlertSeverities = severities
		}
	}
	if v := os.Getenv("ALERT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AlertTimeout = d
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("RCA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RCATimeout = d
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueryTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		var burst int
		if _, err := fmt.Sscanf(v, "%d", &burst); err == nil {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("ENABLE_RATE_LIMIT"); v != "" {
		cfg.EnableRateLimit = v == "true" || v == "1"
	}
	if v := os.Getenv("TLS_VERIFY"); v != "" {
		cfg.TLSVerify = v == "true" || v == "1"
	}
	if v := os.Getenv("ENABLE_TRACING"); v != "" {
		cfg.EnableTracing = v == "true" || v == "1"
	}
	if v := os.Getenv("ENABLE_AUDIT_LOG"); v != "" {
		cfg.EnableAuditLog = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// parseIntervalValue accepts either a bare number of seconds ("30") or a Go
// duration string ("30s").
func parseIntervalValue(v string) (time.Duration, error) {
	var seconds int
	if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil && !strings.ContainsAny(v, "smh") {
		if seconds <= 0 {
			return 0, fmt.Errorf("interval must be positive")
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.LogStoreURL == "" {
		return errors.New("LOG_STORE_URL is required")
	}
	if c.CheckInterval <= 0 {
		return errors.New("check interval must be positive")
	}
	if c.SampleWindow <= 0 {
		return errors.New("sample window must be positive")
	}
	if c.BatchLimit <= 0 || c.BatchLimit > 500 {
		return errors.New("batch limit must be in (0, 500]")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}
	for _, s := range c.AlertSeverities {
		switch s {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("invalid alert severity: %s", s)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.LLMAPIKey != "" {
		redacted.LLMAPIKey = MaskSecret(redacted.LLMAPIKey)
	}
	return &redacted
}

// MaskSecret returns a masked version of a secret for safe logging
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
