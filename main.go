// Package main implements the ObserveAI log monitoring agent.
//
// The agent continuously watches an Elasticsearch-compatible log store,
// runs a stack of anomaly detectors over the recent window, fuses high
// severity findings into incidents, asks an LLM for root cause analysis
// and fans alerts out to chat and webhook sinks. A small HTTP API exposes
// monitoring state, incidents, the learned baseline and raw log queries.
//
// Configuration is provided through environment variables:
//   - LOG_STORE_URL: Elasticsearch-compatible endpoint URL (required)
//   - CHAT_WEBHOOK_URL: (Optional) chat sink for incident alerts
//   - LLM_API_KEY: (Optional) enables root cause analysis
//   - ENVIRONMENT: (Optional) set to "production" for production logging
//
// Example usage:
//
//	export LOG_STORE_URL="http://localhost:9200"
//	./observeai
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
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
	"github.com/Codewithaiyan/ObserveAI/internal/server"
	"github.com/Codewithaiyan/ObserveAI/internal/tracing"
)

// Build information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Ignore error on cleanup
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting ObserveAI agent",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("log_store", cfg.LogStoreURL),
		zap.String("index", cfg.LogIndex),
		zap.Duration("check_interval", cfg.CheckInterval),
	)

	shutdownTracing, err := tracing.InitOTel(tracing.OTelConfig{
		ServiceName:    "observeai",
		ServiceVersion: version,
		Environment:    os.Getenv("ENVIRONMENT"),
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	m := metrics.New(logger)
	store := logstore.New(cfg, logger, m)
	adaptive := baseline.New(cfg.BaselinePath, logger)
	analyzer := rca.NewAnalyzer(rca.NewClient(cfg, logger), logger)
	alertMgr := alerts.NewManager(cfg, logger, m)
	auditLog := audit.NewLogger(logger, cfg.EnableAuditLog)

	mon := monitor.New(cfg, store, adaptive, analyzer, alertMgr, m, auditLog, logger)
	checker := health.New(store, mon.Status, logger)
	srv := server.New(cfg, mon, store, adaptive, checker, alertMgr, analyzer, m, auditLog, logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	monitorDone := make(chan struct{})
	go func() {
		mon.Start(ctx)
		close(monitorDone)
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Control surface shutdown error", zap.Error(err))
	}

	select {
	case <-monitorDone:
		logger.Info("Monitor shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit",
			zap.Duration("timeout", cfg.ShutdownTimeout))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown error", zap.Error(err))
	}
	store.Close()

	// Allow a brief moment for final cleanup
	time.Sleep(100 * time.Millisecond)
}

// initLogger returns a production logger when ENVIRONMENT=production,
// otherwise a development logger with more verbose output.
func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
