package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Codewithaiyan/ObserveAI/internal/logstore"
	"github.com/Codewithaiyan/ObserveAI/internal/model"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// MonitorStatusFunc reports the monitor loop's current status.
type MonitorStatusFunc func() model.MonitorStatus

// Checker performs health checks
type Checker struct {
	store         *logstore.Client
	monitorStatus MonitorStatusFunc
	logger        *zap.Logger
}

// New creates a new health checker
func New(store *logstore.Client, monitorStatus MonitorStatusFunc, logger *zap.Logger) *Checker {
	return &Checker{
		store:         store,
		monitorStatus: monitorStatus,
		logger:        logger,
	}
}

// CheckAll performs all health checks
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{
		c.checkStoreConnectivity(ctx),
		c.checkMonitorLoop(),
	}

	// Determine overall status
	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

// checkStoreConnectivity verifies the log store cluster is reachable
func (c *Checker) checkStoreConnectivity(ctx context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "log_store_connectivity",
		Timestamp: start,
	}

	// Use a short timeout for health checks
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	healthy := c.store.Healthy(checkCtx)
	check.Duration = time.Since(start)

	if !healthy {
		if check.Duration > 3*time.Second {
			check.Status = StatusDegraded
			check.Message = "Log store responding slowly"
		} else {
			check.Status = StatusUnhealthy
			check.Message = "Log store unreachable or cluster status red"
		}
		c.logger.Warn("Health check failed: log store connectivity",
			zap.Duration("duration", check.Duration),
		)
	} else {
		check.Status = StatusHealthy
		check.Message = "Log store reachable"
		c.logger.Debug("Health check passed: log store connectivity",
			zap.Duration("duration", check.Duration),
		)
	}

	return check
}

// checkMonitorLoop verifies the monitoring loop is running
func (c *Checker) checkMonitorLoop() Check {
	start := time.Now()
	check := Check{
		Name:      "monitor_loop",
		Timestamp: start,
	}

	status := c.monitorStatus()
	check.Duration = time.Since(start)
	check.Message = fmt.Sprintf("Monitor status: %s", status)

	switch status {
	case model.MonitorHealthy, model.MonitorInitializing:
		check.Status = StatusHealthy
	case model.MonitorDegraded:
		check.Status = StatusDegraded
	default:
		check.Status = StatusUnhealthy
		c.logger.Warn("Health check failed: monitor loop",
			zap.String("status", string(status)),
		)
	}

	return check
}
