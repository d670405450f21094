package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Pinger is a backend that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	Uptime        int64            `json:"uptime"`
	UptimeHuman   string           `json:"uptime_human"`
	QueueSize     int              `json:"queue_size"`
	Downloading   bool             `json:"downloading"`
	Connected     bool             `json:"connected"`
	MemoryUsageMB uint64           `json:"memory_usage_mb"`
	StoreStatus   string           `json:"store_status"`
	Checks        map[string]Check `json:"checks"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// QueueState is the queue view a health check reports on
type QueueState struct {
	Pending     int
	Downloading bool
	Connected   bool
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	store     Pinger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, store Pinger) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		store:     store,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(ctx context.Context, q QueueState) *HealthCheck {
	checks := make(map[string]Check)
	overall := HealthStatusHealthy

	degrade := func(c Check) {
		switch c.Status {
		case "unhealthy":
			overall = HealthStatusUnhealthy
		case "degraded":
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	storeCheck := h.checkStore(ctx)
	checks["store"] = storeCheck
	degrade(storeCheck)

	memCheck := checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	queueCheck := checkQueue(q)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	storeStatus := "connected"
	if storeCheck.Status != "healthy" {
		storeStatus = "disconnected"
	}

	return &HealthCheck{
		Status:        overall,
		Version:       h.version,
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatDuration(uptime),
		QueueSize:     q.Pending,
		Downloading:   q.Downloading,
		Connected:     q.Connected,
		MemoryUsageMB: m.Alloc / 1024 / 1024,
		StoreStatus:   storeStatus,
		Checks:        checks,
		Timestamp:     time.Now(),
	}
}

func (h *HealthChecker) checkStore(ctx context.Context) Check {
	if h.store == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Metadata store not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Metadata store ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Metadata store is reachable",
	}
}

func checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 256
		criticalThresholdMB = 512
	)

	if memoryMB > criticalThresholdMB {
		return Check{Status: "unhealthy", Message: "Memory usage is critically high"}
	}
	if memoryMB > warningThresholdMB {
		return Check{Status: "degraded", Message: "Memory usage is elevated"}
	}
	return Check{Status: "healthy", Message: "Memory usage is normal"}
}

// checkQueue degrades when requests are stuck behind a lost connection
func checkQueue(q QueueState) Check {
	if !q.Connected && q.Pending > 0 {
		return Check{
			Status:  "degraded",
			Message: fmt.Sprintf("%d requests waiting for connectivity", q.Pending),
		}
	}
	return Check{Status: "healthy", Message: "Queue is draining normally"}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
