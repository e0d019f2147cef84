package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var startTime = time.Now()

// HealthChecker is anything that can report its own reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HostStats is a snapshot of host resource usage.
type HostStats struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryAvailableMB uint64  `json:"memory_available_mb"`
	CPUPercent        float64 `json:"cpu_percent"`
}

// HostStatsFunc samples host resource usage.
type HostStatsFunc func(ctx context.Context) (*HostStats, error)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
	Host      *HostStats        `json:"host,omitempty"`
}

type HealthHandler struct {
	store   HealthChecker
	redis   HealthChecker
	host    HostStatsFunc
	version string
	logger  *logrus.Logger
}

// NewHealthHandler creates the health endpoint. redis may be nil when the
// weight cache is disabled.
func NewHealthHandler(store, redis HealthChecker, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{
		store:   store,
		redis:   redis,
		host:    SampleHostStats,
		version: version,
		logger:  logger,
	}
}

// SampleHostStats reads memory and CPU usage via gopsutil. CPU usage is
// measured since the previous call.
func SampleHostStats(ctx context.Context) (*HostStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats := &HostStats{
		MemoryUsedPercent: vm.UsedPercent,
		MemoryAvailableMB: vm.Available / 1024 / 1024,
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	return stats, nil
}

// HealthCheck reports 200 when every dependency answers and 503 otherwise.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{}
	healthy := true

	if h.store == nil {
		services["database"] = "unhealthy: not configured"
		healthy = false
	} else if err := h.store.HealthCheck(ctx); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["database"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			services["redis"] = "healthy"
		}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Services:  services,
	}

	if h.host != nil {
		stats, err := h.host(ctx)
		if err != nil {
			h.logger.WithError(err).Debug("Failed to sample host stats")
		} else {
			resp.Host = stats
		}
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
		h.logger.WithField("services", services).Warn("Health check failed")
	}
	c.JSON(status, resp)
}
