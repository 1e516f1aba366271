package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a HealthHandler with no probes.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{probes: map[string]Probe{}, timeout: 2 * time.Second, logger: logger}
}

// AddProbe registers a named readiness probe, e.g. a database ping.
func (h *HealthHandler) AddProbe(name string, p Probe) {
	h.probes[name] = p
}

// Register mounts /healthz and /readyz on the engine.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", h.Ready)
}

// Ready runs every probe and reports 503 if any fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	status := http.StatusOK
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.Warn("readiness probe failed", zap.String("probe", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	result := "ok"
	if status != http.StatusOK {
		result = "unavailable"
	}
	c.JSON(status, gin.H{"status": result, "checks": checks})
}
