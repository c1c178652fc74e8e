package handler

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/http/dto"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/service"
)

// errorRateWarnThreshold marks a service as high-error on the health report
// before its breaker actually trips.
const errorRateWarnThreshold = 0.3

// criticalServices are the upstreams the readiness probe requires. An open
// breaker on any of them takes the instance out of rotation.
var criticalServices = []string{research.ServiceName}

type HealthHandler struct {
	breakers     *breaker.Registry
	orchestrator service.ResearchOrchestrator
}

func NewHealthHandler(breakers *breaker.Registry, orchestrator service.ResearchOrchestrator) *HealthHandler {
	return &HealthHandler{breakers: breakers, orchestrator: orchestrator}
}

// Health reports overall service health from the circuit breaker registry.
// One open breaker degrades the report; an elevated error rate on a still
// closed breaker downgrades it to a warning.
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.breakers.Stats()

	overall := "healthy"
	var issues []map[string]any

	for name, s := range stats {
		switch {
		case s.State == breaker.StateOpen:
			overall = "degraded"
			issue := map[string]any{"service": name, "status": "circuit_open"}
			if s.TimeUntilRetry != nil {
				issue["time_until_retry"] = *s.TimeUntilRetry
			}
			issues = append(issues, issue)
		case s.ErrorRate > errorRateWarnThreshold:
			if overall == "healthy" {
				overall = "warning"
			}
			issues = append(issues, map[string]any{
				"service":    name,
				"status":     "high_error_rate",
				"error_rate": math.Round(s.ErrorRate*1000) / 1000,
			})
		}
	}

	resp := gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": gin.H{
			"api":           gin.H{"status": "healthy", "description": "Main API server"},
			"database":      gin.H{"status": "healthy", "description": "PostgreSQL database"},
			"external_apis": stats,
		},
	}
	if len(issues) > 0 {
		resp["issues"] = issues
	}

	c.JSON(http.StatusOK, resp)
}

// Status serves the aggregated system status: job statistics, breaker state,
// and the in-flight task count.
func (h *HealthHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	status, err := h.orchestrator.SystemStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect system status", "error", err)
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalServerError, "failed to collect system status"))
		return
	}

	c.JSON(http.StatusOK, status)
}

// CircuitBreakers serves the per-service breaker stats with a rollup summary.
func (h *HealthHandler) CircuitBreakers(c *gin.Context) {
	stats := h.breakers.Stats()

	var healthy, degraded, failed int
	for _, s := range stats {
		switch s.State {
		case breaker.StateClosed:
			healthy++
		case breaker.StateHalfOpen:
			degraded++
		case breaker.StateOpen:
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"circuit_breakers": stats,
		"summary": gin.H{
			"total_services": len(stats),
			"healthy":        healthy,
			"degraded":       degraded,
			"failed":         failed,
		},
	})
}

// ResetCircuitBreakers forces every breaker back to closed.
func (h *HealthHandler) ResetCircuitBreakers(c *gin.Context) {
	ctx := c.Request.Context()

	h.breakers.ResetAll(ctx)
	slog.InfoContext(ctx, "all circuit breakers reset via health endpoint")

	c.JSON(http.StatusOK, gin.H{"message": "All circuit breakers have been reset to CLOSED state"})
}

// Ready is the readiness probe. It answers 503 while a critical upstream's
// breaker is open so the instance drops out of rotation until the breaker
// recovers.
func (h *HealthHandler) Ready(c *gin.Context) {
	stats := h.breakers.Stats()

	var unavailable []string
	for _, name := range criticalServices {
		if s, ok := stats[name]; ok && s.State == breaker.StateOpen {
			unavailable = append(unavailable, name)
		}
	}
	if len(unavailable) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":                false,
			"reason":               fmt.Sprintf("critical services unavailable: %v", unavailable),
			"unavailable_services": unavailable,
		})
		return
	}

	healthy := 0
	for _, s := range stats {
		if s.State == breaker.StateClosed {
			healthy++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":            true,
		"services":         len(stats),
		"healthy_services": healthy,
	})
}

// Live is the liveness probe.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
