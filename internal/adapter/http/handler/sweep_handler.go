package handler

import (
	"net/http"

	"fluxapay-backend/internal/adapter/http/dto"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// SweepHandler exposes the operator endpoint for triggering sweep runs.
type SweepHandler struct {
	sweepSvc ports.SweepService
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(sweepSvc ports.SweepService) *SweepHandler {
	return &SweepHandler{sweepSvc: sweepSvc}
}

// Trigger handles POST /api/v1/sweep/run. A run already in progress surfaces
// as 409; the scheduler keeps its own cadence regardless.
func (h *SweepHandler) Trigger(c *gin.Context) {
	report, err := h.sweepSvc.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.SweepReportResponse{
		Eligible: report.Eligible,
		Swept:    report.Swept,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
	})
}

// HealthCheck handles GET /health, a deep health check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
