package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kubeminder/kubeminder/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
//
// Only this process's own dependencies (broker connection, record store)
// decide liveness. The LLM endpoint and the context sources are excluded:
// an external outage degrades plan quality, it must not get the process
// restarted by an orchestrator.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck)

	if s.bus != nil {
		if s.bus.Healthy() {
			checks["bus"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusUnhealthy
			checks["bus"] = HealthCheck{Status: healthStatusUnhealthy, Message: "broker connection down"}
		}
	}

	if s.store != nil {
		health := s.store.Health(ctx)
		if health.Status == healthStatusHealthy {
			checks["store"] = HealthCheck{Status: healthStatusHealthy, ResponseTimeMS: health.ResponseTimeMS}
		} else {
			status = healthStatusUnhealthy
			checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: health.Error}
		}
	}

	resp := &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	}
	if s.quota != nil {
		q := s.quota.Quota()
		resp.Quota = &q
	}
	if s.approvals != nil {
		resp.PendingApprovals = len(s.approvals.Pending())
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
