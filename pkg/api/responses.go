package api

import (
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/planner"
)

// HealthCheck is the state of a single dependency probe.
type HealthCheck struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
	Message        string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version"`
	Checks           map[string]HealthCheck `json:"checks"`
	Quota            *planner.QuotaStatus   `json:"quota,omitempty"`
	PendingApprovals int                    `json:"pending_approvals"`
}

// PendingPlansResponse is the body of GET /api/plans/pending.
type PendingPlansResponse struct {
	Plans []*models.Plan `json:"plans"`
	Count int            `json:"count"`
}

// IncidentPlansResponse is the body of GET /api/incidents/:id/plans.
type IncidentPlansResponse struct {
	IncidentID string         `json:"incident_id"`
	Plans      []*models.Plan `json:"plans"`
	Count      int            `json:"count"`
}

// ApproveResponse is the body of POST /api/plans/:id/approve.
type ApproveResponse struct {
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	ApprovedBy string `json:"approved_by"`
	Message    string `json:"message"`
}

// RejectResponse is the body of POST /api/plans/:id/reject.
type RejectResponse struct {
	PlanID  string `json:"plan_id"`
	Message string `json:"message"`
}
