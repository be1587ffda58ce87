package api

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// pendingPlansHandler handles GET /api/plans/pending.
func (s *Server) pendingPlansHandler(c *gin.Context) {
	if s.approvals == nil {
		collaboratorDisabled(c)
		return
	}

	plans := s.approvals.Pending()
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })

	c.JSON(http.StatusOK, &PendingPlansResponse{Plans: plans, Count: len(plans)})
}

// getPlanHandler handles GET /api/plans/:id.
func (s *Server) getPlanHandler(c *gin.Context) {
	if s.plans == nil {
		storeDisabled(c)
		return
	}

	plan, err := s.plans.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// approvePlanHandler handles POST /api/plans/:id/approve. The body is
// optional; approvals without an identity are attributed to "api".
func (s *Server) approvePlanHandler(c *gin.Context) {
	if s.approvals == nil {
		collaboratorDisabled(c)
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	approvedBy := req.ApprovedBy
	if approvedBy == "" {
		approvedBy = "api"
	}

	plan, err := s.approvals.Approve(c.Request.Context(), c.Param("id"), approvedBy)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, &ApproveResponse{
		PlanID:     plan.ID,
		Status:     string(plan.Status),
		ApprovedBy: plan.ApprovedBy,
		Message:    "Plan approved for execution",
	})
}

// rejectPlanHandler handles POST /api/plans/:id/reject.
func (s *Server) rejectPlanHandler(c *gin.Context) {
	if s.approvals == nil {
		collaboratorDisabled(c)
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	planID := c.Param("id")
	if err := s.approvals.Reject(c.Request.Context(), planID, req.Reason); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, &RejectResponse{PlanID: planID, Message: "Plan rejected"})
}

// incidentPlansHandler handles GET /api/incidents/:id/plans. An optional
// status query narrows the list.
func (s *Server) incidentPlansHandler(c *gin.Context) {
	if s.plans == nil {
		storeDisabled(c)
		return
	}

	status := models.PlanStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + string(status)})
		return
	}

	plans, err := s.plans.ListByIncident(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		renderError(c, err)
		return
	}
	if plans == nil {
		plans = []*models.Plan{}
	}

	c.JSON(http.StatusOK, &IncidentPlansResponse{
		IncidentID: c.Param("id"),
		Plans:      plans,
		Count:      len(plans),
	})
}
