// Package collab is the approval gate between proposed and approved
// plans: low risk plans pass automatically, everything else waits for an
// explicit decision through the command API.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
)

// AutoApprover is the identity stamped on plans approved by policy.
const AutoApprover = "policy:auto"

// ApprovedPublisher publishes approved plans onto the bus.
type ApprovedPublisher interface {
	PublishPlanApproved(ctx context.Context, plan *models.Plan) error
}

// PlanStore loads and transitions persisted plans.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
	UpdateStatus(ctx context.Context, planID string, status models.PlanStatus, extra map[string]any) error
}

// Service consumes proposed plans and applies the approval policy.
type Service struct {
	cfg     *config.CollabConfig
	store   PlanStore
	pub     ApprovedPublisher
	metrics *metrics.Metrics

	mu      sync.RWMutex
	pending map[string]*models.Plan
}

// NewService wires the approval gate.
func NewService(cfg *config.CollabConfig, store PlanStore, pub ApprovedPublisher, m *metrics.Metrics) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		pub:     pub,
		metrics: m,
		pending: make(map[string]*models.Plan),
	}
}

// HandleProposed is the q.plans.proposed consumer handler.
func (s *Service) HandleProposed(ctx context.Context, d amqp.Delivery) bus.Verdict {
	s.metrics.EventConsumed(bus.QueuePlansProposed)

	var plan models.Plan
	if err := json.Unmarshal(d.Body, &plan); err != nil {
		slog.Error("Discarding unparseable plan", "message_id", d.MessageId, "error", err)
		return bus.Reject
	}
	if plan.ID == "" {
		slog.Error("Discarding plan without id", "message_id", d.MessageId)
		return bus.Reject
	}

	risk := plan.EffectiveRisk()
	if risk <= s.cfg.AutoApproveMaxRisk {
		if err := s.approve(ctx, &plan, AutoApprover); err != nil {
			slog.Error("Auto-approval failed", "plan_id", plan.ID, "error", err)
			return bus.Retry
		}
		slog.Info("Plan auto-approved",
			"plan_id", plan.ID,
			"incident_id", plan.IncidentID,
			"risk", risk,
			"max_risk", s.cfg.AutoApproveMaxRisk)
		return bus.Ack
	}

	// Too risky for policy. The durable record stays proposed; the plan
	// waits in memory for a human decision and re-materializes from the
	// store after a restart.
	s.hold(&plan)
	slog.Info("Plan held for human approval",
		"plan_id", plan.ID,
		"incident_id", plan.IncidentID,
		"risk", risk,
		"max_risk", s.cfg.AutoApproveMaxRisk)
	return bus.Ack
}

// Approve releases a held plan under the given identity. Approving a plan
// that is already approved republishes it; the actor deduplicates.
func (s *Service) Approve(ctx context.Context, planID, approvedBy string) (*models.Plan, error) {
	plan, err := s.lookup(ctx, planID)
	if err != nil {
		return nil, err
	}

	if err := s.approve(ctx, plan, approvedBy); err != nil {
		return nil, err
	}

	s.drop(planID)
	slog.Info("Plan approved", "plan_id", planID, "approved_by", approvedBy)
	return plan, nil
}

// Reject declines a held plan. The record goes terminal and no plan event
// is emitted; the incident stays open for a new proposal.
func (s *Service) Reject(ctx context.Context, planID, reason string) error {
	extra := map[string]any{}
	if reason != "" {
		extra["rejection_reason"] = reason
	}
	if err := s.store.UpdateStatus(ctx, planID, models.PlanStatusSkipped, extra); err != nil {
		return err
	}

	s.drop(planID)
	slog.Info("Plan rejected", "plan_id", planID, "reason", reason)
	return nil
}

// Pending snapshots the plans currently waiting for a decision.
func (s *Service) Pending() []*models.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]*models.Plan, 0, len(s.pending))
	for _, p := range s.pending {
		plans = append(plans, p)
	}
	return plans
}

// approve stamps the approval onto the plan, persists the transition and
// republishes. Store before publish: an actor must never receive an
// approval the record does not reflect.
func (s *Service) approve(ctx context.Context, plan *models.Plan, approvedBy string) error {
	now := time.Now().UTC()
	plan.Status = models.PlanStatusApproved
	plan.ApprovedBy = approvedBy
	plan.ApprovalTimestamp = &now

	err := s.store.UpdateStatus(ctx, plan.ID, models.PlanStatusApproved, map[string]any{
		"approved_by":        approvedBy,
		"approval_timestamp": now,
	})
	if err != nil {
		return fmt.Errorf("failed to record approval for plan %s: %w", plan.ID, err)
	}

	if err := s.pub.PublishPlanApproved(ctx, plan); err != nil {
		return fmt.Errorf("failed to publish approval for plan %s: %w", plan.ID, err)
	}
	s.metrics.PlanPublished(string(models.PlanStatusApproved))
	return nil
}

// lookup finds the plan in the pending registry, falling back to the
// store for plans held before a restart.
func (s *Service) lookup(ctx context.Context, planID string) (*models.Plan, error) {
	s.mu.RLock()
	plan, ok := s.pending[planID]
	s.mu.RUnlock()
	if ok {
		return plan, nil
	}
	return s.store.GetPlan(ctx, planID)
}

func (s *Service) hold(plan *models.Plan) {
	s.mu.Lock()
	s.pending[plan.ID] = plan
	s.mu.Unlock()
}

func (s *Service) drop(planID string) {
	s.mu.Lock()
	delete(s.pending, planID)
	s.mu.Unlock()
}
