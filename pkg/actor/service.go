// Package actor executes approved remediation plans. Every approval passes
// the idempotency and autonomy gates, compiles to sandbox steps when it
// arrived as natural language, runs sequentially with stop-on-first-failure,
// and leaves the pipeline as exactly one resolution event.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/redact"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
)

// ResolutionPublisher publishes terminal outcomes onto the bus.
type ResolutionPublisher interface {
	PublishResolution(ctx context.Context, res *models.Resolution) error
}

// RecordStore transitions the durable plan and incident records while a
// plan executes.
type RecordStore interface {
	UpdateStatus(ctx context.Context, planID string, status models.PlanStatus, extra map[string]any) error
	UpdateIncidentStatus(ctx context.Context, incidentID string, status models.IncidentStatus) error
}

// Executor is the tool surface steps run through.
type Executor interface {
	Execute(ctx context.Context, tool string, args map[string]any) sandbox.Result
}

// Service is the actor agent: the q.plans.approved consumer.
type Service struct {
	cfg      *config.ActorConfig
	compiler *Compiler
	sandbox  Executor
	store    RecordStore
	pub      ResolutionPublisher
	redactor *redact.Redactor
	seen     *registry
	metrics  *metrics.Metrics
}

// NewService wires the execution pipeline.
func NewService(cfg *config.ActorConfig, compiler *Compiler, exec Executor, store RecordStore, pub ResolutionPublisher, red *redact.Redactor, m *metrics.Metrics) *Service {
	return &Service{
		cfg:      cfg,
		compiler: compiler,
		sandbox:  exec,
		store:    store,
		pub:      pub,
		redactor: red,
		seen:     newRegistry(),
		metrics:  m,
	}
}

// HandleApproved processes one approved plan delivery.
func (s *Service) HandleApproved(ctx context.Context, d amqp.Delivery) bus.Verdict {
	s.metrics.EventConsumed(bus.QueuePlansApproved)

	var plan models.Plan
	if err := json.Unmarshal(d.Body, &plan); err != nil {
		slog.Error("Discarding unparseable plan", "message_id", d.MessageId, "error", err)
		return bus.Reject
	}
	if plan.ID == "" || plan.IncidentID == "" {
		slog.Error("Discarding plan without identity",
			"message_id", d.MessageId, "plan_id", plan.ID, "incident_id", plan.IncidentID)
		return bus.Reject
	}

	key := plan.DedupKey()
	exec, first := s.seen.Claim(key)
	if !first {
		// A delivery that executed but never published finishes the job
		// here; everything else is a silent drop.
		if res := exec.pending(); res != nil {
			slog.Warn("Republishing resolution for redelivered plan", "plan_id", plan.ID, "key", key)
			return s.publish(ctx, exec, res)
		}
		slog.Info("Duplicate approval dropped", "plan_id", plan.ID, "key", key)
		return bus.Ack
	}

	res := s.run(ctx, &plan)
	exec.record(res)
	return s.publish(ctx, exec, res)
}

// run applies the gates and executes, always producing a resolution.
func (s *Service) run(ctx context.Context, plan *models.Plan) *models.Resolution {
	start := time.Now()

	if risk := plan.EffectiveRisk(); risk > s.cfg.MaxAutonomyRisk {
		slog.Warn("Plan exceeds autonomy ceiling, skipping",
			"plan_id", plan.ID, "risk", risk, "max_risk", s.cfg.MaxAutonomyRisk)
		s.planStatus(ctx, plan.ID, models.PlanStatusSkipped, map[string]any{
			"skip_reason": "autonomy ceiling",
		})
		outputs := []map[string]any{
			models.PolicyOutput("autonomy", fmt.Sprintf("risk %g > max %g", risk, s.cfg.MaxAutonomyRisk)),
		}
		return s.resolution(plan, models.ResolutionSkipped, start, outputs)
	}

	steps := sandbox.NormalizeSteps(plan.Steps)
	if len(steps) == 0 {
		compiled, err := s.compiler.Compile(ctx, plan.Instructions)
		if err != nil {
			slog.Error("Plan compilation failed", "plan_id", plan.ID, "error", err)
			s.planStatus(ctx, plan.ID, models.PlanStatusFailed, map[string]any{"error": err.Error()})
			outputs := []map[string]any{models.PolicyOutput("compiler", err.Error())}
			return s.resolution(plan, models.ResolutionFailed, start, outputs)
		}
		steps = compiled
	}

	s.planStatus(ctx, plan.ID, models.PlanStatusExecuting, nil)
	slog.Info("Executing plan",
		"plan_id", plan.ID,
		"incident_id", plan.IncidentID,
		"steps", len(steps),
		"approved_by", plan.ApprovedBy)

	status := models.ResolutionResolved
	outputs := make([]map[string]any, 0, len(steps))
	for i, step := range steps {
		result := s.sandbox.Execute(ctx, step.Tool, step.Args)
		s.metrics.StepExecuted(step.Tool, result.OK())
		outputs = append(outputs, models.StepOutput(i, step.Tool, result))
		if !result.OK() {
			slog.Error("Step failed, stopping execution",
				"plan_id", plan.ID, "step", i, "tool", step.Tool, "error", result["error"])
			status = models.ResolutionFailed
			break
		}
	}

	final := models.PlanStatusCompleted
	if status != models.ResolutionResolved {
		final = models.PlanStatusFailed
	}
	s.planStatus(ctx, plan.ID, final, nil)
	s.metrics.ObservePlanExecution(time.Since(start))
	return s.resolution(plan, status, start, outputs)
}

// resolution assembles the terminal event, masking outputs on the way out.
func (s *Service) resolution(plan *models.Plan, status models.ResolutionStatus, start time.Time, outputs []map[string]any) *models.Resolution {
	now := time.Now().UTC()
	action := "Executed plan: " + plan.ID
	if status == models.ResolutionSkipped {
		action = "Skipped plan: " + plan.ID
	}
	return &models.Resolution{
		IncidentID:       plan.IncidentID,
		PlanID:           plan.ID,
		Status:           status,
		ResolutionAction: action,
		Outputs:          s.redactor.MaskOutputs(outputs),
		DurationMS:       time.Since(start).Milliseconds(),
		Timestamp:        &now,
	}
}

// publish emits the resolution and closes out the incident record. A failed
// publish requeues the delivery; the registry keeps the resolution so the
// redelivery publishes it without re-executing.
func (s *Service) publish(ctx context.Context, exec *execution, res *models.Resolution) bus.Verdict {
	if err := s.pub.PublishResolution(ctx, res); err != nil {
		slog.Error("Failed to publish resolution",
			"incident_id", res.IncidentID, "plan_id", res.PlanID, "error", err)
		return bus.Retry
	}
	exec.markPublished()

	if err := s.store.UpdateIncidentStatus(ctx, res.IncidentID, incidentStatusFor(res.Status)); err != nil {
		slog.Warn("Failed to close incident record", "incident_id", res.IncidentID, "error", err)
	}

	slog.Info("Resolution published",
		"incident_id", res.IncidentID,
		"plan_id", res.PlanID,
		"status", res.Status,
		"duration_ms", res.DurationMS)
	return bus.Ack
}

// planStatus records a plan transition. Store lag never fails execution;
// the resolution event is the authoritative outcome.
func (s *Service) planStatus(ctx context.Context, planID string, status models.PlanStatus, extra map[string]any) {
	if err := s.store.UpdateStatus(ctx, planID, status, extra); err != nil {
		slog.Warn("Failed to record plan status", "plan_id", planID, "status", status, "error", err)
	}
}

// incidentStatusFor maps a resolution outcome onto the incident lifecycle.
func incidentStatusFor(status models.ResolutionStatus) models.IncidentStatus {
	switch status {
	case models.ResolutionResolved:
		return models.IncidentStatusResolved
	case models.ResolutionSkipped:
		return models.IncidentStatusSkipped
	default:
		return models.IncidentStatusFailed
	}
}
