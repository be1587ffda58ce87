package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
)

// PlanPublisher publishes proposed plans onto the bus.
type PlanPublisher interface {
	PublishPlanProposed(ctx context.Context, plan *models.Plan) error
}

// PlanStore persists the records the planner produces: the normalized
// incident and its plan.
type PlanStore interface {
	SaveIncident(ctx context.Context, inc *models.Incident) error
	SavePlan(ctx context.Context, plan *models.Plan) error
}

// ContextGatherer assembles enriched context for enhanced synthesis.
type ContextGatherer interface {
	Enrich(ctx context.Context, inc *models.Incident) *models.EnrichedContext
}

// Service is the planner agent: it consumes new incidents, decides how
// much context and quota each one deserves, synthesizes a plan and
// publishes it for approval.
type Service struct {
	cfg      *config.PlannerConfig
	engine   *Engine
	gatherer ContextGatherer
	store    PlanStore
	pub      PlanPublisher
	quota    *QuotaManager
	cache    *planCache
	metrics  *metrics.Metrics
}

// NewService wires the planner pipeline.
func NewService(cfg *config.PlannerConfig, engine *Engine, gatherer ContextGatherer, store PlanStore, pub PlanPublisher, m *metrics.Metrics) *Service {
	return &Service{
		cfg:      cfg,
		engine:   engine,
		gatherer: gatherer,
		store:    store,
		pub:      pub,
		quota:    NewQuotaManager(cfg.Quota),
		cache:    newPlanCache(cfg.CacheTTL),
		metrics:  m,
	}
}

// Quota exposes the usage snapshot for the health surface.
func (s *Service) Quota() QuotaStatus {
	return s.quota.Status()
}

// HandleIncident is the q.incidents.new consumer handler.
func (s *Service) HandleIncident(ctx context.Context, d amqp.Delivery) bus.Verdict {
	s.metrics.EventConsumed(bus.QueueIncidentsNew)

	var inc models.Incident
	if err := json.Unmarshal(d.Body, &inc); err != nil {
		slog.Error("Discarding unparseable incident", "message_id", d.MessageId, "error", err)
		return bus.Reject
	}
	if inc.ID == "" {
		slog.Error("Discarding incident without id", "message_id", d.MessageId)
		return bus.Reject
	}

	Normalize(&inc)
	slog.Info("Processing incident",
		"incident_id", inc.ID,
		"service", inc.AffectedService,
		"severity", inc.Severity,
		"error_logs", inc.ErrorLogCount)

	// The record must exist before any plan referencing it is published.
	inc.Status = models.IncidentStatusTriaged
	if err := s.store.SaveIncident(ctx, &inc); err != nil {
		slog.Error("Failed to persist incident", "incident_id", inc.ID, "error", err)
		return bus.Retry
	}

	if cached, ok := s.cache.Get(&inc); ok {
		slog.Info("Plan cache hit", "incident_id", inc.ID, "plan_id", cached.ID)
		return s.emit(ctx, cached)
	}

	plan, verdict := s.synthesize(ctx, &inc)
	if plan == nil {
		return verdict
	}
	s.cache.Set(&inc, plan)
	return s.emit(ctx, plan)
}

// synthesize produces the plan for one normalized incident, choosing
// between directive passthrough, enhanced and basic synthesis.
func (s *Service) synthesize(ctx context.Context, inc *models.Incident) (*models.Plan, bus.Verdict) {
	if plan := directivePlan(inc); plan != nil {
		slog.Info("Incident carries operator instructions, skipping synthesis",
			"incident_id", inc.ID, "plan_id", plan.ID)
		return plan, bus.Ack
	}

	priority := PriorityFor(inc.Severity)
	ec := &models.EnrichedContext{}
	if s.wantsEnhanced(inc) {
		if s.quota.CanMakeRequest(priority) {
			ec = s.gatherer.Enrich(ctx, inc)
			s.metrics.ObserveGathering(time.Duration(ec.GatheringTimeMS) * time.Millisecond)
			s.metrics.WebSearch(ec.WebSearchTriggered)
		} else {
			s.metrics.QuotaDenial()
			slog.Warn("Quota exhausted, downgrading to basic synthesis",
				"incident_id", inc.ID, "priority", priority)
		}
	}

	planType := SelectPlanType(inc)
	plan, err := s.engine.Synthesize(ctx, inc, ec, planType)
	s.quota.Record(err == nil)
	if err != nil {
		slog.Error("Plan synthesis failed", "incident_id", inc.ID, "error", err)
		return nil, bus.Retry
	}
	return plan, bus.Ack
}

// emit persists then publishes, in that order: an approval must never
// arrive for a plan the store cannot produce.
func (s *Service) emit(ctx context.Context, plan *models.Plan) bus.Verdict {
	if err := s.store.SavePlan(ctx, plan); err != nil {
		slog.Error("Failed to persist plan", "plan_id", plan.ID, "error", err)
		return bus.Retry
	}
	if err := s.pub.PublishPlanProposed(ctx, plan); err != nil {
		slog.Error("Failed to publish plan", "plan_id", plan.ID, "error", err)
		return bus.Retry
	}
	s.metrics.PlanPublished(string(models.PlanStatusProposed))
	slog.Info("Published plan",
		"plan_id", plan.ID,
		"incident_id", plan.IncidentID,
		"plan_type", plan.PlanType,
		"risk_level", plan.RiskLevel)
	return bus.Ack
}

// wantsEnhanced applies the context-enrichment triggers: high severity,
// critical service membership, or error volume above the complexity
// threshold.
func (s *Service) wantsEnhanced(inc *models.Incident) bool {
	if inc.Severity == models.SeverityHigh {
		return true
	}
	service := strings.ToLower(inc.AffectedService)
	for _, critical := range s.cfg.CriticalServices {
		if critical != "" && strings.Contains(service, strings.ToLower(critical)) {
			return true
		}
	}
	return inc.ErrorLogCount > s.cfg.ComplexityThreshold
}

// directivePlan short-circuits synthesis for operator-directed incidents:
// instructions and risk ride through to the actor untouched and no quota
// is spent.
func directivePlan(inc *models.Incident) *models.Plan {
	text, _ := inc.Extra["instructions"].(string)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	plan := &models.Plan{
		ID:              "plan_" + uuid.NewString(),
		IncidentID:      inc.ID,
		Status:          models.PlanStatusProposed,
		Title:           "Remediation for " + valueOr(inc.Title, "Incident"),
		AffectedService: inc.AffectedService,
		Instructions:    text,
	}
	if r, ok := inc.Extra["risk"].(float64); ok {
		risk := r
		plan.Risk = &risk
		plan.RiskLevel = models.RiskLevelFromRisk(risk)
	} else {
		plan.RiskLevel = models.RiskMedium
	}
	return plan
}
