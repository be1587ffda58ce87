package store

import (
	"time"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// planDocument is the stored shape of a plan. Field names match the wire
// JSON so stored documents read the same as published messages.
type planDocument struct {
	ID         string `bson:"id"`
	IncidentID string `bson:"incident_id"`
	Title      string `bson:"title"`
	Status     string `bson:"status"`

	AffectedService string `bson:"affected_service,omitempty"`

	RootCause        string `bson:"root_cause,omitempty"`
	ImpactAssessment string `bson:"impact_assessment,omitempty"`

	RemediationPlan []planStepDocument `bson:"remediation_plan,omitempty"`
	Steps           []execStepDocument `bson:"steps,omitempty"`
	Instructions    string             `bson:"instructions,omitempty"`

	VerificationSteps []string `bson:"verification_steps,omitempty"`
	RollbackPlan      []string `bson:"rollback_plan,omitempty"`
	Prevention        []string `bson:"prevention_recommendations,omitempty"`

	Risk      *float64 `bson:"risk,omitempty"`
	RiskLevel string   `bson:"risk_level,omitempty"`
	PlanType  string   `bson:"plan_type,omitempty"`

	IdempotencyKey string `bson:"idempotency_key,omitempty"`

	ApprovedBy        string     `bson:"approved_by,omitempty"`
	ApprovalTimestamp *time.Time `bson:"approval_timestamp,omitempty"`

	Metadata *metadataDocument `bson:"metadata,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type planStepDocument struct {
	Step          int    `bson:"step,omitempty"`
	Action        string `bson:"action"`
	Target        string `bson:"target,omitempty"`
	Command       string `bson:"command,omitempty"`
	Notes         string `bson:"notes,omitempty"`
	EstimatedTime string `bson:"estimated_time,omitempty"`
}

type execStepDocument struct {
	Tool string         `bson:"tool"`
	Args map[string]any `bson:"args,omitempty"`
}

type metadataDocument struct {
	ModelUsed          string            `bson:"model_used,omitempty"`
	ContextSources     []string          `bson:"context_sources,omitempty"`
	GatheringTimeMS    int64             `bson:"gathering_time_ms,omitempty"`
	ContextErrors      map[string]string `bson:"context_errors,omitempty"`
	InternalConfidence float64           `bson:"internal_confidence,omitempty"`
	ParseError         string            `bson:"parse_error,omitempty"`
	CacheHit           bool              `bson:"cache_hit,omitempty"`
	TokensUsed         int               `bson:"tokens_used,omitempty"`
}

func fromPlan(p *models.Plan) planDocument {
	doc := planDocument{
		ID:                p.ID,
		IncidentID:        p.IncidentID,
		Title:             p.Title,
		Status:            string(p.Status),
		AffectedService:   p.AffectedService,
		RootCause:         p.RootCause,
		ImpactAssessment:  p.ImpactAssessment,
		Instructions:      p.Instructions,
		VerificationSteps: p.VerificationSteps,
		RollbackPlan:      p.RollbackPlan,
		Prevention:        p.Prevention,
		Risk:              p.Risk,
		RiskLevel:         string(p.RiskLevel),
		PlanType:          string(p.PlanType),
		IdempotencyKey:    p.IdempotencyKey,
		ApprovedBy:        p.ApprovedBy,
		ApprovalTimestamp: p.ApprovalTimestamp,
	}

	for _, s := range p.RemediationPlan {
		doc.RemediationPlan = append(doc.RemediationPlan, planStepDocument(s))
	}
	for _, s := range p.Steps {
		doc.Steps = append(doc.Steps, execStepDocument{Tool: s.Tool, Args: s.Args})
	}
	if p.Metadata != nil {
		m := metadataDocument(*p.Metadata)
		doc.Metadata = &m
	}
	if p.CreatedAt != nil {
		doc.CreatedAt = p.CreatedAt.UTC()
	}
	if p.UpdatedAt != nil {
		doc.UpdatedAt = p.UpdatedAt.UTC()
	}
	return doc
}

func (doc planDocument) toPlan() *models.Plan {
	p := &models.Plan{
		ID:                doc.ID,
		IncidentID:        doc.IncidentID,
		Title:             doc.Title,
		Status:            models.PlanStatus(doc.Status),
		AffectedService:   doc.AffectedService,
		RootCause:         doc.RootCause,
		ImpactAssessment:  doc.ImpactAssessment,
		Instructions:      doc.Instructions,
		VerificationSteps: doc.VerificationSteps,
		RollbackPlan:      doc.RollbackPlan,
		Prevention:        doc.Prevention,
		Risk:              doc.Risk,
		RiskLevel:         models.RiskLevel(doc.RiskLevel),
		PlanType:          models.PlanType(doc.PlanType),
		IdempotencyKey:    doc.IdempotencyKey,
		ApprovedBy:        doc.ApprovedBy,
		ApprovalTimestamp: doc.ApprovalTimestamp,
	}

	for _, s := range doc.RemediationPlan {
		p.RemediationPlan = append(p.RemediationPlan, models.PlanStep(s))
	}
	for _, s := range doc.Steps {
		p.Steps = append(p.Steps, models.ExecStep{Tool: s.Tool, Args: s.Args})
	}
	if doc.Metadata != nil {
		m := models.PlanMetadata(*doc.Metadata)
		p.Metadata = &m
	}
	if !doc.CreatedAt.IsZero() {
		created := doc.CreatedAt
		p.CreatedAt = &created
	}
	if !doc.UpdatedAt.IsZero() {
		updated := doc.UpdatedAt
		p.UpdatedAt = &updated
	}
	return p
}
