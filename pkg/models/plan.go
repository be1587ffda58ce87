package models

import (
	"fmt"
	"strings"
	"time"
)

// PlanStatus tracks a remediation plan through approval and execution.
type PlanStatus string

const (
	PlanStatusProposed  PlanStatus = "proposed"
	PlanStatusApproved  PlanStatus = "approved"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusSkipped   PlanStatus = "skipped"
)

// IsValid checks if the plan status is known.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusProposed, PlanStatusApproved, PlanStatusExecuting,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the plan's lifecycle.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusSkipped:
		return true
	default:
		return false
	}
}

// RiskLevel is the coarse risk classification a synthesized plan carries.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid checks if the risk level is known.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Score maps the coarse level onto the [0,1] risk scale used by the
// approval policy and the autonomy ceiling.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLow:
		return 0.2
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 0.9
	default:
		return 0.5
	}
}

// ParseRiskLevel normalizes free-form risk text from LLM output.
func ParseRiskLevel(s string) RiskLevel {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if r.IsValid() {
		return r
	}
	return ""
}

// RiskLevelFromRisk classifies a numeric [0,1] risk into the coarse
// level. The bands are the inverse of Score: each level maps back to
// itself, so a plan carrying both fields stays coherent.
func RiskLevelFromRisk(r float64) RiskLevel {
	switch {
	case r < 0.35:
		return RiskLow
	case r <= 0.7:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// PlanType records which synthesis path produced the plan.
type PlanType string

const (
	PlanTypeComprehensive PlanType = "comprehensive"
	PlanTypeQuick         PlanType = "quick"
	PlanTypeDeepDive      PlanType = "deep_dive"
	PlanTypeFallback      PlanType = "fallback"
)

// PlanStep is one human-readable remediation instruction.
type PlanStep struct {
	Step          int    `json:"step,omitempty"`
	Action        string `json:"action"`
	Target        string `json:"target,omitempty"`
	Command       string `json:"command,omitempty"`
	Notes         string `json:"notes,omitempty"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}

// ExecStep is one compiled, executable sandbox invocation.
type ExecStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// PlanMetadata records how a plan was produced.
type PlanMetadata struct {
	ModelUsed       string            `json:"model_used,omitempty"`
	ContextSources  []string          `json:"context_sources,omitempty"`
	GatheringTimeMS int64             `json:"gathering_time_ms,omitempty"`
	ContextErrors   map[string]string `json:"context_errors,omitempty"`
	// InternalConfidence is the history-index coverage score the context
	// carried at synthesis time, kept for the post-resolution summary.
	InternalConfidence float64 `json:"internal_confidence,omitempty"`
	ParseError         string  `json:"parse_error,omitempty"`
	CacheHit           bool    `json:"cache_hit,omitempty"`
	TokensUsed         int     `json:"tokens_used,omitempty"`
}

// Plan is a remediation proposal for one incident. RemediationPlan holds the
// operator-readable instructions; Steps, when present, holds the compiled
// sandbox invocations the Actor will run without recompiling.
type Plan struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incident_id"`
	Title      string     `json:"title"`
	Status     PlanStatus `json:"status"`

	AffectedService string `json:"affected_service,omitempty"`

	RootCause        string `json:"root_cause,omitempty"`
	ImpactAssessment string `json:"impact_assessment,omitempty"`

	RemediationPlan []PlanStep `json:"remediation_plan,omitempty"`
	Steps           []ExecStep `json:"steps,omitempty"`

	// Instructions is accepted as producer input: natural-language orders
	// the executor compiles into Steps when Steps is absent.
	Instructions string `json:"instructions,omitempty"`

	VerificationSteps []string `json:"verification_steps,omitempty"`
	RollbackPlan      []string `json:"rollback_plan,omitempty"`
	Prevention        []string `json:"prevention_recommendations,omitempty"`

	// Risk is the numeric risk score in [0,1] when the producer supplied
	// one. RiskLevel is the coarse classification. EffectiveRisk resolves
	// the two.
	Risk      *float64  `json:"risk,omitempty"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`

	PlanType PlanType `json:"plan_type,omitempty"`

	// IdempotencyKey deduplicates redelivered approvals. Empty means the
	// executor derives "<incident_id>:<plan_id>".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovalTimestamp *time.Time `json:"approval_timestamp,omitempty"`

	Metadata *PlanMetadata `json:"metadata,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// EffectiveRisk resolves the plan's risk on the [0,1] scale. A numeric risk
// wins over the coarse level; values outside [0,1] are clamped. With
// neither present the plan is treated as medium risk.
func (p *Plan) EffectiveRisk() float64 {
	if p.Risk != nil {
		r := *p.Risk
		if r < 0 {
			return 0
		}
		if r > 1 {
			return 1
		}
		return r
	}
	if p.RiskLevel.IsValid() {
		return p.RiskLevel.Score()
	}
	return 0.5
}

// DedupKey returns the idempotency key, deriving the default when absent.
func (p *Plan) DedupKey() string {
	if p.IdempotencyKey != "" {
		return p.IdempotencyKey
	}
	return fmt.Sprintf("%s:%s", p.IncidentID, p.ID)
}
