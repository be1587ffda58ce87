package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/llm"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
)

// Plan-type thresholds on the error log volume of high severity incidents.
const (
	quickErrorThreshold    = 10
	deepDiveErrorThreshold = 5
)

// SelectPlanType picks the prompt template from severity and error
// volume. A flood of errors needs fast stabilization, a moderate count on
// a high severity incident suggests something worth digging into, and
// everything else gets the full analysis. The choice affects only the
// template; every type yields the same plan schema.
func SelectPlanType(inc *models.Incident) models.PlanType {
	if inc.Severity == models.SeverityHigh {
		if inc.ErrorLogCount > quickErrorThreshold {
			return models.PlanTypeQuick
		}
		if inc.ErrorLogCount > deepDiveErrorThreshold {
			return models.PlanTypeDeepDive
		}
	}
	return models.PlanTypeComprehensive
}

// Engine turns an incident plus gathered context into a remediation plan
// through one LLM completion.
type Engine struct {
	llm       llm.Client
	model     string
	maxTokens int
	metrics   *metrics.Metrics
}

// NewEngine builds an engine on the given completion client.
func NewEngine(client llm.Client, cfg *config.LLMConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		llm:       client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		metrics:   m,
	}
}

// Synthesize runs one completion and parses the result into a plan.
// Transport failures are returned for requeue; unparseable output
// degrades to the deterministic fallback plan instead of failing the
// incident.
func (e *Engine) Synthesize(ctx context.Context, inc *models.Incident, ec *models.EnrichedContext, planType models.PlanType) (*models.Plan, error) {
	prompt := buildPrompt(planType, inc, ec)

	start := time.Now()
	resp, err := e.llm.Chat(ctx, llm.Request{
		User:        prompt,
		Temperature: 0,
		MaxTokens:   e.maxTokens,
		ForceJSON:   true,
	})
	e.metrics.ObserveLLM(time.Since(start))
	if err != nil {
		e.metrics.LLMRequest(llmOutcome(err))
		return nil, fmt.Errorf("failed to synthesize %s plan for incident %s: %w", planType, inc.ID, err)
	}
	e.metrics.LLMRequest("ok")

	plan, perr := planFromResponse(planType, resp.Content)
	if perr != nil {
		slog.Warn("Plan response unparseable, using fallback plan",
			"incident_id", inc.ID,
			"plan_type", planType,
			"error", perr)
		plan = FallbackPlan(inc, perr)
		planType = models.PlanTypeFallback
	}

	e.finalize(plan, inc, ec, planType, resp)
	return plan, nil
}

// finalize stamps identity, defaults and synthesis metadata onto a
// freshly parsed plan.
func (e *Engine) finalize(plan *models.Plan, inc *models.Incident, ec *models.EnrichedContext, planType models.PlanType, resp *llm.Response) {
	if plan.ID == "" {
		plan.ID = "plan_" + uuid.NewString()
	}
	plan.IncidentID = inc.ID
	if plan.Status == "" {
		plan.Status = models.PlanStatusProposed
	}
	if plan.Title == "" {
		plan.Title = "Remediation for " + valueOr(inc.Title, "Incident")
	}
	if plan.AffectedService == "" {
		plan.AffectedService = inc.AffectedService
	}
	if plan.PlanType == "" {
		plan.PlanType = planType
	}
	if plan.RiskLevel == "" && plan.Risk == nil {
		plan.RiskLevel = models.RiskMedium
	}

	// The actor needs something executable. Remediation steps become
	// instruction text it can compile when the response carried no
	// ready-made tool steps.
	if len(plan.Steps) == 0 && plan.Instructions == "" {
		plan.Instructions = instructionsFromRemediation(plan.RemediationPlan)
	}

	meta := plan.Metadata
	if meta == nil {
		meta = &models.PlanMetadata{}
	}
	meta.ModelUsed = e.model
	meta.TokensUsed = resp.TokensUsed
	meta.ContextSources = ec.SourcesUsed
	meta.GatheringTimeMS = ec.GatheringTimeMS
	meta.InternalConfidence = ec.InternalConfidence
	if len(ec.GatheringErrors) > 0 {
		meta.ContextErrors = ec.GatheringErrors
	}
	plan.Metadata = meta
}

// instructionsFromRemediation flattens remediation steps into the
// natural-language form the actor's compiler accepts.
func instructionsFromRemediation(steps []models.PlanStep) string {
	var lines []string
	for _, s := range steps {
		switch {
		case s.Action != "" && s.Command != "":
			lines = append(lines, s.Action+": "+s.Command)
		case s.Command != "":
			lines = append(lines, s.Command)
		case s.Action != "":
			lines = append(lines, s.Action)
		}
	}
	return strings.Join(lines, "\n")
}

// llmOutcome labels an LLM failure for the request counter.
func llmOutcome(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "breaker_open"
	}
	return "error"
}
