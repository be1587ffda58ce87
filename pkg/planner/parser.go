package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kubeminder/kubeminder/pkg/models"
)

var trailingCommas = regexp.MustCompile(`,\s*([}\]])`)

// extractJSON pulls a JSON object out of raw LLM text. The cascade:
// direct parse, markdown fence stripping, first balanced object
// extraction, trailing comma cleanup. Returns the raw object bytes so
// callers can decode into their own shape.
func extractJSON(content string) ([]byte, error) {
	candidates := []string{strings.TrimSpace(content)}
	if stripped := stripFences(candidates[0]); stripped != candidates[0] {
		candidates = append(candidates, stripped)
	}

	for _, c := range candidates {
		if isJSONObject(c) {
			return []byte(c), nil
		}
		body, ok := firstBalancedObject(c)
		if !ok {
			continue
		}
		if isJSONObject(body) {
			return []byte(body), nil
		}
		cleaned := trailingCommas.ReplaceAllString(body, "${1}")
		if isJSONObject(cleaned) {
			return []byte(cleaned), nil
		}
	}
	return nil, errors.New("no valid JSON object in response")
}

func isJSONObject(s string) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj) == nil
}

// stripFences removes markdown code fences by toggling on fence lines and
// keeping what sits between them.
func stripFences(s string) string {
	if !strings.HasPrefix(strings.TrimSpace(s), "```") {
		return s
	}

	var kept []string
	inside := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inside = !inside
			continue
		}
		if inside {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// firstBalancedObject scans from the first opening brace to its matching
// close, ignoring braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// comprehensiveDoc is the response schema of the comprehensive template.
type comprehensiveDoc struct {
	RootCause         string            `json:"root_cause"`
	ImpactAssessment  string            `json:"impact_assessment"`
	RemediationPlan   []models.PlanStep `json:"remediation_plan"`
	RiskScore         float64           `json:"risk_score"`
	VerificationSteps []string          `json:"verification_steps"`
	RollbackPlan      []string          `json:"rollback_plan"`
	Prevention        []string          `json:"prevention_recommendations"`
}

// quickDoc is the response schema of the quick template.
type quickDoc struct {
	ImmediateActions    []quickAction `json:"immediate_actions"`
	RootCauseHypothesis string        `json:"root_cause_hypothesis"`
	RiskScore           float64       `json:"risk_score"`
	NextSteps           []string      `json:"next_steps"`
}

type quickAction struct {
	Action   string `json:"action"`
	Command  string `json:"command"`
	Priority string `json:"priority"`
}

// deepDiveDoc is the response schema of the deep dive template. The
// timeline and dependency sections are narrative only and not lifted
// into the plan record.
type deepDiveDoc struct {
	RootCauseHypotheses []ddHypothesis `json:"root_cause_hypotheses"`
	ComprehensivePlan   ddPlan         `json:"comprehensive_plan"`
	RiskAssessment      ddRisk         `json:"risk_assessment"`
}

type ddHypothesis struct {
	Hypothesis  string   `json:"hypothesis"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence"`
	TestActions []string `json:"test_actions"`
}

type ddPlan struct {
	ImmediateStabilization []string `json:"immediate_stabilization"`
	InvestigationPhase     []string `json:"investigation_phase"`
	ResolutionPhase        []string `json:"resolution_phase"`
	ValidationPhase        []string `json:"validation_phase"`
	PreventionPhase        []string `json:"prevention_phase"`
}

type ddRisk struct {
	CurrentRisk         float64 `json:"current_risk"`
	PotentialEscalation string  `json:"potential_escalation"`
	BusinessImpact      string  `json:"business_impact"`
}

// planFromResponse decodes the LLM output for the given template into a
// partially filled plan. Identity fields and metadata are stamped by the
// engine afterwards.
func planFromResponse(planType models.PlanType, content string) (*models.Plan, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	switch planType {
	case models.PlanTypeQuick:
		return quickPlan(raw)
	case models.PlanTypeDeepDive:
		return deepDivePlan(raw)
	default:
		return comprehensivePlan(raw)
	}
}

func comprehensivePlan(raw []byte) (*models.Plan, error) {
	var doc comprehensiveDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode comprehensive plan: %w", err)
	}

	for i := range doc.RemediationPlan {
		if doc.RemediationPlan[i].Step == 0 {
			doc.RemediationPlan[i].Step = i + 1
		}
	}

	return &models.Plan{
		RootCause:         doc.RootCause,
		ImpactAssessment:  doc.ImpactAssessment,
		RemediationPlan:   doc.RemediationPlan,
		RiskLevel:         riskLevelFromScore(doc.RiskScore),
		VerificationSteps: doc.VerificationSteps,
		RollbackPlan:      doc.RollbackPlan,
		Prevention:        doc.Prevention,
	}, nil
}

func quickPlan(raw []byte) (*models.Plan, error) {
	var doc quickDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode quick plan: %w", err)
	}

	steps := make([]models.PlanStep, 0, len(doc.ImmediateActions))
	for i, a := range doc.ImmediateActions {
		notes := ""
		if a.Priority != "" {
			notes = "priority: " + a.Priority
		}
		steps = append(steps, models.PlanStep{
			Step:    i + 1,
			Action:  a.Action,
			Command: a.Command,
			Notes:   notes,
		})
	}

	return &models.Plan{
		RootCause:         doc.RootCauseHypothesis,
		RemediationPlan:   steps,
		RiskLevel:         riskLevelFromScore(doc.RiskScore),
		VerificationSteps: doc.NextSteps,
	}, nil
}

func deepDivePlan(raw []byte) (*models.Plan, error) {
	var doc deepDiveDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode deep dive plan: %w", err)
	}

	rootCause := ""
	best := -1.0
	for _, h := range doc.RootCauseHypotheses {
		if h.Confidence > best {
			best = h.Confidence
			rootCause = h.Hypothesis
		}
	}

	var steps []models.PlanStep
	appendPhase := func(actions []string) {
		for _, a := range actions {
			steps = append(steps, models.PlanStep{Step: len(steps) + 1, Action: a})
		}
	}
	appendPhase(doc.ComprehensivePlan.ImmediateStabilization)
	appendPhase(doc.ComprehensivePlan.InvestigationPhase)
	appendPhase(doc.ComprehensivePlan.ResolutionPhase)

	return &models.Plan{
		RootCause:         rootCause,
		ImpactAssessment:  doc.RiskAssessment.BusinessImpact,
		RemediationPlan:   steps,
		RiskLevel:         riskLevelFromScore(doc.RiskAssessment.CurrentRisk),
		VerificationSteps: doc.ComprehensivePlan.ValidationPhase,
		Prevention:        doc.ComprehensivePlan.PreventionPhase,
	}, nil
}

// riskLevelFromScore converts the templates' 1-5 risk score into the
// coarse level. The numeric risk field stays unset: that scale is [0,1]
// and belongs to producers, not to this prompt contract.
func riskLevelFromScore(score float64) models.RiskLevel {
	switch {
	case score <= 0:
		return ""
	case score < 2.5:
		return models.RiskLow
	case score < 3.5:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// FallbackPlan is the deterministic plan used when the LLM response
// cannot be parsed: two read-only diagnostic steps scoped to the service.
func FallbackPlan(inc *models.Incident, parseErr error) *models.Plan {
	svc := inc.AffectedService
	if svc == "" {
		svc = "unknown"
	}

	return &models.Plan{
		RootCause:        "Unable to determine root cause due to analysis error",
		ImpactAssessment: "Impact assessment unavailable",
		RemediationPlan: []models.PlanStep{
			{
				Step:          1,
				Action:        "Check service health",
				Target:        svc,
				Command:       "kubectl get pods -l app=" + svc,
				Notes:         "Basic health check",
				EstimatedTime: "1 minute",
			},
			{
				Step:          2,
				Action:        "Review logs",
				Target:        svc,
				Command:       "kubectl logs -l app=" + svc + " --tail=50",
				Notes:         "Check for error messages",
				EstimatedTime: "2 minutes",
			},
		},
		RiskLevel: models.RiskLow,
		PlanType:  models.PlanTypeFallback,
		VerificationSteps: []string{
			"Check if service is responding",
			"Verify error rate is decreasing",
		},
		RollbackPlan: []string{
			"Restart the affected service",
			"Check for recent deployments to rollback",
		},
		Prevention: []string{
			"Add more comprehensive monitoring",
			"Improve error handling and logging",
		},
		Metadata: &models.PlanMetadata{ParseError: parseErr.Error()},
	}
}
