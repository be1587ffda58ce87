package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/collab"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
)

func riskOf(v float64) *float64 { return &v }

// TestE2E_RestartDirective drives an operator-directed restart through all
// four agents: incident in, directive plan proposed, auto-approved,
// compiled to two kubectl invocations, resolved, indexed.
func TestE2E_RestartDirective(t *testing.T) {
	p := NewPipeline(t)

	verdict := p.DeliverIncident(`{
		"id": "INC-1",
		"title": "hello deployment unresponsive",
		"affected_service": "hello",
		"severity": "low",
		"instructions": "Restart the hello deployment in sandbox namespace",
		"risk": 0.1
	}`)
	require.Equal(t, bus.Ack, verdict)

	proposed := p.Bus.Proposed()
	require.Len(t, proposed, 1)
	plan := proposed[0]
	assert.Equal(t, "INC-1", plan.IncidentID)
	assert.Equal(t, "Restart the hello deployment in sandbox namespace", plan.Instructions)
	require.NotNil(t, plan.Risk)
	assert.InDelta(t, 0.1, *plan.Risk, 1e-9)

	approved := p.Bus.Approved()
	require.Len(t, approved, 1)
	assert.Equal(t, collab.AutoApprover, approved[0].ApprovedBy)

	calls := p.Executor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t,
		[]string{"/c", "kubectl", "rollout", "restart", "deployment/hello", "-n", "sandbox"},
		ShellArgs(t, calls[0]))
	assert.Equal(t,
		[]string{"/c", "kubectl", "rollout", "status", "deployment/hello", "-n", "sandbox"},
		ShellArgs(t, calls[1]))

	resolutions := p.Bus.Resolutions()
	require.Len(t, resolutions, 1)
	res := resolutions[0]
	assert.Equal(t, models.ResolutionResolved, res.Status)
	assert.Equal(t, "INC-1", res.IncidentID)
	assert.Equal(t, plan.ID, res.PlanID)
	assert.Len(t, res.Outputs, 2)

	upserts := p.Index.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, "INC-1", upserts[0].id)
	assert.Contains(t, upserts[0].document, "Incident: INC-1")
	assert.Contains(t, upserts[0].document, "Title: hello deployment unresponsive")

	assert.Equal(t,
		[]models.PlanStatus{models.PlanStatusApproved, models.PlanStatusExecuting, models.PlanStatusCompleted},
		p.Store.PlanTransitions(plan.ID))
	assert.Equal(t,
		[]models.IncidentStatus{models.IncidentStatusResolved},
		p.Store.IncidentTransitions("INC-1"))
}

// TestE2E_ScaleDirective compiles a scale instruction with an explicit
// replica count and target namespace.
func TestE2E_ScaleDirective(t *testing.T) {
	p := NewPipeline(t)

	verdict := p.DeliverIncident(`{
		"id": "INC-2",
		"title": "web-app saturated",
		"affected_service": "web-app",
		"severity": "medium",
		"instructions": "Scale web-app deployment to 5 replicas in production",
		"risk": 0.2
	}`)
	require.Equal(t, bus.Ack, verdict)

	calls := p.Executor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t,
		[]string{"/c", "kubectl", "scale", "deployment/web-app", "--replicas=5", "-n", "production"},
		ShellArgs(t, calls[0]))
	assert.Equal(t,
		[]string{"/c", "kubectl", "rollout", "status", "deployment/web-app", "-n", "production"},
		ShellArgs(t, calls[1]))

	resolutions := p.Bus.Resolutions()
	require.Len(t, resolutions, 1)
	assert.Equal(t, models.ResolutionResolved, resolutions[0].Status)
}

// TestE2E_AutonomyStop holds a risky plan for a human, then has the actor
// refuse it anyway: approval does not override the autonomy ceiling.
func TestE2E_AutonomyStop(t *testing.T) {
	p := NewPipeline(t)

	plan := &models.Plan{
		ID:         "plan-risky",
		IncidentID: "INC-3",
		Title:      "Fail over to the secondary region",
		Status:     models.PlanStatusProposed,
		Risk:       riskOf(0.9),
	}
	p.SeedPlan(plan)

	require.Equal(t, bus.Ack, p.DeliverProposed(plan))

	// Too risky for policy: held, not forwarded.
	assert.Empty(t, p.Bus.Approved())
	require.Len(t, p.Collab.Pending(), 1)

	_, err := p.Collab.Approve(context.Background(), "plan-risky", "sre-oncall")
	require.NoError(t, err)

	approved := p.Bus.Approved()
	require.Len(t, approved, 1)
	assert.Equal(t, "sre-oncall", approved[0].ApprovedBy)

	// The actor refused execution above its ceiling.
	assert.Empty(t, p.Executor.Calls())

	resolutions := p.Bus.Resolutions()
	require.Len(t, resolutions, 1)
	res := resolutions[0]
	assert.Equal(t, models.ResolutionSkipped, res.Status)
	assert.Equal(t, "Skipped plan: plan-risky", res.ResolutionAction)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "autonomy", res.Outputs[0]["tool"])
	assert.Equal(t, false, res.Outputs[0]["ok"])
	assert.Equal(t, "risk 0.9 > max 0.3", res.Outputs[0]["error"])

	assert.Equal(t,
		[]models.PlanStatus{models.PlanStatusApproved, models.PlanStatusSkipped},
		p.Store.PlanTransitions("plan-risky"))
}

// TestE2E_DuplicateApproval redelivers the same approved plan and expects
// exactly one execution and one resolution.
func TestE2E_DuplicateApproval(t *testing.T) {
	p := NewPipeline(t)

	require.NoError(t, p.Store.SaveIncident(context.Background(), &models.Incident{
		ID:              "INC-4",
		Title:           "hello deployment unresponsive",
		AffectedService: "hello",
	}))
	plan := &models.Plan{
		ID:             "plan-dup",
		IncidentID:     "INC-4",
		Title:          "Restart hello",
		Status:         models.PlanStatusApproved,
		ApprovedBy:     "sre-oncall",
		Risk:           riskOf(0.1),
		IdempotencyKey: "key-1",
		Instructions:   "Restart the hello deployment in sandbox namespace",
	}
	p.SeedPlan(plan)

	require.Equal(t, bus.Ack, p.DeliverApproved(plan))
	require.Equal(t, bus.Ack, p.DeliverApproved(plan))

	// One execution (two steps), one resolution, one index write.
	assert.Len(t, p.Executor.Calls(), 2)
	require.Len(t, p.Bus.Resolutions(), 1)
	assert.Equal(t, models.ResolutionResolved, p.Bus.Resolutions()[0].Status)
	assert.Len(t, p.Index.Upserts(), 1)
	assert.Equal(t,
		[]models.IncidentStatus{models.IncidentStatusResolved},
		p.Store.IncidentTransitions("INC-4"))
}

// TestE2E_SandboxEscape runs an attached fs.write step through a real
// sandbox and expects the path traversal to fail the plan.
func TestE2E_SandboxEscape(t *testing.T) {
	cfg := DefaultPipelineConfig()
	sb := NewSandbox(t, cfg)
	p := NewPipeline(t, WithConfig(cfg), WithExecutor(sb))

	plan := &models.Plan{
		ID:         "plan-escape",
		IncidentID: "INC-5",
		Title:      "Patch node config",
		Status:     models.PlanStatusProposed,
		Risk:       riskOf(0.1),
		Steps: []models.ExecStep{{
			Tool: sandbox.ToolFSWrite,
			Args: map[string]any{"path": "../../../../etc/passwd", "content": "x"},
		}},
	}
	p.SeedPlan(plan)

	require.Equal(t, bus.Ack, p.DeliverProposed(plan))

	resolutions := p.Bus.Resolutions()
	require.Len(t, resolutions, 1)
	res := resolutions[0]
	assert.Equal(t, models.ResolutionFailed, res.Status)
	require.Len(t, res.Outputs, 1)

	result, ok := res.Outputs[0]["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, result["ok"])
	errText, _ := result["error"].(string)
	assert.Contains(t, errText, "escapes sandbox")

	assert.Equal(t,
		[]models.PlanStatus{models.PlanStatusApproved, models.PlanStatusExecuting, models.PlanStatusFailed},
		p.Store.PlanTransitions("plan-escape"))
}

// TestE2E_IncidentRedeliveryReusesPlan replays the same incident and
// expects the cached plan downstream, where the actor deduplicates it.
func TestE2E_IncidentRedeliveryReusesPlan(t *testing.T) {
	p := NewPipeline(t)

	body := `{
		"id": "INC-7",
		"title": "hello deployment unresponsive",
		"affected_service": "hello",
		"severity": "low",
		"instructions": "Restart the hello deployment in sandbox namespace",
		"risk": 0.1
	}`
	require.Equal(t, bus.Ack, p.DeliverIncident(body))
	require.Equal(t, bus.Ack, p.DeliverIncident(body))

	// Same plan proposed twice, executed once.
	proposed := p.Bus.Proposed()
	require.Len(t, proposed, 2)
	assert.Equal(t, proposed[0].ID, proposed[1].ID)
	assert.Len(t, p.Executor.Calls(), 2)
	assert.Len(t, p.Bus.Resolutions(), 1)
	assert.Len(t, p.Index.Upserts(), 1)
}

// TestE2E_LowConfidenceWebSearch gives the history index only weak matches
// and expects public knowledge to be consulted and fed into synthesis.
func TestE2E_LowConfidenceWebSearch(t *testing.T) {
	searcher := &staticSearcher{results: []models.WebResult{{
		Title: "Debugging OOMKilled pods",
		URL:   "https://kubernetes.io/docs/tasks/debug/debug-application/",
		Score: 0.83,
	}}}
	p := NewPipeline(t, WithSearcher(searcher))
	p.Index.matches = []models.SimilarIncident{
		{IncidentID: "INC-old-1", Title: "checkout OOM", Similarity: 0.62},
		{IncidentID: "INC-old-2", Title: "cart OOM", Similarity: 0.58},
	}

	p.LLM.Script(`{
		"root_cause": "Memory limit unchanged after traffic growth",
		"impact_assessment": "checkout requests failing",
		"remediation_plan": [{"step": 1, "action": "Restart the checkout deployment in production namespace"}],
		"risk_score": 2,
		"verification_steps": ["watch rollout status"],
		"rollback_plan": ["restore previous replica count"],
		"prevention_recommendations": ["right-size memory limits"]
	}`)

	verdict := p.DeliverIncident(`{
		"id": "INC-6",
		"title": "checkout pods OOMKilled",
		"affected_service": "checkout",
		"severity": "high",
		"description": "checkout pods restarting with OOMKilled"
	}`)
	require.Equal(t, bus.Ack, verdict)

	proposed := p.Bus.Proposed()
	require.Len(t, proposed, 1)
	plan := proposed[0]

	// Both weak matches fell below the similarity floor.
	require.NotNil(t, plan.Metadata)
	assert.Zero(t, plan.Metadata.InternalConfidence)
	assert.Contains(t, plan.Metadata.ContextSources, "history")
	assert.Contains(t, plan.Metadata.ContextSources, "web_search")
	assert.Equal(t, 1, searcher.CallCount())

	// The search hit reached the synthesis prompt.
	requests := p.LLM.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].User, "Debugging OOMKilled pods")

	// Synthesis produced an executable remediation.
	calls := p.Executor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t,
		[]string{"/c", "kubectl", "rollout", "restart", "deployment/checkout", "-n", "production"},
		ShellArgs(t, calls[0]))

	resolutions := p.Bus.Resolutions()
	require.Len(t, resolutions, 1)
	assert.Equal(t, models.ResolutionResolved, resolutions[0].Status)
}
