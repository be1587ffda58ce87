package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubeminder/kubeminder/pkg/models"
)

func TestFormatLogs(t *testing.T) {
	assert.Equal(t, "No recent logs available", FormatLogs(nil))

	got := FormatLogs([]models.LogEntry{
		{Timestamp: "2026-08-25T10:00:00Z", Level: "error", Message: "conn refused"},
		{Message: "no level or timestamp"},
	})
	assert.Equal(t, "[2026-08-25T10:00:00Z] ERROR: conn refused\n[unknown] INFO: no level or timestamp", got)
}

func TestFormatLogsCapped(t *testing.T) {
	var logs []models.LogEntry
	for i := 0; i < 30; i++ {
		logs = append(logs, models.LogEntry{Message: fmt.Sprintf("line %d", i)})
	}
	got := FormatLogs(logs)
	assert.Len(t, strings.Split(got, "\n"), 20)
	assert.Contains(t, got, "line 0")
	assert.NotContains(t, got, "line 20")
}

func TestFormatK8sEvents(t *testing.T) {
	assert.Equal(t, "No Kubernetes events available", FormatK8sEvents(nil))

	got := FormatK8sEvents([]models.K8sEvent{
		{Type: "Warning", Reason: "BackOff", Message: "restarting container"},
		{Message: "untyped"},
	})
	assert.Equal(t, "- Warning: BackOff - restarting container\n- Unknown: Unknown - untyped", got)
}

func TestFormatMetrics(t *testing.T) {
	assert.Equal(t, "No metrics available", FormatMetrics(nil))
	assert.Equal(t, "No metrics available", FormatMetrics(&models.Metrics{}))

	got := FormatMetrics(&models.Metrics{
		ErrorRate:    0.12,
		LatencyP95MS: 950,
		Extra:        map[string]float64{"queue_depth": 42, "gc_pause_ms": 7},
	})
	// Canonical keys first, extras sorted.
	assert.Equal(t, "- error_rate: 0.12\n- latency_p95_ms: 950\n- gc_pause_ms: 7\n- queue_depth: 42", got)
}

func TestFormatSimilarIncidents(t *testing.T) {
	assert.Equal(t, "No similar incidents found", FormatSimilarIncidents(nil))

	got := FormatSimilarIncidents([]models.SimilarIncident{
		{Title: "Pod OOM loop", Similarity: 0.915, Summary: "memory limit too low"},
	})
	assert.Equal(t, "- Pod OOM loop (Similarity: 0.92): memory limit too low", got)
}

func TestFormatCommits(t *testing.T) {
	assert.Equal(t, "No recent commits found", FormatCommits(nil))

	got := FormatCommits([]models.GitCommit{
		{SHA: "0123456789abcdef", Message: "raise pool size", Author: "dev@corp"},
		{Message: "authorless"},
	})
	assert.Equal(t, "- 01234567: raise pool size (by dev@corp)\n- unknown: authorless (by unknown)", got)
}

func TestFormatWebKnowledgeTruncates(t *testing.T) {
	assert.Equal(t, "No relevant external knowledge found", FormatWebKnowledge(nil))

	long := strings.Repeat("x", 250)
	got := FormatWebKnowledge([]models.WebResult{{Title: "CrashLoopBackOff", Content: long}})
	assert.Equal(t, "- CrashLoopBackOff: "+strings.Repeat("x", 200)+"...", got)
}

func TestFormatDetailedLogsIncludesSource(t *testing.T) {
	assert.Equal(t, "No detailed logs available", formatDetailedLogs(nil))

	got := formatDetailedLogs([]models.LogEntry{
		{Timestamp: "t1", Level: "warn", Source: "loki", Message: "slow query"},
		{Message: "bare"},
	})
	assert.Equal(t, "[t1] WARN (loki): slow query\n[unknown] INFO (unknown): bare", got)
}

func TestHistoricalPatterns(t *testing.T) {
	assert.Equal(t, "No historical patterns available", historicalPatterns(nil))

	noResolutions := []models.SimilarIncident{{Title: "Mystery outage"}}
	assert.Equal(t, "No resolution patterns found", historicalPatterns(noResolutions))

	got := historicalPatterns([]models.SimilarIncident{
		{Title: "Pod OOM loop", Resolution: "raised memory limit"},
		{Title: "Unresolved one"},
	})
	assert.Equal(t, "- Pod OOM loop: raised memory limit", got)
}

func TestInfrastructureChanges(t *testing.T) {
	got := infrastructureChanges([]models.GitCommit{
		{Message: "Deploy new payment flow"},
		{Message: "fix typo in readme"},
		{Message: "update helm values for prod"},
	})
	assert.Equal(t, "- Deploy new payment flow\n- update helm values for prod", got)

	assert.Equal(t, "No infrastructure changes found", infrastructureChanges(nil))
}

func TestAffectedComponents(t *testing.T) {
	inc := &models.Incident{
		AffectedService: "payment-service",
		Logs: []models.LogEntry{
			{Pod: "payment-7f9c"},
			{Pod: "payment-7f9c"},
			{Pod: "payment-b441"},
			{},
			{Pod: "payment-sidecar"},
			{Pod: "past-the-window"},
		},
	}
	// First five log lines contribute pods, deduplicated in order.
	assert.Equal(t, "payment-service, payment-7f9c, payment-b441, payment-sidecar", affectedComponents(inc))

	assert.Equal(t, "unknown", affectedComponents(&models.Incident{}))
}

func TestBuildPromptSelectsTemplate(t *testing.T) {
	inc := &models.Incident{
		ID:              "inc-9",
		Title:           "Gateway errors",
		AffectedService: "api-gateway",
		Severity:        models.SeverityHigh,
		Logs: []models.LogEntry{
			{Level: "error", Message: "upstream connect error", Pod: "gw-1234"},
		},
	}
	ec := &models.EnrichedContext{}

	comprehensive := buildPrompt(models.PlanTypeComprehensive, inc, ec)
	assert.Contains(t, comprehensive, "expert Site Reliability Engineer")
	assert.Contains(t, comprehensive, "inc-9")
	assert.Contains(t, comprehensive, "No similar incidents found")

	quick := buildPrompt(models.PlanTypeQuick, inc, ec)
	assert.Contains(t, quick, "urgent Kubernetes incident")
	assert.Contains(t, quick, "upstream connect error")

	deep := buildPrompt(models.PlanTypeDeepDive, inc, ec)
	assert.Contains(t, deep, "deep dive analysis")
	assert.Contains(t, deep, "api-gateway, gw-1234")
}

func TestBuildPromptPrefersGatheredContext(t *testing.T) {
	inc := &models.Incident{
		ID:   "inc-9",
		Logs: []models.LogEntry{{Message: "attached line"}},
	}
	ec := &models.EnrichedContext{
		RecentLogs: []models.LogEntry{{Message: "gathered line"}},
	}

	prompt := buildPrompt(models.PlanTypeComprehensive, inc, ec)
	assert.Contains(t, prompt, "gathered line")
	assert.NotContains(t, prompt, "attached line")
}
