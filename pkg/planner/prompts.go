package planner

import (
	"fmt"
	"strings"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// buildPrompt fills the template the plan type selects. Basic synthesis
// passes an empty context; the placeholders then collapse to their
// "nothing available" defaults and the incident body carries the prompt.
func buildPrompt(planType models.PlanType, inc *models.Incident, ec *models.EnrichedContext) string {
	switch planType {
	case models.PlanTypeQuick:
		return buildQuickPrompt(inc, ec)
	case models.PlanTypeDeepDive:
		return buildDeepDivePrompt(inc, ec)
	default:
		return buildComprehensivePrompt(inc, ec)
	}
}

func buildComprehensivePrompt(inc *models.Incident, ec *models.EnrichedContext) string {
	return fmt.Sprintf(comprehensiveTemplate,
		valueOr(inc.AffectedService, "unknown"),
		valueOr(inc.Title, "Unknown Incident"),
		valueOr(inc.Hypothesis, "No summary available"),
		severityLabel(inc.Severity),
		valueOr(inc.ID, "unknown"),
		FormatLogs(contextLogs(inc, ec)),
		FormatK8sEvents(inc.K8sEvents),
		FormatMetrics(inc.Metrics),
		FormatSimilarIncidents(ec.SimilarIncidents),
		FormatCommits(contextCommits(inc, ec)),
		FormatWebKnowledge(ec.WebResults),
	)
}

func buildQuickPrompt(inc *models.Incident, ec *models.EnrichedContext) string {
	logs := contextLogs(inc, ec)
	var errorLines []string
	for _, l := range logs {
		if l.Level == "error" {
			errorLines = append(errorLines, l.Message)
			if len(errorLines) == 5 {
				break
			}
		}
	}

	commits := contextCommits(inc, ec)
	if len(commits) > 3 {
		commits = commits[:3]
	}
	var changeLines []string
	for _, c := range commits {
		changeLines = append(changeLines, c.Message)
	}

	return fmt.Sprintf(quickTemplate,
		valueOr(inc.AffectedService, "unknown"),
		valueOr(inc.Title, "Unknown Incident"),
		severityLabel(inc.Severity),
		strings.Join(errorLines, "\n"),
		strings.Join(changeLines, "\n"),
	)
}

func buildDeepDivePrompt(inc *models.Incident, ec *models.EnrichedContext) string {
	return fmt.Sprintf(deepDiveTemplate,
		valueOr(inc.AffectedService, "unknown"),
		valueOr(inc.Title, "Unknown Incident"),
		"Unknown",
		affectedComponents(inc),
		formatDetailedLogs(contextLogs(inc, ec)),
		historicalPatterns(ec.SimilarIncidents),
		infrastructureChanges(contextCommits(inc, ec)),
		FormatMetrics(inc.Metrics),
		"External dependencies analysis not available",
	)
}

// contextLogs prefers the gathered log window; incidents synthesized
// without enrichment fall back to their own attached logs.
func contextLogs(inc *models.Incident, ec *models.EnrichedContext) []models.LogEntry {
	if len(ec.RecentLogs) > 0 {
		return ec.RecentLogs
	}
	return inc.Logs
}

func contextCommits(inc *models.Incident, ec *models.EnrichedContext) []models.GitCommit {
	if len(ec.RecentCommits) > 0 {
		return ec.RecentCommits
	}
	return inc.RecentCommits
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func severityLabel(sev models.Severity) string {
	if sev == "" {
		return "unknown"
	}
	return string(sev)
}
