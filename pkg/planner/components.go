package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// Per-block formatting caps keep each context section inside a
// predictable share of the prompt.
const (
	promptLogLimit    = 20
	promptEventLimit  = 10
	promptCommitLimit = 10
	promptWebLimit    = 5
	detailedLogLimit  = 50
)

// FormatLogs renders recent log lines for the prompt.
func FormatLogs(logs []models.LogEntry) string {
	if len(logs) == 0 {
		return "No recent logs available"
	}
	if len(logs) > promptLogLimit {
		logs = logs[:promptLogLimit]
	}

	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		ts := l.Timestamp
		if ts == "" {
			ts = "unknown"
		}
		level := l.Level
		if level == "" {
			level = "info"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, strings.ToUpper(level), l.Message))
	}
	return strings.Join(lines, "\n")
}

// FormatK8sEvents renders cluster events for the prompt.
func FormatK8sEvents(events []models.K8sEvent) string {
	if len(events) == 0 {
		return "No Kubernetes events available"
	}
	if len(events) > promptEventLimit {
		events = events[:promptEventLimit]
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		eventType := e.Type
		if eventType == "" {
			eventType = "Unknown"
		}
		reason := e.Reason
		if reason == "" {
			reason = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s - %s", eventType, reason, e.Message))
	}
	return strings.Join(lines, "\n")
}

// FormatMetrics renders the metric signals as key: value lines, canonical
// keys first, extras in sorted order so output is deterministic.
func FormatMetrics(m *models.Metrics) string {
	if m == nil {
		return "No metrics available"
	}

	var lines []string
	appendMetric := func(key string, value float64) {
		if value != 0 {
			lines = append(lines, fmt.Sprintf("- %s: %v", key, value))
		}
	}
	appendMetric("error_rate", m.ErrorRate)
	appendMetric("latency_p95_ms", m.LatencyP95MS)
	appendMetric("cpu_usage", m.CPUUsage)
	appendMetric("memory_usage", m.MemoryUsage)
	appendMetric("request_rate_rps", m.RequestRateRPS)

	extraKeys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, m.Extra[k]))
	}

	if len(lines) == 0 {
		return "No metrics available"
	}
	return strings.Join(lines, "\n")
}

// FormatSimilarIncidents renders history index matches for the prompt.
func FormatSimilarIncidents(incidents []models.SimilarIncident) string {
	if len(incidents) == 0 {
		return "No similar incidents found"
	}

	lines := make([]string, 0, len(incidents))
	for _, si := range incidents {
		lines = append(lines, fmt.Sprintf("- %s (Similarity: %.2f): %s", si.Title, si.Similarity, si.Summary))
	}
	return strings.Join(lines, "\n")
}

// FormatCommits renders recent code changes for the prompt.
func FormatCommits(commits []models.GitCommit) string {
	if len(commits) == 0 {
		return "No recent commits found"
	}
	if len(commits) > promptCommitLimit {
		commits = commits[:promptCommitLimit]
	}

	lines := make([]string, 0, len(commits))
	for _, c := range commits {
		sha := c.ShortSHA()
		if sha == "" {
			sha = "unknown"
		}
		author := c.Author
		if author == "" {
			author = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (by %s)", sha, c.Message, author))
	}
	return strings.Join(lines, "\n")
}

// FormatWebKnowledge renders public search results for the prompt,
// truncating each snippet to keep the block bounded.
func FormatWebKnowledge(results []models.WebResult) string {
	if len(results) == 0 {
		return "No relevant external knowledge found"
	}
	if len(results) > promptWebLimit {
		results = results[:promptWebLimit]
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200])
		}
		lines = append(lines, fmt.Sprintf("- %s: %s...", r.Title, content))
	}
	return strings.Join(lines, "\n")
}

// formatDetailedLogs renders the larger log window the deep dive template
// uses, with the source of each line.
func formatDetailedLogs(logs []models.LogEntry) string {
	if len(logs) == 0 {
		return "No detailed logs available"
	}
	if len(logs) > detailedLogLimit {
		logs = logs[:detailedLogLimit]
	}

	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		ts := l.Timestamp
		if ts == "" {
			ts = "unknown"
		}
		level := l.Level
		if level == "" {
			level = "info"
		}
		source := l.Source
		if source == "" {
			source = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (%s): %s", ts, strings.ToUpper(level), source, l.Message))
	}
	return strings.Join(lines, "\n")
}

// historicalPatterns renders resolutions of similar incidents, which is
// the part of history the deep dive cares about.
func historicalPatterns(incidents []models.SimilarIncident) string {
	if len(incidents) == 0 {
		return "No historical patterns available"
	}

	var lines []string
	for _, si := range incidents {
		if si.Resolution != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", si.Title, si.Resolution))
		}
	}
	if len(lines) == 0 {
		return "No resolution patterns found"
	}
	return strings.Join(lines, "\n")
}

var infraKeywords = []string{"deploy", "config", "infrastructure", "k8s", "helm"}

// infrastructureChanges filters commits down to the ones that touch
// deployment or configuration surface.
func infrastructureChanges(commits []models.GitCommit) string {
	var lines []string
	for _, c := range commits {
		message := strings.ToLower(c.Message)
		for _, kw := range infraKeywords {
			if strings.Contains(message, kw) {
				lines = append(lines, "- "+c.Message)
				break
			}
		}
	}
	if len(lines) == 0 {
		return "No infrastructure changes found"
	}
	return strings.Join(lines, "\n")
}

// affectedComponents lists the service plus any pods named in the first
// few log lines, deduplicated in first-seen order.
func affectedComponents(inc *models.Incident) string {
	components := []string{}
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			components = append(components, name)
		}
	}

	if inc.AffectedService != "" {
		add(inc.AffectedService)
	} else {
		add("unknown")
	}
	for i, l := range inc.Logs {
		if i >= 5 {
			break
		}
		add(l.Pod)
	}
	return strings.Join(components, ", ")
}
