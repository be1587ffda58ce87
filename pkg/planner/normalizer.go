// Package planner consumes new incidents, derives their severity and
// evidence profile, and synthesizes remediation plans through the LLM,
// enriching high-value incidents with gathered context when quota allows.
package planner

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// Evidence caps applied before prompt construction. The prompt payload
// must not grow with producer verbosity.
const (
	maxLogs    = 200
	maxEvents  = 100
	maxCommits = 50
)

var (
	errorKeywords = regexp.MustCompile(`(?i)exception|panic|fatal|stacktrace|error`)
	warnKeywords  = regexp.MustCompile(`(?i)warn|timeout|retry`)
)

// Normalize folds the producer's loose incident shape into the canonical
// one: log variants merged into Logs, commit aliases merged into
// RecentCommits, levels classified, evidence capped, severity derived
// when the producer did not supply a valid one. Normalize mutates inc and
// returns it; normalizing twice is a no-op.
func Normalize(inc *models.Incident) *models.Incident {
	logs := make([]models.LogEntry, 0, len(inc.Logs)+len(inc.LokiLogs)+len(inc.AppLogs))
	logs = append(logs, inc.Logs...)
	logs = append(logs, inc.LokiLogs...)
	logs = append(logs, inc.AppLogs...)
	for i := range logs {
		logs[i].Level = classifyLevel(logs[i])
	}

	// Merge order across sources is unspecified upstream; lexicographic
	// timestamp order is stable for RFC 3339 and keeps within-source order
	// for untimestamped lines. When over cap, the newest entries win.
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp < logs[j].Timestamp
	})
	if len(logs) > maxLogs {
		logs = logs[len(logs)-maxLogs:]
	}
	inc.Logs = logs
	inc.LokiLogs = nil
	inc.AppLogs = nil

	errorCount := 0
	for _, l := range inc.Logs {
		if l.Level == "error" {
			errorCount++
		}
	}
	inc.ErrorLogCount = errorCount

	if len(inc.GitCommits) > 0 {
		inc.RecentCommits = append(inc.RecentCommits, inc.GitCommits...)
		inc.GitCommits = nil
	}
	if len(inc.RecentCommits) > maxCommits {
		inc.RecentCommits = inc.RecentCommits[:maxCommits]
	}
	if len(inc.K8sEvents) > maxEvents {
		inc.K8sEvents = inc.K8sEvents[:maxEvents]
	}

	if !inc.Severity.IsValid() {
		inc.Severity = deriveSeverity(inc)
	}
	if inc.Status == "" {
		inc.Status = models.IncidentStatusNew
	}
	return inc
}

// classifyLevel returns the entry's lowercased explicit level, or a level
// inferred from message keywords when the producer left it blank.
func classifyLevel(e models.LogEntry) string {
	if lvl := strings.ToLower(strings.TrimSpace(e.Level)); lvl != "" {
		return lvl
	}
	switch {
	case errorKeywords.MatchString(e.Message):
		return "error"
	case warnKeywords.MatchString(e.Message):
		return "warn"
	default:
		return "info"
	}
}

// deriveSeverity applies the metric and error-volume heuristic for
// incidents whose producer did not classify them.
func deriveSeverity(inc *models.Incident) models.Severity {
	var errorRate, latency float64
	if inc.Metrics != nil {
		errorRate = inc.Metrics.ErrorRate
		latency = inc.Metrics.LatencyP95MS
	}

	switch {
	case errorRate >= 0.05 || latency >= 800 || inc.ErrorLogCount > 5:
		return models.SeverityHigh
	case inc.ErrorLogCount > 0:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
