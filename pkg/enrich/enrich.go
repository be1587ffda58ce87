// Package enrich gathers remediation context around an incident before plan
// synthesis: recent service logs, similar past incidents from the history
// index, recent repository changes, and public search results when internal
// knowledge is thin. Sources fail independently; a flaky dependency degrades
// the context instead of blocking the pipeline.
package enrich

import (
	"context"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// Source tags recorded in sources_used and gathering_errors.
const (
	SourceLoki    = "loki"
	SourceHistory = "history"
	SourceGitHub  = "github"
	SourceWeb     = "web_search"
)

// HistoryIndex is the narrow surface of the incident history index. The
// gatherer queries it for similar past incidents; the learner writes
// resolved incidents back through the same interface. Neither agent
// references the other.
type HistoryIndex interface {
	// Query returns past incidents similar to the free-text description,
	// scored in [0,1], best match first.
	Query(ctx context.Context, text string, limit int) ([]models.SimilarIncident, error)

	// Upsert stores or replaces the document held under the incident id.
	Upsert(ctx context.Context, id, document string, metadata map[string]string) error
}

// LogSource returns recent log lines for a service.
type LogSource interface {
	RecentLogs(ctx context.Context, service string) ([]models.LogEntry, error)
}

// CommitSource returns recent repository changes relevant to a service.
type CommitSource interface {
	RecentCommits(ctx context.Context, service string) ([]models.GitCommit, error)
}

// WebSearcher runs derived queries against a public search API.
type WebSearcher interface {
	Search(ctx context.Context, queries []string) ([]models.WebResult, error)
}
