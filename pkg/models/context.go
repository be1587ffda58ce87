package models

// SimilarIncident is a historical incident retrieved from the history index.
type SimilarIncident struct {
	IncidentID string  `json:"incident_id"`
	Title      string  `json:"title,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Similarity float64 `json:"similarity"`
}

// WebResult is one public knowledge search hit.
type WebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// EnrichedContext is everything the gatherer collected for plan synthesis.
// Individual sources fail independently; their errors are recorded rather
// than propagated so a flaky dependency degrades the plan instead of
// blocking it.
type EnrichedContext struct {
	RecentLogs       []LogEntry        `json:"recent_logs,omitempty"`
	SimilarIncidents []SimilarIncident `json:"similar_incidents,omitempty"`
	RecentCommits    []GitCommit       `json:"recent_commits,omitempty"`
	WebResults       []WebResult       `json:"web_results,omitempty"`

	// InternalConfidence scores how well the history index covered this
	// incident. Zero when nothing similar was found.
	InternalConfidence float64 `json:"internal_confidence"`

	WebSearchTriggered bool   `json:"web_search_triggered"`
	WebSearchReason    string `json:"web_search_reason,omitempty"`

	SourcesUsed     []string          `json:"sources_used,omitempty"`
	GatheringTimeMS int64             `json:"gathering_time_ms"`
	GatheringErrors map[string]string `json:"gathering_errors,omitempty"`
}
