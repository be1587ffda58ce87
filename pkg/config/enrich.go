package config

import "time"

// EnrichConfig contains context-gathering settings for the planner.
type EnrichConfig struct {
	// LokiURL is the Loki base URL for log queries. Empty disables the source.
	LokiURL string `yaml:"loki_url"`

	// HistoryURL is the incident history index (Chroma-compatible) base URL.
	// Empty disables similarity lookups and learner indexing.
	HistoryURL string `yaml:"history_url"`

	// HistoryCollection is the index collection holding resolved incidents.
	HistoryCollection string `yaml:"history_collection"`

	// GitHubRepo is the "owner/name" repository scanned for recent changes.
	// Empty disables the code history source.
	GitHubRepo string `yaml:"github_repo"`

	// GitHubToken authenticates code history requests. Loaded from
	// GITHUB_TOKEN, never from YAML.
	GitHubToken string `yaml:"-"`

	// SearchURL is the public knowledge search endpoint.
	SearchURL string `yaml:"search_url"`

	// SearchAPIKey authenticates search requests. Loaded from
	// SEARCH_API_KEY, never from YAML. Empty disables web search.
	SearchAPIKey string `yaml:"-"`

	// ConfidenceThreshold gates web search: below it (or with no similar
	// incidents at all) public knowledge is consulted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxParallel bounds concurrent source gathering.
	MaxParallel int `yaml:"max_parallel"`

	// LogWindow is how far back log queries reach.
	LogWindow time.Duration `yaml:"log_window"`

	// CommitWindow is how far back plain commit queries reach. Deployment
	// related commits are scanned over seven times this window.
	CommitWindow time.Duration `yaml:"commit_window"`

	// Retry controls per-source retry behavior.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls exponential backoff for calls to external sources.
type RetryConfig struct {
	// MaxRetries is the retry count after the initial attempt.
	MaxRetries int `yaml:"max_retries"`

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration `yaml:"max_interval"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `yaml:"multiplier"`
}

// DefaultEnrichConfig returns the built-in enrichment defaults.
func DefaultEnrichConfig() *EnrichConfig {
	return &EnrichConfig{
		LokiURL:             "http://localhost:3100",
		HistoryURL:          "http://localhost:8000",
		HistoryCollection:   "incident_history",
		SearchURL:           "https://api.tavily.com/search",
		ConfidenceThreshold: 0.8,
		MaxParallel:         4,
		LogWindow:           time.Hour,
		CommitWindow:        24 * time.Hour,
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 1 * time.Second,
			MaxInterval:     60 * time.Second,
			Multiplier:      2.0,
		},
	}
}
