package config

import "time"

// PlannerConfig contains plan synthesis settings.
type PlannerConfig struct {
	// CacheTTL is how long synthesized plans are reused for identical
	// incidents (same id, title and service).
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CriticalServices always qualify for enhanced (context-enriched)
	// synthesis regardless of severity.
	CriticalServices []string `yaml:"critical_services"`

	// ComplexityThreshold is the error log count above which an incident
	// qualifies for enhanced synthesis.
	ComplexityThreshold int `yaml:"complexity_threshold"`

	// Quota bounds LLM usage.
	Quota QuotaConfig `yaml:"quota"`
}

// QuotaConfig contains rolling-window LLM usage limits.
type QuotaConfig struct {
	// Daily is the 24 hour request ceiling.
	Daily int `yaml:"daily"`

	// Hourly is the one hour request ceiling.
	Hourly int `yaml:"hourly"`

	// LowPriorityCutoff is the fraction of the daily quota above which
	// low priority requests are denied, reserving headroom for critical
	// incidents.
	LowPriorityCutoff float64 `yaml:"low_priority_cutoff"`
}

// DefaultPlannerConfig returns the built-in planner defaults.
func DefaultPlannerConfig() *PlannerConfig {
	return &PlannerConfig{
		CacheTTL: 5 * time.Minute,
		CriticalServices: []string{
			"user-service",
			"payment-service",
			"auth-service",
			"api-gateway",
		},
		ComplexityThreshold: 3,
		Quota: QuotaConfig{
			Daily:             50,
			Hourly:            10,
			LowPriorityCutoff: 0.8,
		},
	}
}
