// Package config loads and validates kubeminder configuration.
//
// Configuration is layered: built-in defaults, then an optional
// kubeminder.yaml (with {{.VAR}} environment expansion), then explicit
// environment variable overrides for the deployment-facing settings.
package config

import "time"

// Config is the root configuration shared by all agents.
type Config struct {
	configDir string

	Bus     *BusConfig     `yaml:"bus"`
	Store   *StoreConfig   `yaml:"store"`
	LLM     *LLMConfig     `yaml:"llm"`
	Enrich  *EnrichConfig  `yaml:"enrich"`
	Planner *PlannerConfig `yaml:"planner"`
	Collab  *CollabConfig  `yaml:"collab"`
	Actor   *ActorConfig   `yaml:"actor"`
	Sandbox *SandboxConfig `yaml:"sandbox"`
	Learner *LearnerConfig `yaml:"learner"`
	Server  *ServerConfig  `yaml:"server"`
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes the effective configuration for startup logging.
type Stats struct {
	DailyQuota          int
	HourlyQuota         int
	ConfidenceThreshold float64
	MaxAutonomyRisk     float64
	AutoApproveMaxRisk  float64
	PlanCacheTTL        time.Duration
	SandboxRoot         string
	AllowedCommands     int
}

// Stats returns a summary of the settings operators most often need to confirm.
func (c *Config) Stats() Stats {
	return Stats{
		DailyQuota:          c.Planner.Quota.Daily,
		HourlyQuota:         c.Planner.Quota.Hourly,
		ConfidenceThreshold: c.Enrich.ConfidenceThreshold,
		MaxAutonomyRisk:     c.Actor.MaxAutonomyRisk,
		AutoApproveMaxRisk:  c.Collab.AutoApproveMaxRisk,
		PlanCacheTTL:        c.Planner.CacheTTL,
		SandboxRoot:         c.Sandbox.Root,
		AllowedCommands:     len(c.Sandbox.AllowedCommands),
	}
}
