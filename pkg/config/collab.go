package config

// CollabConfig contains approval policy settings.
type CollabConfig struct {
	// AutoApproveMaxRisk is the effective risk at or below which proposed
	// plans are approved without a human. Plans above it wait for an
	// explicit approval through the command API.
	AutoApproveMaxRisk float64 `yaml:"auto_approve_max_risk"`
}

// DefaultCollabConfig returns the built-in approval defaults.
func DefaultCollabConfig() *CollabConfig {
	return &CollabConfig{
		AutoApproveMaxRisk: 0.5,
	}
}
