package config

// ActorConfig contains plan execution policy settings.
type ActorConfig struct {
	// MaxAutonomyRisk is the effective risk above which approved plans are
	// skipped instead of executed. The ceiling applies even to plans a
	// human approved.
	MaxAutonomyRisk float64 `yaml:"max_autonomy_risk"`

	// DefaultNamespace is the Kubernetes namespace used by compiled kubectl
	// steps when the plan text names none.
	DefaultNamespace string `yaml:"default_namespace"`
}

// DefaultActorConfig returns the built-in execution defaults.
func DefaultActorConfig() *ActorConfig {
	return &ActorConfig{
		MaxAutonomyRisk:  0.3,
		DefaultNamespace: "sandbox",
	}
}
