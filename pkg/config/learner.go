package config

// LearnerConfig contains post-resolution knowledge capture settings.
type LearnerConfig struct {
	// DocStoreURL is the post-mortem document store API base.
	// Empty disables post-mortem publishing; indexing still happens.
	DocStoreURL string `yaml:"docstore_url"`

	// DocStoreToken authenticates document store requests. Loaded from
	// DOCSTORE_TOKEN, never from YAML.
	DocStoreToken string `yaml:"-"`

	// DocStoreDatabase is the collection/database post-mortems land in.
	DocStoreDatabase string `yaml:"docstore_database"`
}

// DefaultLearnerConfig returns the built-in learner defaults.
func DefaultLearnerConfig() *LearnerConfig {
	return &LearnerConfig{
		DocStoreDatabase: "post-mortems",
	}
}
