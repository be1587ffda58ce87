package config

import "time"

// StoreConfig contains plan store (MongoDB) settings.
type StoreConfig struct {
	// URI is the MongoDB connection string.
	URI string `yaml:"uri"`

	// Database is the database name.
	Database string `yaml:"database"`

	// Collection is the plans collection name.
	Collection string `yaml:"collection"`

	// IncidentCollection is the incident records collection name.
	IncidentCollection string `yaml:"incident_collection"`

	// OpTimeout bounds individual store operations when the caller's
	// context carries no deadline.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// RetentionDays is how long terminal plans (completed, failed, skipped)
	// are kept before the sweeper removes them. Zero disables sweeping.
	RetentionDays int `yaml:"retention_days"`

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		URI:                "mongodb://localhost:27017",
		Database:           "kubeminder",
		Collection:         "plans",
		IncidentCollection: "incidents",
		OpTimeout:          5 * time.Second,
		RetentionDays:      30,
		SweepInterval:      6 * time.Hour,
	}
}
