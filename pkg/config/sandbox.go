package config

import "time"

// SandboxConfig contains tool execution settings.
type SandboxConfig struct {
	// Root is the directory subtree all file and subprocess working
	// directories must stay inside.
	Root string `yaml:"root"`

	// AllowedCommands is the executable allow-list for shell steps.
	AllowedCommands []string `yaml:"allowed_commands"`

	// HTTPTimeout bounds http.request steps.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		Root:            "./sandbox",
		AllowedCommands: []string{"cmd", "git", "python", "pytest", "echo", "kubectl"},
		HTTPTimeout:     10 * time.Second,
	}
}
