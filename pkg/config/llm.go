package config

import "time"

// LLMConfig contains settings for the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	// BaseURL is the API base, e.g. "https://api.openai.com/v1" or a local
	// vLLM/Ollama gateway.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Loaded from LLM_API_KEY, never from YAML.
	APIKey string `yaml:"-"`

	// Model is the completion model identifier.
	Model string `yaml:"model"`

	// EmbeddingModel is stamped on the history index collection so reindexing
	// with a different model is detectable.
	EmbeddingModel string `yaml:"embedding_model"`

	// Timeout bounds each completion call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens is the completion token ceiling for plan synthesis.
	MaxTokens int `yaml:"max_tokens"`

	// Breaker controls the circuit breaker guarding the endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls circuit breaker behavior for an external dependency.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before a half-open probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "all-MiniLM-L6-v2",
		Timeout:        30 * time.Second,
		MaxTokens:      2000,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
		},
	}
}
