package config

import "fmt"

// validate performs comprehensive validation on loaded configuration
// (fail-fast - stops at first error).
func validate(cfg *Config) error {
	if err := validateBus(cfg.Bus); err != nil {
		return err
	}
	if err := validateStore(cfg.Store); err != nil {
		return err
	}
	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := validateEnrich(cfg.Enrich); err != nil {
		return err
	}
	if err := validatePlanner(cfg.Planner); err != nil {
		return err
	}
	if err := validateCollab(cfg.Collab); err != nil {
		return err
	}
	if err := validateActor(cfg.Actor); err != nil {
		return err
	}
	if err := validateSandbox(cfg.Sandbox); err != nil {
		return err
	}
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	return nil
}

func validateBus(c *BusConfig) error {
	if c.URL == "" {
		return NewValidationError("bus", "url", ErrMissingRequiredField)
	}
	if c.Prefetch < 1 {
		return NewValidationError("bus", "prefetch", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.DialAttempts < 1 {
		return NewValidationError("bus", "dial_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.PublishTimeout <= 0 {
		return NewValidationError("bus", "publish_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateStore(c *StoreConfig) error {
	if c.URI == "" {
		return NewValidationError("store", "uri", ErrMissingRequiredField)
	}
	if c.Database == "" {
		return NewValidationError("store", "database", ErrMissingRequiredField)
	}
	if c.Collection == "" {
		return NewValidationError("store", "collection", ErrMissingRequiredField)
	}
	if c.IncidentCollection == "" {
		return NewValidationError("store", "incident_collection", ErrMissingRequiredField)
	}
	if c.OpTimeout <= 0 {
		return NewValidationError("store", "op_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.RetentionDays < 0 {
		return NewValidationError("store", "retention_days", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func validateLLM(c *LLMConfig) error {
	if c.BaseURL == "" {
		return NewValidationError("llm", "base_url", ErrMissingRequiredField)
	}
	if c.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if c.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.MaxTokens < 1 {
		return NewValidationError("llm", "max_tokens", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.Breaker.FailureThreshold < 1 {
		return NewValidationError("llm", "breaker.failure_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return NewValidationError("llm", "breaker.recovery_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateEnrich(c *EnrichConfig) error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return NewValidationError("enrich", "confidence_threshold", fmt.Errorf("%w: must be between 0 and 1", ErrInvalidValue))
	}
	if c.MaxParallel < 1 {
		return NewValidationError("enrich", "max_parallel", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.Retry.MaxRetries < 0 {
		return NewValidationError("enrich", "retry.max_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if c.Retry.InitialInterval <= 0 {
		return NewValidationError("enrich", "retry.initial_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Retry.Multiplier < 1 {
		return NewValidationError("enrich", "retry.multiplier", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func validatePlanner(c *PlannerConfig) error {
	if c.CacheTTL < 0 {
		return NewValidationError("planner", "cache_ttl", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if c.Quota.Daily < 1 {
		return NewValidationError("planner", "quota.daily", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.Quota.Hourly < 1 {
		return NewValidationError("planner", "quota.hourly", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.Quota.LowPriorityCutoff <= 0 || c.Quota.LowPriorityCutoff > 1 {
		return NewValidationError("planner", "quota.low_priority_cutoff", fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
	}
	return nil
}

func validateCollab(c *CollabConfig) error {
	if c.AutoApproveMaxRisk < 0 || c.AutoApproveMaxRisk > 1 {
		return NewValidationError("collab", "auto_approve_max_risk", fmt.Errorf("%w: must be between 0 and 1", ErrInvalidValue))
	}
	return nil
}

func validateActor(c *ActorConfig) error {
	if c.MaxAutonomyRisk < 0 || c.MaxAutonomyRisk > 1 {
		return NewValidationError("actor", "max_autonomy_risk", fmt.Errorf("%w: must be between 0 and 1", ErrInvalidValue))
	}
	if c.DefaultNamespace == "" {
		return NewValidationError("actor", "default_namespace", ErrMissingRequiredField)
	}
	return nil
}

func validateSandbox(c *SandboxConfig) error {
	if c.Root == "" {
		return NewValidationError("sandbox", "root", ErrMissingRequiredField)
	}
	if len(c.AllowedCommands) == 0 {
		return NewValidationError("sandbox", "allowed_commands", fmt.Errorf("%w: at least one command required", ErrInvalidValue))
	}
	if c.HTTPTimeout <= 0 {
		return NewValidationError("sandbox", "http_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateServer(c *ServerConfig) error {
	if c.Port < 1 || c.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: must be a valid port", ErrInvalidValue))
	}
	return nil
}
