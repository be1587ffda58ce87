package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional YAML file looked up inside the config dir.
// All settings have built-in defaults, so a missing file is not an error;
// deployments that configure everything through environment variables run
// without one.
const ConfigFileName = "kubeminder.yaml"

// yamlConfig mirrors the kubeminder.yaml file structure. Pointer sections
// distinguish "absent" from "present with zero values" during merging.
type yamlConfig struct {
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

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Merge kubeminder.yaml if present (after {{.VAR}} expansion)
//  3. Apply environment variable overrides
//  4. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"daily_quota", stats.DailyQuota,
		"hourly_quota", stats.HourlyQuota,
		"confidence_threshold", stats.ConfidenceThreshold,
		"max_autonomy_risk", stats.MaxAutonomyRisk,
		"auto_approve_max_risk", stats.AutoApproveMaxRisk,
		"plan_cache_ttl", stats.PlanCacheTTL,
		"sandbox_root", stats.SandboxRoot,
		"allowed_commands", stats.AllowedCommands)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	cfg := &Config{
		configDir: configDir,
		Bus:       DefaultBusConfig(),
		Store:     DefaultStoreConfig(),
		LLM:       DefaultLLMConfig(),
		Enrich:    DefaultEnrichConfig(),
		Planner:   DefaultPlannerConfig(),
		Collab:    DefaultCollabConfig(),
		Actor:     DefaultActorConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Learner:   DefaultLearnerConfig(),
		Server:    DefaultServerConfig(),
	}

	yml, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}
	if yml != nil {
		if err := mergeYAML(cfg, yml); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadYAMLFile reads and parses kubeminder.yaml. A missing file returns
// (nil, nil): defaults plus environment overrides are a complete config.
func loadYAMLFile(configDir string) (*yamlConfig, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No configuration file found, using defaults", "path", path)
			return nil, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	var yml yamlConfig
	if err := yaml.Unmarshal(data, &yml); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &yml, nil
}

// mergeYAML merges user-provided sections into the defaults. Non-zero user
// values override; unset fields keep their defaults.
func mergeYAML(cfg *Config, yml *yamlConfig) error {
	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"bus", cfg.Bus, yml.Bus},
		{"store", cfg.Store, yml.Store},
		{"llm", cfg.LLM, yml.LLM},
		{"enrich", cfg.Enrich, yml.Enrich},
		{"planner", cfg.Planner, yml.Planner},
		{"collab", cfg.Collab, yml.Collab},
		{"actor", cfg.Actor, yml.Actor},
		{"sandbox", cfg.Sandbox, yml.Sandbox},
		{"learner", cfg.Learner, yml.Learner},
		{"server", cfg.Server, yml.Server},
	}

	for _, s := range sections {
		if s.src == nil || isNilPointer(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}
	return nil
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *BusConfig:
		return p == nil
	case *StoreConfig:
		return p == nil
	case *LLMConfig:
		return p == nil
	case *EnrichConfig:
		return p == nil
	case *PlannerConfig:
		return p == nil
	case *CollabConfig:
		return p == nil
	case *ActorConfig:
		return p == nil
	case *SandboxConfig:
		return p == nil
	case *LearnerConfig:
		return p == nil
	case *ServerConfig:
		return p == nil
	default:
		return false
	}
}

// applyEnvOverrides applies the deployment-facing environment variables on
// top of whatever the defaults and YAML produced. These names are the
// documented operational contract; YAML is a convenience on top of them.
func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Bus.URL, "RABBITMQ_URL")

	envString(&cfg.Store.URI, "MONGO_URI")
	envString(&cfg.Store.Database, "MONGO_DATABASE")

	envString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	envString(&cfg.LLM.APIKey, "LLM_API_KEY")
	envString(&cfg.LLM.Model, "LLM_MODEL")
	envString(&cfg.LLM.EmbeddingModel, "EMBEDDING_MODEL")

	envString(&cfg.Enrich.LokiURL, "LOKI_URL")
	envString(&cfg.Enrich.HistoryURL, "CHROMA_URL")
	envString(&cfg.Enrich.GitHubRepo, "GITHUB_REPO")
	envString(&cfg.Enrich.GitHubToken, "GITHUB_TOKEN")
	envString(&cfg.Enrich.SearchURL, "SEARCH_URL")
	envString(&cfg.Enrich.SearchAPIKey, "SEARCH_API_KEY")
	envFloat(&cfg.Enrich.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")

	envInt(&cfg.Planner.Quota.Daily, "DAILY_QUOTA")
	envInt(&cfg.Planner.Quota.Hourly, "HOURLY_QUOTA")
	envSeconds(&cfg.Planner.CacheTTL, "PLAN_CACHE_TTL_S")
	envList(&cfg.Planner.CriticalServices, "CRITICAL_SERVICES")

	envFloat(&cfg.Collab.AutoApproveMaxRisk, "AUTO_APPROVE_MAX_RISK")

	envFloat(&cfg.Actor.MaxAutonomyRisk, "MAX_AUTONOMY_RISK")
	envString(&cfg.Actor.DefaultNamespace, "DEFAULT_NAMESPACE")

	envString(&cfg.Sandbox.Root, "SANDBOX_ROOT")
	envList(&cfg.Sandbox.AllowedCommands, "ALLOWED_COMMANDS")

	envString(&cfg.Learner.DocStoreURL, "DOCSTORE_URL")
	envString(&cfg.Learner.DocStoreToken, "DOCSTORE_TOKEN")
	envString(&cfg.Learner.DocStoreDatabase, "DOCSTORE_DATABASE")

	envInt(&cfg.Server.Port, "HTTP_PORT")
}

func envString(target *string, name string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func envInt(target *int, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment variable", "name", name, "value", v)
		return
	}
	*target = n
}

func envFloat(target *float64, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring invalid float environment variable", "name", name, "value", v)
		return
	}
	*target = f
}

func envSeconds(target *time.Duration, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("Ignoring invalid seconds environment variable", "name", name, "value", v)
		return
	}
	*target = time.Duration(n) * time.Second
}

func envList(target *[]string, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	if len(items) > 0 {
		*target = items
	}
}
