// Package config loads and validates the Nexus configuration: a single
// YAML document (with $include merging and environment-variable
// overlay) covering the server, LLM providers, tool execution, skills,
// the scheduler, and logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/skills"
)

// Config is the root configuration structure.
type Config struct {
	Version   int                 `yaml:"version"`
	Server    ServerConfig        `yaml:"server"`
	LLM       LLMConfig           `yaml:"llm"`
	Tools     ToolsConfig         `yaml:"tools"`
	Skills    skills.SkillsConfig `yaml:"skills"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the process's HTTP surface: the scheduler's
// host process and the Prometheus /metrics endpoint.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LLMConfig configures the cloud model providers the Agent Driver can
// use, plus which one is the default.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures a single named provider.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ToolsConfig configures tool execution: where the workspace root is,
// what commands are allowed, and the Agent Driver's iteration/timeout
// ceilings.
type ToolsConfig struct {
	WorkspaceRoot   string        `yaml:"workspace_root"`
	AllowedCommands []string      `yaml:"allowed_commands"`
	MaxIterations   int           `yaml:"max_iterations"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SchedulerConfig configures the Scheduler's tick loop and store.
type SchedulerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	StorePath       string        `yaml:"store_path"`
	PurgeEveryTicks int           `yaml:"purge_every_ticks"`
	Retention       time.Duration `yaml:"retention"`
}

// LoggingConfig configures the process's structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Load reads, merges ($include), decodes, defaults, applies
// environment overrides to, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}

	if cfg.Tools.MaxIterations == 0 {
		cfg.Tools.MaxIterations = 16
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 2 * time.Minute
	}

	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 60 * time.Second
	}
	if cfg.Scheduler.StorePath == "" {
		cfg.Scheduler.StorePath = "data/tasks.json"
	}
	if cfg.Scheduler.PurgeEveryTicks == 0 {
		cfg.Scheduler.PurgeEveryTicks = 100
	}
	if cfg.Scheduler.Retention == 0 {
		cfg.Scheduler.Retention = 7 * 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides lets a small set of well-known environment
// variables override file-based configuration, so API keys and ports
// need not be committed to a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEXUS_ANTHROPIC_API_KEY"); v != "" {
		setProviderAPIKey(cfg, "anthropic", v)
	}
	if v := os.Getenv("NEXUS_OPENAI_API_KEY"); v != "" {
		setProviderAPIKey(cfg, "openai", v)
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NEXUS_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
}

func setProviderAPIKey(cfg *Config, name, apiKey string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	provider := cfg.LLM.Providers[name]
	provider.APIKey = apiKey
	cfg.LLM.Providers[name] = provider
}

func validateConfig(cfg *Config) error {
	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.LLM.DefaultProvider) == "" {
		return fmt.Errorf("llm.default_provider is required")
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}
	return nil
}
