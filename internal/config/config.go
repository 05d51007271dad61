// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// Config holds the entire application configuration. Values come from the
// config file, environment variables and CLI flags, merged through viper.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Agent        AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Perception   PerceptionConfig   `mapstructure:"perception" yaml:"perception"`
	Execution    ExecutionConfig    `mapstructure:"execution" yaml:"execution"`
	Models       ModelsConfig       `mapstructure:"models" yaml:"models"`
	Safety       SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation" yaml:"confirmation"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig defines settings for the application logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig holds the cycle loop budgets and pacing.
type AgentConfig struct {
	MaxCycles              int           `mapstructure:"max_cycles" yaml:"max_cycles"`
	WallClock              time.Duration `mapstructure:"wall_clock" yaml:"wall_clock"`
	CycleInterval          time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	HistoryLimit           int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// PerceptionConfig configures the screen observation step.
type PerceptionConfig struct {
	// Source selects the perception backend. "replay" reads snapshot
	// fixtures from ReplayDir.
	Source     string        `mapstructure:"source" yaml:"source"`
	ReplayDir  string        `mapstructure:"replay_dir" yaml:"replay_dir"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// ExecutionConfig configures the action driver.
type ExecutionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ActionDelay is the simulated latency of the dry-run driver.
	ActionDelay time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
	DryRun      bool          `mapstructure:"dry_run" yaml:"dry_run"`
}

// ModelProvider identifies a reasoning backend implementation.
type ModelProvider string

const (
	ProviderOllama ModelProvider = "ollama"
	ProviderGemini ModelProvider = "gemini"
)

// ModelEndpointConfig defines one endpoint of the fallback chain. Chain
// order is the slice order; it is never reordered at runtime.
type ModelEndpointConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	Provider    ModelProvider `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ModelsConfig holds the ordered reasoning chain and the per-cycle retry
// budget for a fully exhausted chain.
type ModelsConfig struct {
	Endpoints  []ModelEndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
	MaxRetries int                   `mapstructure:"max_retries" yaml:"max_retries"`
}

// SafetyConfig defines the risk classification table and the denylist.
type SafetyConfig struct {
	RiskLevels map[string]int `mapstructure:"risk_levels" yaml:"risk_levels"`
	Denylist   []string       `mapstructure:"denylist" yaml:"denylist"`
}

// ConfirmationConfig bounds the operator confirmation wait.
type ConfirmationConfig struct {
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// AuditConfig configures the persistent audit event store.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

// MetricsConfig configures the in-process event pipeline.
type MetricsConfig struct {
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	LogEvents  bool `mapstructure:"log_events" yaml:"log_events"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_cycles", 25)
	v.SetDefault("agent.wall_clock", "0s")
	v.SetDefault("agent.cycle_interval", "2s")
	v.SetDefault("agent.history_limit", 50)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.retry_base_delay", "500ms")

	// -- Perception --
	v.SetDefault("perception.source", "replay")
	v.SetDefault("perception.replay_dir", "")
	v.SetDefault("perception.timeout", "10s")
	v.SetDefault("perception.max_retries", 3)

	// -- Execution --
	v.SetDefault("execution.timeout", "30s")
	v.SetDefault("execution.action_delay", "100ms")
	v.SetDefault("execution.dry_run", true)

	// -- Models --
	v.SetDefault("models.max_retries", 3)
	v.SetDefault("models.endpoints", []map[string]any{
		{
			"name":     "vision",
			"provider": "ollama",
			"model":    "llava:13b",
			"endpoint": "http://localhost:11434",
			"timeout":  "60s",
		},
		{
			"name":     "reasoning",
			"provider": "ollama",
			"model":    "phi3:medium",
			"endpoint": "http://localhost:11434",
			"timeout":  "45s",
		},
		{
			"name":     "fallback",
			"provider": "ollama",
			"model":    "mistral:7b",
			"endpoint": "http://localhost:11434",
			"timeout":  "30s",
		},
	})

	// -- Safety --
	levels := map[string]int{}
	for kind, level := range agent.DefaultRiskTable() {
		levels[string(kind)] = int(level)
	}
	v.SetDefault("safety.risk_levels", levels)
	v.SetDefault("safety.denylist", agent.DefaultDenylist())

	// -- Confirmation --
	v.SetDefault("confirmation.window", "30s")

	// -- Audit --
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.db_path", "")

	// -- Metrics --
	v.SetDefault("metrics.buffer_size", 256)
	v.SetDefault("metrics.log_events", false)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Keep API keys out of config files.
	v.BindEnv("models.gemini_api_key", "DESKPILOT_GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxCycles <= 0 {
		return fmt.Errorf("agent.max_cycles must be a positive integer")
	}
	if c.Agent.HistoryLimit <= 0 {
		return fmt.Errorf("agent.history_limit must be a positive integer")
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be a positive integer")
	}
	if c.Perception.MaxRetries <= 0 {
		return fmt.Errorf("perception.max_retries must be a positive integer")
	}
	if len(c.Models.Endpoints) == 0 {
		return fmt.Errorf("models.endpoints must list at least one endpoint")
	}
	for i, ep := range c.Models.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("models.endpoints[%d].name is required", i)
		}
		switch ep.Provider {
		case ProviderOllama, ProviderGemini:
		default:
			return fmt.Errorf("models.endpoints[%d].provider %q is not supported", i, ep.Provider)
		}
		if ep.Model == "" {
			return fmt.Errorf("models.endpoints[%d].model is required", i)
		}
	}
	if c.Confirmation.Window <= 0 {
		return fmt.Errorf("confirmation.window must be a positive duration")
	}
	if c.Metrics.BufferSize <= 0 {
		return fmt.Errorf("metrics.buffer_size must be a positive integer")
	}
	if _, err := c.RiskTable(); err != nil {
		return err
	}
	return nil
}

// RiskTable converts safety.risk_levels into the validated runtime table.
func (c *Config) RiskTable() (agent.RiskTable, error) {
	table := agent.RiskTable{}
	for raw, level := range c.Safety.RiskLevels {
		kind, err := agent.ParseActionKind(raw)
		if err != nil {
			return nil, fmt.Errorf("safety.risk_levels: %w", err)
		}
		table[kind] = agent.RiskLevel(level)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("safety.risk_levels: %w", err)
	}
	return table, nil
}

// RunConfig maps the file-level settings onto the cycle loop options.
func (c *Config) RunConfig() agent.RunConfig {
	return agent.RunConfig{
		MaxCycles:              c.Agent.MaxCycles,
		WallClock:              c.Agent.WallClock,
		CycleInterval:          c.Agent.CycleInterval,
		HistoryLimit:           c.Agent.HistoryLimit,
		MaxConsecutiveFailures: c.Agent.MaxConsecutiveFailures,
		PerceptionTimeout:      c.Perception.Timeout,
		PerceptionRetries:      c.Perception.MaxRetries,
		ReasoningRetries:       c.Models.MaxRetries,
		RetryBaseDelay:         c.Agent.RetryBaseDelay,
		ExecutionTimeout:       c.Execution.Timeout,
		ConfirmationWindow:     c.Confirmation.Window,
	}
}

// DefaultDataDir returns the per-user data directory used for the audit
// store and the default config file location.
func DefaultDataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".deskpilot"), nil
}

// AuditDBPath resolves the audit store location, defaulting to the per-user
// data directory when unset.
func (c *Config) AuditDBPath() (string, error) {
	if c.Audit.DBPath != "" {
		return c.Audit.DBPath, nil
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.db"), nil
}
