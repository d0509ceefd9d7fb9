// Package config handles configuration loading and management for the
// coordinator. It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the coordinator.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Stale     StaleConfig     `mapstructure:"stale"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// AnthropicConfig holds Anthropic API settings used for the Execution
// Driver's credential preflight check (§4.6 phase 4).
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BudgetConfig mirrors the "budget" object in the user-scoped JSON config
// (spec §6: "A user-scoped JSON config contains a budget object
// {monthlyLimit, perSessionDefault, warningThresholds[]}").
type BudgetConfig struct {
	MonthlyLimit       float64   `mapstructure:"monthly_limit" validate:"gte=0"`
	PerSessionDefault  float64   `mapstructure:"per_session_default" validate:"gte=0"`
	WarningThresholds  []float64 `mapstructure:"warning_thresholds"`
	CostPerMinuteUSD   float64   `mapstructure:"cost_per_minute_usd" validate:"gte=0"`
}

// SandboxConfig holds remote sandbox provider settings.
type SandboxConfig struct {
	ProviderAPIKeyEnv  string        `mapstructure:"provider_api_key_env"`
	BaseImage          string        `mapstructure:"base_image"`
	Template           string        `mapstructure:"template"`
	SoftWarningMinutes []int         `mapstructure:"soft_warning_minutes"`
	HardTimeoutMinutes int           `mapstructure:"hard_timeout_minutes"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxRemoteLogBytes  int64         `mapstructure:"max_remote_log_bytes"`
	RingBufferBytes    int           `mapstructure:"ring_buffer_bytes"`

	// CredentialsRoleARN, when set, enables per-sandbox scoped AWS STS
	// credentials (empty disables the feature entirely).
	CredentialsRoleARN        string `mapstructure:"credentials_role_arn"`
	CredentialDurationSeconds int32  `mapstructure:"credential_duration_seconds"`
}

// AuditConfig configures the optional GCS mirror of uploaded tarballs
// (spec.md §4.5's File Sync audit trail). Off by default: Bucket must be
// set to enable it.
type AuditConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// StaleConfig configures session/worktree liveness thresholds for the
// Coordinator's cleanup sweep.
type StaleConfig struct {
	HeartbeatThreshold time.Duration `mapstructure:"heartbeat_threshold"`
	WorktreePrefix     string        `mapstructure:"worktree_prefix"`
	AutoCleanup        bool          `mapstructure:"auto_cleanup"`
}

// ClaimsConfig configures default TTLs and cleanup cadence for the Claim
// Manager.
type ClaimsConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// MergeConfig configures the Merge Watcher poll cadence.
type MergeConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY, E2B_API_KEY, ...)
//  2. Project config (.coordinator.yaml in current directory or parent)
//  3. User config (~/.config/coordinator/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("")
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("sandbox.provider_api_key_env", "SANDBOX_PROVIDER")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("budget.monthly_limit", cfg.Budget.MonthlyLimit)
	v.Set("budget.per_session_default", cfg.Budget.PerSessionDefault)
	v.Set("budget.warning_thresholds", cfg.Budget.WarningThresholds)
	v.Set("budget.cost_per_minute_usd", cfg.Budget.CostPerMinuteUSD)
	v.Set("sandbox.base_image", cfg.Sandbox.BaseImage)
	v.Set("sandbox.template", cfg.Sandbox.Template)
	v.Set("sandbox.soft_warning_minutes", cfg.Sandbox.SoftWarningMinutes)
	v.Set("sandbox.hard_timeout_minutes", cfg.Sandbox.HardTimeoutMinutes)
	v.Set("stale.heartbeat_threshold", cfg.Stale.HeartbeatThreshold.String())
	v.Set("stale.worktree_prefix", cfg.Stale.WorktreePrefix)
	v.Set("claims.default_ttl", cfg.Claims.DefaultTTL.String())
	v.Set("merge.poll_interval", cfg.Merge.PollInterval.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures the built-in defaults (lowest precedence tier).
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("budget.monthly_limit", 0.0)
	v.SetDefault("budget.per_session_default", 5.0)
	v.SetDefault("budget.warning_thresholds", []float64{0.8, 1.0})
	v.SetDefault("budget.cost_per_minute_usd", 0.02)

	v.SetDefault("sandbox.provider_api_key_env", "SANDBOX_API_KEY")
	v.SetDefault("sandbox.base_image", "default")
	v.SetDefault("sandbox.template", "")
	v.SetDefault("sandbox.soft_warning_minutes", []int{30, 50})
	v.SetDefault("sandbox.hard_timeout_minutes", 60)
	v.SetDefault("sandbox.poll_interval", "500ms")
	v.SetDefault("sandbox.max_remote_log_bytes", 100*1024*1024)
	v.SetDefault("sandbox.ring_buffer_bytes", 50*1024)
	v.SetDefault("sandbox.credentials_role_arn", "")
	v.SetDefault("sandbox.credential_duration_seconds", 3600)

	v.SetDefault("audit.bucket", "")

	v.SetDefault("stale.heartbeat_threshold", "10m")
	v.SetDefault("stale.worktree_prefix", "parallel-")
	v.SetDefault("stale.auto_cleanup", true)

	v.SetDefault("claims.default_ttl", "24h")
	v.SetDefault("claims.cleanup_interval", "5m")

	v.SetDefault("merge.poll_interval", "60s")
}

// getUserConfigDir returns the XDG config directory for the coordinator.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "coordinator")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "coordinator")
	}
	return filepath.Join(home, ".config", "coordinator")
}

// findProjectConfig searches for .coordinator.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".coordinator.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			PerSessionDefault: 5.0,
			WarningThresholds: []float64{0.8, 1.0},
			CostPerMinuteUSD:  0.02,
		},
		Sandbox: SandboxConfig{
			ProviderAPIKeyEnv:  "SANDBOX_API_KEY",
			BaseImage:          "default",
			SoftWarningMinutes: []int{30, 50},
			HardTimeoutMinutes: 60,
			PollInterval:       500 * time.Millisecond,
			MaxRemoteLogBytes:  100 * 1024 * 1024,
			RingBufferBytes:    50 * 1024,
		},
		Stale: StaleConfig{
			HeartbeatThreshold: 10 * time.Minute,
			WorktreePrefix:     "parallel-",
			AutoCleanup:        true,
		},
		Claims: ClaimsConfig{
			DefaultTTL:      24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Merge: MergeConfig{
			PollInterval: 60 * time.Second,
		},
	}
}
