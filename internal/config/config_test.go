package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Budget.PerSessionDefault != 5.0 {
		t.Errorf("expected per_session_default 5.0, got %v", cfg.Budget.PerSessionDefault)
	}

	if len(cfg.Budget.WarningThresholds) != 2 {
		t.Errorf("expected 2 warning thresholds, got %d", len(cfg.Budget.WarningThresholds))
	}

	if cfg.Sandbox.HardTimeoutMinutes != 60 {
		t.Errorf("expected hard timeout 60, got %d", cfg.Sandbox.HardTimeoutMinutes)
	}

	if len(cfg.Sandbox.SoftWarningMinutes) != 2 || cfg.Sandbox.SoftWarningMinutes[0] != 30 {
		t.Errorf("expected soft warnings [30 50], got %v", cfg.Sandbox.SoftWarningMinutes)
	}

	if cfg.Stale.HeartbeatThreshold != 10*time.Minute {
		t.Errorf("expected stale threshold 10m, got %v", cfg.Stale.HeartbeatThreshold)
	}

	if cfg.Stale.WorktreePrefix != "parallel-" {
		t.Errorf("expected worktree prefix 'parallel-', got %q", cfg.Stale.WorktreePrefix)
	}

	if cfg.Claims.DefaultTTL != 24*time.Hour {
		t.Errorf("expected claim TTL 24h, got %v", cfg.Claims.DefaultTTL)
	}

	if cfg.Merge.PollInterval != 60*time.Second {
		t.Errorf("expected merge poll interval 60s, got %v", cfg.Merge.PollInterval)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
budget:
  monthly_limit: 100
  per_session_default: 10
  warning_thresholds: [0.5, 0.9]
sandbox:
  hard_timeout_minutes: 45
  soft_warning_minutes: [20, 35]
stale:
  heartbeat_threshold: 5m
  worktree_prefix: batch-
claims:
  default_ttl: 12h
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}

	if cfg.Budget.MonthlyLimit != 100 {
		t.Errorf("expected monthly_limit 100, got %v", cfg.Budget.MonthlyLimit)
	}

	if cfg.Sandbox.HardTimeoutMinutes != 45 {
		t.Errorf("expected hard timeout 45, got %d", cfg.Sandbox.HardTimeoutMinutes)
	}

	if cfg.Stale.WorktreePrefix != "batch-" {
		t.Errorf("expected worktree prefix 'batch-', got %q", cfg.Stale.WorktreePrefix)
	}

	if cfg.Claims.DefaultTTL != 12*time.Hour {
		t.Errorf("expected claim TTL 12h, got %v", cfg.Claims.DefaultTTL)
	}
}

func TestExpandEnvInAPIKey(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("anthropic:\n  api_key: \"${TEST_VAR}\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", cfg.Anthropic.APIKey)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/coordinator"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg := Default()
	cfg.Budget.MonthlyLimit = 250
	cfg.Anthropic.APIKey = "sk-ant-test-key-0123456789"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if loaded.Budget.MonthlyLimit != 250 {
		t.Errorf("expected monthly_limit 250, got %v", loaded.Budget.MonthlyLimit)
	}
}
