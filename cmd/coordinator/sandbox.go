package main

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Create and exercise a remote sandbox's lifecycle",
	Long: `Drives the Remote Sandbox Orchestrator (spec.md §4.4) directly from the
CLI: provisioning, health/timeout enforcement, and teardown. Each
invocation is a fresh process, so "sandbox create" runs the full
create -> monitor -> terminate cycle in one shot rather than leaving a
handle for a later "sandbox terminate" call to find; the Parallel
Executor (the "batch" subcommand) is what actually owns a sandbox's
lifecycle across a real multi-step run.`,
}

var (
	sandboxProviderURL string
	sandboxSession     string
	sandboxBudgetUSD   float64
)

func init() {
	sandboxCmd.PersistentFlags().StringVar(&sandboxProviderURL, "provider-url", "http://localhost:8070", "base URL of the sandbox provider's control plane")
	sandboxCmd.AddCommand(sandboxCreateCmd)
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sandbox, check its health, then terminate it",
	RunE:  runSandboxCreate,
}

func init() {
	sandboxCreateCmd.Flags().StringVar(&sandboxSession, "session", "", "owning session id (required)")
	sandboxCreateCmd.Flags().Float64Var(&sandboxBudgetUSD, "budget", 0, "soft USD budget ceiling (0 disables)")
	_ = sandboxCreateCmd.MarkFlagRequired("session")
}

func runSandboxCreate(cmd *cobra.Command, args []string) error {
	p := printer()
	cfg := loadConfig()

	if cfg.Sandbox.ProviderAPIKeyEnv != "" && os.Getenv(cfg.Sandbox.ProviderAPIKeyEnv) == "" {
		return p.Error(sandbox.ApiKeyMissing)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	creds, err := buildCredentialProvider(ctx, cfg)
	if err != nil {
		return p.Error(err)
	}

	provider := sandbox.NewHTTPProvider(sandboxProviderURL, os.Getenv(cfg.Sandbox.ProviderAPIKeyEnv))
	manager := sandbox.NewManager(provider, sandbox.Config{
		SoftWarningMinutes:        cfg.Sandbox.SoftWarningMinutes,
		HardTimeoutMinutes:        cfg.Sandbox.HardTimeoutMinutes,
		CostPerMinuteUSD:          cfg.Budget.CostPerMinuteUSD,
		ProviderAPIKeyEnv:         cfg.Sandbox.ProviderAPIKeyEnv,
		BaseImage:                 cfg.Sandbox.BaseImage,
		Template:                  cfg.Sandbox.Template,
		CredentialDurationSeconds: cfg.Sandbox.CredentialDurationSeconds,
	}, buildSandboxMetrics(), creds)

	created, err := manager.Create(ctx, sandboxSession)
	if err != nil {
		return p.Error(err)
	}
	defer func() { _, _ = manager.Terminate(context.Background(), created.SandboxID) }()

	if sandboxBudgetUSD > 0 {
		if err := manager.SetBudgetLimit(created.SandboxID, sandboxBudgetUSD); err != nil {
			return p.Error(err)
		}
	}

	health, err := manager.MonitorHealth(ctx, created.SandboxID, false)
	if err != nil {
		return p.Error(err)
	}

	result := struct {
		SandboxID string `json:"sandbox_id"`
		Status    string `json:"status"`
		Healthy   bool   `json:"healthy"`
	}{SandboxID: created.SandboxID, Status: created.Status, Healthy: health.IsHealthy}

	p.Success(result, func(data any) {
		p.Statusf("✓", color.FgGreen, "created sandbox %s (status=%s, healthy=%v)", result.SandboxID, result.Status, result.Healthy)
		p.Statusf("•", color.FgCyan, "terminating sandbox before exit")
	})
	return nil
}
