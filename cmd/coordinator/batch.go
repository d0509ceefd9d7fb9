package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/batchexec"
	"github.com/frankbria/parallel-cc-sub000/internal/execdriver"
	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fan out a set of tasks across a bounded sandbox pool",
}

func init() {
	batchCmd.AddCommand(batchRunCmd)
}

var (
	batchTasksFile    string
	batchMaxConcur    int
	batchFailFast     bool
	batchOutputDir    string
	batchTimeoutMin   int
	batchBudgetUSD    float64
	batchProviderURL  string
	batchAuthMethod   string
)

var batchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every task in --tasks across a bounded pool of sandboxes",
	Long: `Reads a JSON array of {"id", "description", "prompt"} tasks and fans
them out across --max-concurrent sandboxes (default 3), running each
through Coordinator.Register -> Sandbox.Create -> File Sync upload ->
Execution Driver run -> download -> teardown -> Coordinator.Release
(spec.md §4.8). Writes summary-report.md to --output.`,
	RunE: runBatchRun,
}

func init() {
	batchRunCmd.Flags().StringVar(&batchTasksFile, "tasks", "", "path to a JSON file containing the task array (required)")
	batchRunCmd.Flags().IntVar(&batchMaxConcur, "max-concurrent", 3, "bounded pool size K")
	batchRunCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "cancel remaining tasks on first failure")
	batchRunCmd.Flags().StringVar(&batchOutputDir, "output", "./batch-output", "directory to write downloaded diffs and summary-report.md")
	batchRunCmd.Flags().IntVar(&batchTimeoutMin, "timeout-minutes", 60, "per-task remote execution timeout")
	batchRunCmd.Flags().Float64Var(&batchBudgetUSD, "budget-per-task", 0, "per-task soft USD budget ceiling (0 disables)")
	batchRunCmd.Flags().StringVar(&batchProviderURL, "provider-url", "http://localhost:8070", "base URL of the sandbox provider's control plane")
	batchRunCmd.Flags().StringVar(&batchAuthMethod, "auth-method", string(execdriver.AuthAPIKey), "agent credential method: api-key or oauth")
	_ = batchRunCmd.MarkFlagRequired("tasks")
}

func runBatchRun(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	raw, err := os.ReadFile(batchTasksFile)
	if err != nil {
		return p.Error(err)
	}
	var tasks []batchexec.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return p.BadArgs(badArgs("parse --tasks: %w", err))
	}
	if len(tasks) == 0 {
		return p.BadArgs(badArgs("--tasks file contains no tasks"))
	}

	authMethod := execdriver.AuthMethod(batchAuthMethod)
	if authMethod != execdriver.AuthAPIKey && authMethod != execdriver.AuthOAuth {
		return p.BadArgs(badArgs("invalid --auth-method %q", batchAuthMethod))
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	cfg := a.cfg
	ctx := cmd.Context()

	creds, err := buildCredentialProvider(ctx, cfg)
	if err != nil {
		return p.Error(err)
	}

	provider := sandbox.NewHTTPProvider(batchProviderURL, os.Getenv(cfg.Sandbox.ProviderAPIKeyEnv))
	sandboxes := sandbox.NewManager(provider, sandbox.Config{
		SoftWarningMinutes:        cfg.Sandbox.SoftWarningMinutes,
		HardTimeoutMinutes:        cfg.Sandbox.HardTimeoutMinutes,
		CostPerMinuteUSD:          cfg.Budget.CostPerMinuteUSD,
		ProviderAPIKeyEnv:         cfg.Sandbox.ProviderAPIKeyEnv,
		BaseImage:                 cfg.Sandbox.BaseImage,
		Template:                  cfg.Sandbox.Template,
		CredentialDurationSeconds: cfg.Sandbox.CredentialDurationSeconds,
	}, buildSandboxMetrics(), creds)

	mirror, err := buildAuditMirror(ctx, cfg)
	if err != nil {
		return p.Error(err)
	}
	if mirror != nil {
		defer mirror.Close()
	}

	driver := execdriver.New(slog.Default())

	batch := batchexec.New(batchexec.Deps{
		Sessions:    a.coord,
		Sandboxes:   sandboxes,
		Driver:      driver,
		AuditMirror: mirror,
	})

	var onProgress batchexec.ProgressFunc
	if !jsonOutput {
		onProgress = func(u batchexec.ProgressUpdate) {
			p.Statusf("•", color.FgCyan, "[%d/%d] task %s: %s", u.CompletedTasks, u.TotalTasks, u.TaskID, u.Message)
		}
	}

	summary, err := batch.Run(cmd.Context(), batchexec.Options{
		Tasks:            tasks,
		MaxConcurrent:    batchMaxConcur,
		FailFast:         batchFailFast,
		RepoPath:         repo,
		OutputDir:        batchOutputDir,
		LocalRepo:        git.NewRunner(repo),
		TimeoutMinutes:   batchTimeoutMin,
		BudgetPerTaskUSD: batchBudgetUSD,
		AuthMethod:       authMethod,
		APIKey:           os.Getenv("ANTHROPIC_API_KEY"),
		OnProgress:       onProgress,
	})
	if err != nil {
		return p.Error(err)
	}

	p.Success(summary, func(data any) {
		s := data.(*batchexec.Summary)
		p.Statusf("✓", color.FgGreen, "batch %s: %d completed, %d failed, %d cancelled", s.BatchID, s.SuccessCount, s.FailureCount, s.CancelledCount)
		p.Statusf("•", color.FgCyan, "wall-clock %s vs sequential-equivalent %s (saved %s)", s.TotalDuration.Round(1e9), s.SequentialDuration.Round(1e9), s.TimeSaved.Round(1e9))
	})

	if summary.FailureCount > 0 {
		return p.Error(batchPartialFailure{failed: summary.FailureCount})
	}
	return nil
}

type batchPartialFailure struct{ failed int }

func (e batchPartialFailure) Error() string {
	return "batch: one or more tasks failed"
}
