package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/coordinator"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

var (
	registerPID      int
	registerMode     string
	registerTemplate string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new session against a repository",
	Long: `Registers the calling process as a session against --repo.

The first live session for a repository attaches to the main checkout; every
subsequent concurrent session gets its own isolated worktree (spec.md §4.3).`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().IntVar(&registerPID, "pid", os.Getpid(), "process id owning this session (defaults to the caller's own pid)")
	registerCmd.Flags().StringVar(&registerMode, "mode", string(model.ModeLocal), "execution mode: local or e2b")
	registerCmd.Flags().StringVar(&registerTemplate, "template", "", "sandbox template name (mode=e2b only)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	mode := model.ExecutionMode(registerMode)
	if mode != model.ModeLocal && mode != model.ModeE2B {
		return p.BadArgs(badArgs("invalid --mode %q: must be %q or %q", registerMode, model.ModeLocal, model.ModeE2B))
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	// Sweep dead sessions first so a crashed prior process never blocks
	// this registration's main-vs-worktree decision (spec.md §4.3).
	if _, err := a.coord.Cleanup(repo); err != nil {
		return p.Error(err)
	}

	before, err := a.db.ListSessions(repo)
	if err != nil {
		return p.Error(err)
	}

	session, err := a.coord.Register(coordinator.RegisterInput{
		PID:        registerPID,
		RepoPath:   repo,
		IsMainRepo: len(before) == 0,
		Mode:       mode,
		Template:   registerTemplate,
	})
	if err != nil {
		return p.Error(err)
	}

	parallelAfter := len(before) + 1

	result := registerResult{
		SessionID:        session.ID,
		WorktreePath:     session.WorktreePath,
		WorktreeName:     session.WorktreeName,
		IsMainRepo:       session.IsMainRepo,
		ParallelSessions: parallelAfter,
	}

	p.Success(result, func(data any) {
		r := data.(registerResult)
		if r.IsMainRepo {
			p.Statusf("✓", color.FgGreen, "registered session %s against the main repository checkout", r.SessionID)
		} else {
			p.Statusf("✓", color.FgGreen, "registered session %s in worktree %s", r.SessionID, r.WorktreePath)
		}
		p.Statusf("•", color.FgCyan, "parallel sessions for this repository: %d", r.ParallelSessions)
	})
	return nil
}

type registerResult struct {
	SessionID        string `json:"session_id"`
	WorktreePath     string `json:"worktree_path"`
	WorktreeName     string `json:"worktree_name,omitempty"`
	IsMainRepo       bool   `json:"is_main_repo"`
	ParallelSessions int    `json:"parallel_sessions"`
}
