package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep stale sessions, orphaned worktrees, and expired claims",
	Long: `Releases every session whose process is dead or whose heartbeat has
exceeded the staleness threshold, removes worktrees with no corresponding
live session, and expires file claims past their TTL (spec.md §4.3, §4.2
"Cleanup").`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	sessionResult, err := a.coord.Cleanup(repo)
	if err != nil {
		return p.Error(err)
	}

	expiredClaims, err := a.claims.Cleanup(repo, a.cfg.Claims.CleanupInterval)
	if err != nil {
		return p.Error(err)
	}

	result := struct {
		StaleSessionsReleased  int   `json:"stale_sessions_released"`
		OrphanWorktreesRemoved int   `json:"orphan_worktrees_removed"`
		ClaimsExpired          int64 `json:"claims_expired"`
	}{
		StaleSessionsReleased:  sessionResult.StaleSessionsReleased,
		OrphanWorktreesRemoved: sessionResult.OrphanWorktreesRemoved,
		ClaimsExpired:          expiredClaims,
	}

	p.Success(result, func(data any) {
		p.Statusf("✓", color.FgGreen, "released %d stale session(s)", result.StaleSessionsReleased)
		p.Statusf("✓", color.FgGreen, "removed %d orphaned worktree(s)", result.OrphanWorktreesRemoved)
		p.Statusf("✓", color.FgGreen, "expired %d claim(s)", result.ClaimsExpired)
	})
	return nil
}
