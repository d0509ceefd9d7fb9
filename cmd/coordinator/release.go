package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	releaseSessionID string
	releaseForce     bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a session and remove its worktree",
	Long: `Releases the named session: removes its worktree (unless it is the
main-repository session) and deletes its row and active claims (spec.md
§4.3).`,
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseSessionID, "session", "", "session id to release (required)")
	releaseCmd.Flags().BoolVar(&releaseForce, "force", false, "force-remove the worktree even with uncommitted changes")
	_ = releaseCmd.MarkFlagRequired("session")
}

func runRelease(cmd *cobra.Command, args []string) error {
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

	// Coordinator.Release tears down the session's claims itself; list
	// them first only to report how many were released.
	claimList, _ := a.claims.List(releaseSessionID)

	if err := a.coord.Release(releaseSessionID, releaseForce); err != nil {
		return p.Error(err)
	}

	result := struct {
		Released       bool `json:"released"`
		ClaimsReleased int  `json:"claims_released"`
	}{Released: true, ClaimsReleased: len(claimList)}

	p.Success(result, func(data any) {
		p.Statusf("✓", color.FgGreen, "released session %s (%d claim(s) released)", releaseSessionID, result.ClaimsReleased)
	})
	return nil
}
