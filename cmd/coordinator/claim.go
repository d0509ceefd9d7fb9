package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/claims"
	"github.com/frankbria/parallel-cc-sub000/internal/filesync"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Acquire, release, escalate, and list file claims",
	Long: `Manages the three-mode (EXCLUSIVE/SHARED/INTENT) file-claim protocol
that serializes concurrent agent edits to the same file (spec.md §4.2).`,
}

func init() {
	claimCmd.AddCommand(claimAcquireCmd)
	claimCmd.AddCommand(claimReleaseCmd)
	claimCmd.AddCommand(claimEscalateCmd)
	claimCmd.AddCommand(claimCheckCmd)
	claimCmd.AddCommand(claimListCmd)
}

var (
	claimSession string
	claimFile    string
	claimMode    string
	claimTTL     time.Duration
	claimReason  string
)

func addClaimTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&claimSession, "session", "", "owning session id (required)")
	cmd.Flags().StringVar(&claimFile, "file", "", "repo-relative file path (required)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("file")
}

var claimAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a claim on a file",
	RunE:  runClaimAcquire,
}

func init() {
	addClaimTargetFlags(claimAcquireCmd)
	claimAcquireCmd.Flags().StringVar(&claimMode, "mode", string(model.ClaimIntent), "claim mode: EXCLUSIVE, SHARED, or INTENT")
	claimAcquireCmd.Flags().DurationVar(&claimTTL, "ttl", 0, "claim TTL (default 24h)")
	claimAcquireCmd.Flags().StringVar(&claimReason, "reason", "", "free-form reason/metadata")
}

func runClaimAcquire(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	mode := model.ClaimMode(claimMode)
	if !mode.Valid() {
		return p.BadArgs(badArgs("invalid --mode %q", claimMode))
	}
	if err := filesync.ValidatePath(claimFile); err != nil {
		return p.BadArgs(err)
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	claim, err := a.claims.Acquire(claims.AcquireInput{
		SessionID: claimSession,
		RepoPath:  repo,
		FilePath:  claimFile,
		Mode:      mode,
		TTL:       claimTTL,
		Reason:    claimReason,
	})
	if err != nil {
		if conflict, ok := err.(*claims.ClaimConflictError); ok {
			return p.Error(conflict)
		}
		return p.Error(err)
	}

	p.Success(claim, func(data any) {
		c := data.(*model.FileClaim)
		p.Statusf("✓", color.FgGreen, "acquired %s claim on %s (expires %s)", c.Mode, c.FilePath, c.ExpiresAt.Format(time.RFC3339))
	})
	return nil
}

var claimReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a claim by id",
	RunE:  runClaimRelease,
}

var (
	claimID       string
	claimForce    bool
)

func init() {
	claimReleaseCmd.Flags().StringVar(&claimID, "id", "", "claim id (required)")
	claimReleaseCmd.Flags().BoolVar(&claimForce, "force", false, "release even if owned by another session")
	_ = claimReleaseCmd.MarkFlagRequired("id")
}

func runClaimRelease(cmd *cobra.Command, args []string) error {
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

	err = a.claims.Release(claimID)
	released := err == nil

	result := struct {
		Released bool `json:"released"`
	}{Released: released}

	p.Success(result, func(data any) {
		if released {
			p.Statusf("✓", color.FgGreen, "released claim %s", claimID)
		} else {
			p.Statusf("⚠", color.FgYellow, "claim %s was already inactive", claimID)
		}
	})
	return nil
}

var claimEscalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Escalate a held claim to a wider mode",
	Long: `Legal transitions: INTENT -> SHARED, INTENT -> EXCLUSIVE, SHARED ->
EXCLUSIVE (spec.md §4.2). Any other transition fails with InvalidEscalation.`,
	RunE: runClaimEscalate,
}

func init() {
	claimEscalateCmd.Flags().StringVar(&claimID, "id", "", "claim id (required)")
	addClaimTargetFlags(claimEscalateCmd)
	claimEscalateCmd.Flags().StringVar(&claimMode, "to", "", "target claim mode (required)")
	_ = claimEscalateCmd.MarkFlagRequired("id")
	_ = claimEscalateCmd.MarkFlagRequired("to")
}

func runClaimEscalate(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	newMode := model.ClaimMode(claimMode)
	if !newMode.Valid() {
		return p.BadArgs(badArgs("invalid --to %q", claimMode))
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	if err := a.claims.Escalate(claimID, repo, claimFile, claimSession, newMode); err != nil {
		return p.Error(err)
	}

	result := struct {
		Escalated bool `json:"escalated"`
	}{Escalated: true}

	p.Success(result, func(data any) {
		p.Statusf("✓", color.FgGreen, "escalated claim %s to %s", claimID, newMode)
	})
	return nil
}

var claimCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run check whether a claim would conflict",
	RunE:  runClaimCheck,
}

func init() {
	addClaimTargetFlags(claimCheckCmd)
	claimCheckCmd.Flags().StringVar(&claimMode, "mode", string(model.ClaimIntent), "claim mode to test")
}

func runClaimCheck(cmd *cobra.Command, args []string) error {
	p := printer()

	repo, err := resolveRepo()
	if err != nil {
		return p.Error(err)
	}

	mode := model.ClaimMode(claimMode)
	if !mode.Valid() {
		return p.BadArgs(badArgs("invalid --mode %q", claimMode))
	}

	a, err := openApp(repo)
	if err != nil {
		return p.Error(err)
	}
	defer a.Close()

	conflicts, err := a.claims.Check(repo, claimFile, claimSession, mode)
	if err != nil {
		return p.Error(err)
	}

	result := struct {
		Available bool                        `json:"available"`
		Conflicts []model.ClaimConflictEntry `json:"conflicts"`
	}{Available: len(conflicts) == 0, Conflicts: conflicts}

	p.Success(result, func(data any) {
		if result.Available {
			p.Statusf("✓", color.FgGreen, "%s is available for %s", claimFile, mode)
			return
		}
		p.Statusf("✗", color.FgRed, "%s conflicts with %d existing claim(s)", claimFile, len(result.Conflicts))
		for _, c := range result.Conflicts {
			p.Statusf(" ", color.FgWhite, "  held by %s as %s", c.SessionID, c.Mode)
		}
	})
	return nil
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active claims held by a session",
	RunE:  runClaimList,
}

func init() {
	claimListCmd.Flags().StringVar(&claimSession, "session", "", "session id (required)")
	_ = claimListCmd.MarkFlagRequired("session")
}

func runClaimList(cmd *cobra.Command, args []string) error {
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

	list, err := a.claims.List(claimSession)
	if err != nil {
		return p.Error(err)
	}

	p.Success(list, func(data any) {
		claims := data.([]*model.FileClaim)
		if len(claims) == 0 {
			p.Statusf("•", color.FgCyan, "no active claims for session %s", claimSession)
			return
		}
		for _, c := range claims {
			p.Statusf("•", color.FgCyan, "%s  %-9s  %s", c.ID, c.Mode, c.FilePath)
		}
	})
	return nil
}
