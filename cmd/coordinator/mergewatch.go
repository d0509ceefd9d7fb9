package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/mergewatch"
)

var mergeWatchCmd = &cobra.Command{
	Use:   "merge-watch",
	Short: "Poll subscribed branches for merges and divergence",
	Long: `Runs the Merge Watcher (spec.md §4.9): periodically checks every active
merge subscription for the repository, recording a merge, a benign
divergence, or a predicted conflict. With --once it runs a single pass
and exits; otherwise it polls until interrupted (SIGINT/SIGTERM).`,
	RunE: runMergeWatch,
}

var (
	mergeWatchOnce     bool
	mergeWatchInterval time.Duration
)

func init() {
	mergeWatchCmd.Flags().BoolVar(&mergeWatchOnce, "once", false, "run a single poll pass and exit instead of running continuously")
	mergeWatchCmd.Flags().DurationVar(&mergeWatchInterval, "interval", 60*time.Second, "poll interval (floor 5s)")
}

func runMergeWatch(cmd *cobra.Command, args []string) error {
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

	watcher := mergewatch.New(a.db, func(repoPath string) git.Runner {
		return git.NewRunner(repoPath)
	}, mergewatch.Config{
		RepoPaths: []string{repo},
		Interval:  mergeWatchInterval,
		Logger:    slog.Default(),
	})

	if mergeWatchOnce {
		result := watcher.PollOnce(cmd.Context())
		p.Success(result, func(data any) {
			r := data.(*mergewatch.PollResult)
			p.Statusf("✓", color.FgGreen, "checked %d subscription(s): %d new merge(s), %d notification(s)", r.SubscriptionsChecked, len(r.NewMerges), r.NotificationsSent)
			for _, e := range r.Errors {
				p.Statusf("⚠", color.FgYellow, "%s", e)
			}
		})
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Statusf("•", color.FgCyan, "watching %s every %s (ctrl-c to stop)", repo, mergeWatchInterval)
	watcher.Run(ctx)
	return nil
}
