package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/cliout"
	"github.com/frankbria/parallel-cc-sub000/internal/config"
)

var (
	jsonOutput bool
	repoFlag   string
	globalDB   bool
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Coordinates concurrent agent sessions sharing a repository",
	Long: `coordinator manages isolated worktrees, serialized file claims, remote
sandbox lifecycles, and fan-out batches of parallel agent runs over a
single shared repository.

Subcommands:
  register      Register a new session against a repository
  heartbeat     Refresh a session's liveness heartbeat
  release       Release a session and its worktree
  cleanup       Sweep stale sessions and orphaned worktrees
  claim         Acquire, release, escalate, and list file claims
  sandbox       Create and manage remote sandbox runs
  batch         Fan out a set of tasks across a bounded sandbox pool
  merge-watch   Poll subscribed branches for merges
  serve         Start the read-only HTTP status API
  config        Inspect the loaded configuration

Use "coordinator [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a single JSON document instead of human-readable output")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository path (defaults to the current working directory)")
	rootCmd.PersistentFlags().BoolVar(&globalDB, "global-db", false, "use the global (cross-repository) store instead of the project-local one")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(mergeWatchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command and exits with the exit code spec.md §6
// defines (0 success, 1 recoverable failure, 2 invalid argument).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var badArgsErr *cliout.BadArgsError
		if errors.As(err, &badArgsErr) {
			os.Exit(int(cliout.ExitBadArgs))
		}
		os.Exit(int(cliout.ExitFailure))
	}
}

// badArgs builds a plain invalid-argument error; pass it to
// Printer.BadArgs to emit it and mark the command's exit code.
func badArgs(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// printer returns a cliout.Printer honoring --json.
func printer() *cliout.Printer {
	return cliout.New(jsonOutput)
}

// resolveRepo returns --repo or the current working directory.
func resolveRepo() (string, error) {
	if repoFlag != "" {
		return repoFlag, nil
	}
	return os.Getwd()
}

// loadConfig loads the coordinator's configuration, falling back to
// built-in defaults on any load error so a missing config file never
// blocks a command (spec.md §6's config file is optional).
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		return config.Default()
	}
	return cfg
}
