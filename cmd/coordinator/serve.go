package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only HTTP status API",
	Long: `Starts the status API (spec.md §6) exposing the same session and claim
read paths the CLI commands use, over HTTP, for dashboards and external
tooling. Runs until interrupted (SIGINT/SIGTERM).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7777", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	server := api.NewServer(a.db, api.Config{
		Addr:     serveAddr,
		RepoPath: repo,
		Logger:   slog.Default(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Statusf("•", color.FgCyan, "status API listening on %s (ctrl-c to stop)", serveAddr)
	return server.Run(ctx)
}
