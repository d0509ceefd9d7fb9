package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var heartbeatSessionID string

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Refresh a session's liveness heartbeat",
	Long: `Updates the session's last-heartbeat timestamp so it isn't swept as
stale. Heartbeat failures are never fatal (spec.md §7): a missing session
simply reports found=false.`,
	RunE: runHeartbeat,
}

func init() {
	heartbeatCmd.Flags().StringVar(&heartbeatSessionID, "session", "", "session id to refresh (required)")
	_ = heartbeatCmd.MarkFlagRequired("session")
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
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

	err = a.coord.Heartbeat(heartbeatSessionID)
	found := err == nil

	result := struct {
		Found bool `json:"found"`
	}{Found: found}

	p.Success(result, func(data any) {
		if found {
			p.Statusf("✓", color.FgGreen, "heartbeat refreshed for session %s", heartbeatSessionID)
		} else {
			p.Statusf("⚠", color.FgYellow, "no session found for %s", heartbeatSessionID)
		}
	})
	return nil
}
