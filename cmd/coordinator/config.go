package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frankbria/parallel-cc-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the coordinator's loaded configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, config file paths, and API key source",
	RunE:  runConfigShow,
}

type configShowResult struct {
	UserConfigPath    string `json:"user_config_path"`
	ProjectConfigPath string `json:"project_config_path"`
	APIKeyMasked      string `json:"api_key_masked"`
	APIKeySource      string `json:"api_key_source"`
	Config            *config.Config `json:"config"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	p := printer()

	cfg := loadConfig()

	userPath := config.GetUserConfigPath()
	projectPath := config.GetProjectConfigPath()

	key, _ := config.GetAPIKey(cfg)
	result := configShowResult{
		UserConfigPath:    userPath,
		ProjectConfigPath: projectPath,
		APIKeyMasked:      config.MaskAPIKey(key),
		APIKeySource:      string(config.GetAPIKeySource(cfg)),
		Config:            cfg,
	}

	p.Success(result, func(data any) {
		r := data.(configShowResult)
		p.Statusf("•", color.FgCyan, "user config:    %s", orNone(r.UserConfigPath))
		p.Statusf("•", color.FgCyan, "project config: %s", orNone(r.ProjectConfigPath))
		p.Statusf("•", color.FgCyan, "api key:        %s (%s)", r.APIKeyMasked, r.APIKeySource)
		p.Statusf("•", color.FgCyan, "stale threshold: %s", r.Config.Stale.HeartbeatThreshold)
		p.Statusf("•", color.FgCyan, "sandbox timeout: soft %vm / hard %dm", r.Config.Sandbox.SoftWarningMinutes, r.Config.Sandbox.HardTimeoutMinutes)
	})
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
