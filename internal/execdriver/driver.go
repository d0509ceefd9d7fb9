package execdriver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/outputstream"
	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

// oauthCredentialsPath is the fixed in-sandbox path credentials are
// written to for oauth auth (phase 4).
const oauthCredentialsPath = "/tmp/coordinator-oauth-credentials.json"

// remoteLogPath is the fixed in-sandbox path the agent's output is
// redirected to, polled by the Output Streamer.
const remoteLogPath = "/tmp/coordinator-agent.log"

// Driver runs the ten-phase sequence against one sandbox handle.
type Driver struct {
	Logger *slog.Logger
}

// New constructs a Driver. A nil logger falls back to slog's default.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{Logger: logger}
}

// Execute runs all ten phases against handle for one prompt.
func (d *Driver) Execute(ctx context.Context, handle sandbox.Handle, prompt string, opts RunOptions, localRepo git.Runner) (*ExecutionResult, error) {
	start := time.Now()

	// Phase 1: health preflight.
	running, err := handle.IsRunning(ctx)
	if err != nil || !running {
		return &ExecutionResult{
			Success: false, State: StateFailed,
			Error: &sandbox.SandboxNotHealthy{SandboxID: handle.ID()},
		}, nil
	}

	// Phase 2: agent binary assurance.
	if err := d.ensureAgentBinary(ctx, handle, opts.WorkingDir); err != nil {
		return &ExecutionResult{Success: false, State: StateFailed, Error: &ExecutionFailed{Err: err}}, nil
	}

	// Phase 3: agent self-update (best-effort, non-fatal).
	d.selfUpdate(ctx, handle, opts.WorkingDir)

	// Phase 4: credential provisioning.
	if err := d.provisionCredentials(ctx, handle, opts); err != nil {
		return &ExecutionResult{Success: false, State: StateFailed, Error: &ExecutionFailed{Err: err}}, nil
	}

	// Phase 5: git identity resolution.
	identity := ResolveGitIdentity(opts, localRepo)

	// Phase 6: workspace init (non-fatal on failure, logged only).
	if err := d.initWorkspace(ctx, handle, opts, identity); err != nil {
		d.Logger.Warn("execdriver: workspace init failed, continuing", "error", err)
	}

	// Phase 7: tooling install (best-effort).
	d.installTooling(ctx, handle, opts.WorkingDir)

	// Phase 8: sanitize and run.
	sanitized, err := SanitizePrompt(prompt)
	if err != nil {
		return &ExecutionResult{Success: false, State: StateFailed, Error: &ExecutionFailed{Err: err}}, nil
	}

	// Launch the Output Streamer against remoteLogPath before executing,
	// so it is already polling when the agent starts writing to its log.
	var streamer *outputstream.Streamer
	if opts.StreamOutput {
		streamCfg := outputstream.Config{}
		if opts.CaptureFullLog {
			streamCfg.LocalMirrorPath = opts.LocalLogPath
		}
		streamer = outputstream.New(handle, remoteLogPath, streamCfg)
		if err := streamer.Start(ctx); err != nil {
			d.Logger.Warn("execdriver: output streamer failed to start, continuing without it", "error", err)
			streamer = nil
		}
	}

	cmd := d.buildRunCommand(opts, sanitized)
	timeoutMs := int64(opts.TimeoutMinutes) * 60_000
	result, runErr := handle.Run(ctx, cmd, timeoutMs)

	elapsed := time.Since(start)

	output := result.Stdout
	fullOutput := result.Stdout
	if streamer != nil {
		streamer.Stop()
		for range streamer.Events() {
			// Drain until the streamer's final tick completes and it
			// closes Events, so the buffered/full output read below
			// reflects everything the agent wrote.
		}
		if buffered := streamer.GetBufferedOutput(); len(buffered) > 0 {
			output = string(buffered)
		}
		if opts.CaptureFullLog {
			if full, err := streamer.GetFullOutput(); err == nil {
				fullOutput = string(full)
			}
		}
	}

	// Phase 9: classify.
	state, classifyErr := classify(result.ExitCode, runErr, opts.TimeoutMinutes)

	// Phase 10: assemble result.
	return &ExecutionResult{
		Success:       state == StateCompleted,
		ExitCode:      result.ExitCode,
		Output:        output,
		FullOutput:    fullOutput,
		ExecutionTime: elapsed,
		State:         state,
		Error:         classifyErr,
		RemoteLogPath: remoteLogPath,
		LocalLogPath:  opts.LocalLogPath,
	}, nil
}

func (d *Driver) ensureAgentBinary(ctx context.Context, handle sandbox.Handle, workDir string) error {
	result, err := handle.Run(ctx, "command -v agent", 0)
	if err == nil && result.ExitCode == 0 {
		return nil
	}

	install, err := handle.Run(ctx, "curl -fsSL https://agent.example.com/install.sh | sh", 0)
	if err != nil {
		return fmt.Errorf("install agent binary: %w", err)
	}
	if install.ExitCode != 0 {
		return fmt.Errorf("install agent binary exited %d: %s", install.ExitCode, install.Stderr)
	}
	return nil
}

// selfUpdate tries the agent's own update subcommand, then falls back to
// a prefixed reinstall, then a package-runner wrapper. Every step's
// failure is non-fatal: update failure never aborts a run.
func (d *Driver) selfUpdate(ctx context.Context, handle sandbox.Handle, workDir string) {
	if result, err := handle.Run(ctx, "agent update --yes", 0); err == nil && result.ExitCode == 0 {
		return
	}
	if result, err := handle.Run(ctx, "curl -fsSL https://agent.example.com/install.sh | sh -s -- --update", 0); err == nil && result.ExitCode == 0 {
		return
	}
	if _, err := handle.Run(ctx, "npx -y @coordinator/agent-updater", 0); err != nil {
		d.Logger.Debug("execdriver: self-update fallback failed, continuing", "error", err)
	}
}

func (d *Driver) provisionCredentials(ctx context.Context, handle sandbox.Handle, opts RunOptions) error {
	switch opts.AuthMethod {
	case AuthOAuth:
		escaped := shellSingleQuoteEscape(opts.OAuthCredentials)
		cmd := fmt.Sprintf("printf '%%s' '%s' > %s", escaped, oauthCredentialsPath)
		result, err := handle.Run(ctx, cmd, 0)
		if err != nil {
			return fmt.Errorf("write oauth credentials: %w", err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("write oauth credentials exited %d: %s", result.ExitCode, result.Stderr)
		}
		return nil
	case AuthAPIKey:
		if opts.APIKey == "" {
			return fmt.Errorf("api-key auth selected but no key supplied")
		}
		if err := CheckAPIKeyReachable(ctx, opts.APIKey); err != nil {
			d.Logger.Warn("execdriver: api key reachability check failed, continuing", "error", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown auth method %q", opts.AuthMethod)
	}
}

func (d *Driver) initWorkspace(ctx context.Context, handle sandbox.Handle, opts RunOptions, identity GitIdentity) error {
	nameEscaped := shellDoubleQuoteEscape(identity.Name)
	emailEscaped := shellDoubleQuoteEscape(identity.Email)

	cmds := []string{
		fmt.Sprintf("cd %s && git init", opts.WorkingDir),
		fmt.Sprintf(`cd %s && git config user.name "%s"`, opts.WorkingDir, nameEscaped),
		fmt.Sprintf(`cd %s && git config user.email "%s"`, opts.WorkingDir, emailEscaped),
		fmt.Sprintf("cd %s && git add -A && git commit -m 'initial sandbox snapshot' --allow-empty", opts.WorkingDir),
	}
	if opts.RemoteOriginURL != "" {
		cmds = append(cmds, fmt.Sprintf("cd %s && git remote add origin %s", opts.WorkingDir, opts.RemoteOriginURL))
	}

	for _, cmd := range cmds {
		result, err := handle.Run(ctx, cmd, 0)
		if err != nil {
			return fmt.Errorf("workspace init step %q: %w", cmd, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("workspace init step %q exited %d: %s", cmd, result.ExitCode, result.Stderr)
		}
	}
	return nil
}

func (d *Driver) installTooling(ctx context.Context, handle sandbox.Handle, workDir string) {
	if _, err := handle.Run(ctx, "agent mcp install --yes", 0); err != nil {
		d.Logger.Debug("execdriver: optional tooling install failed, continuing", "error", err)
	}
}

func (d *Driver) buildRunCommand(opts RunOptions, sanitizedPrompt string) string {
	var exports string
	if opts.AuthMethod == AuthAPIKey && opts.APIKey != "" {
		exports = fmt.Sprintf("export ANTHROPIC_API_KEY=%s && ", shellSingleQuoteEscape(opts.APIKey))
	}
	return fmt.Sprintf(
		"cd %s && %secho %s | agent -p --dangerously-skip-permissions > %s 2>&1",
		opts.WorkingDir, exports, sanitizedPrompt, remoteLogPath,
	)
}

func classify(exitCode int, runErr error, timeoutMinutes int) (State, error) {
	if runErr != nil && looksLikeTimeout(runErr.Error()) {
		return StateTimeout, &ExecutionTimeout{TimeoutMinutes: timeoutMinutes}
	}
	switch exitCode {
	case 0:
		return StateCompleted, nil
	case 124:
		return StateTimeout, &ExecutionTimeout{TimeoutMinutes: timeoutMinutes}
	default:
		return StateFailed, &ExecutionFailed{Err: fmt.Errorf("agent exited with code %d", exitCode)}
	}
}

func looksLikeTimeout(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded")
}

// shellSingleQuoteEscape implements spec.md §4.6's exact escaping rule:
// wrap in single quotes, rewriting embedded single quotes as '\''.
func shellSingleQuoteEscape(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// shellDoubleQuoteEscape escapes a value for embedding inside
// double-quoted shell arguments (git config user.name/email, per phase
// 6's "double-quote-escaping values").
func shellDoubleQuoteEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return replacer.Replace(s)
}
