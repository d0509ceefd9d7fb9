package execdriver

import (
	"context"
	"strings"
	"testing"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

func TestResolveGitIdentityCLITakesPriority(t *testing.T) {
	opts := RunOptions{
		GitUserCLI: "Alice", GitEmailCLI: "alice@example.com",
		GitUserEnv: "Bob", GitEmailEnv: "bob@example.com",
	}
	identity := ResolveGitIdentity(opts, nil)
	if identity.Source != GitIdentityCLI || identity.Name != "Alice" {
		t.Errorf("expected cli identity, got %+v", identity)
	}
}

func TestResolveGitIdentityEnvFallsBackWithoutCLI(t *testing.T) {
	opts := RunOptions{GitUserEnv: "Bob", GitEmailEnv: "bob@example.com"}
	identity := ResolveGitIdentity(opts, nil)
	if identity.Source != GitIdentityEnv {
		t.Errorf("expected env identity, got %+v", identity)
	}
}

func TestResolveGitIdentityPartialCLIFallsThrough(t *testing.T) {
	opts := RunOptions{GitUserCLI: "Alice", GitUserEnv: "Bob", GitEmailEnv: "bob@example.com"}
	identity := ResolveGitIdentity(opts, nil)
	if identity.Source != GitIdentityEnv {
		t.Errorf("expected partial cli pair to fall through to env, got %+v", identity)
	}
}

func TestResolveGitIdentityDefaultWhenNothingAvailable(t *testing.T) {
	identity := ResolveGitIdentity(RunOptions{}, nil)
	if identity.Source != GitIdentityDefault {
		t.Errorf("expected default identity, got %+v", identity)
	}
}

func TestSanitizePromptStripsControlCharsKeepsNewlineAndTab(t *testing.T) {
	raw := "hello\x01world\nline two\tindented\x7f"
	sanitized, err := SanitizePrompt(raw)
	if err != nil {
		t.Fatalf("SanitizePrompt: %v", err)
	}
	if strings.Contains(sanitized, "\x01") || strings.Contains(sanitized, "\x7f") {
		t.Errorf("expected control chars stripped, got %q", sanitized)
	}
}

func TestSanitizePromptRejectsOversizedInput(t *testing.T) {
	huge := strings.Repeat("a", maxPromptBytes+1)
	if _, err := SanitizePrompt(huge); err == nil {
		t.Fatal("expected oversized prompt to be rejected")
	}
}

func TestShellSingleQuoteEscapeHandlesEmbeddedQuote(t *testing.T) {
	escaped := shellSingleQuoteEscape(`it's`)
	if escaped != `it'\''s` {
		t.Errorf("unexpected escape result: %q", escaped)
	}
}

func TestClassifyExitCodes(t *testing.T) {
	cases := []struct {
		exitCode int
		want     State
	}{
		{0, StateCompleted},
		{124, StateTimeout},
		{1, StateFailed},
	}
	for _, c := range cases {
		state, _ := classify(c.exitCode, nil, 5)
		if state != c.want {
			t.Errorf("classify(%d) = %v, want %v", c.exitCode, state, c.want)
		}
	}
}

type fakeHandle struct {
	running  bool
	runCalls []string
	exitCode int
	logData  []byte
}

func (h *fakeHandle) ID() string { return "fake" }
func (h *fakeHandle) Run(ctx context.Context, cmd string, timeoutMs int64) (sandbox.CommandResult, error) {
	h.runCalls = append(h.runCalls, cmd)
	if strings.HasPrefix(cmd, "command -v agent") {
		return sandbox.CommandResult{ExitCode: 0}, nil
	}
	return sandbox.CommandResult{ExitCode: h.exitCode}, nil
}
func (h *fakeHandle) WriteFile(ctx context.Context, path string, data []byte) error { return nil }
func (h *fakeHandle) ReadFile(ctx context.Context, path string) ([]byte, error)     { return h.logData, nil }
func (h *fakeHandle) IsRunning(ctx context.Context) (bool, error)                   { return h.running, nil }
func (h *fakeHandle) Kill(ctx context.Context) error                                { return nil }
func (h *fakeHandle) SetTimeout(ctx context.Context, ms int64) error                { return nil }

func TestExecuteHealthPreflightFailsFast(t *testing.T) {
	handle := &fakeHandle{running: false}
	d := New(nil)

	result, err := d.Execute(context.Background(), handle, "do a thing", RunOptions{
		WorkingDir: "/workspace", TimeoutMinutes: 5, AuthMethod: AuthAPIKey, APIKey: "key",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateFailed || result.Success {
		t.Errorf("expected failed state on unhealthy sandbox, got %+v", result)
	}
}

func TestExecuteCompletesSuccessfully(t *testing.T) {
	handle := &fakeHandle{running: true, exitCode: 0}
	d := New(nil)

	result, err := d.Execute(context.Background(), handle, "do a thing", RunOptions{
		WorkingDir: "/workspace", TimeoutMinutes: 5, AuthMethod: AuthAPIKey, APIKey: "key",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.State != StateCompleted {
		t.Errorf("expected completed success, got %+v", result)
	}
}

func TestExecuteStreamsOutputWhenRequested(t *testing.T) {
	handle := &fakeHandle{running: true, exitCode: 0, logData: []byte("agent output\n")}
	d := New(nil)

	result, err := d.Execute(context.Background(), handle, "do a thing", RunOptions{
		WorkingDir:       "/workspace",
		TimeoutMinutes:   5,
		AuthMethod:       AuthOAuth,
		OAuthCredentials: "{}",
		StreamOutput:     true,
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Output != "agent output\n" {
		t.Errorf("expected streamed output to replace buffered stdout, got %q", result.Output)
	}
}

func TestExecuteClassifiesTimeoutExitCode(t *testing.T) {
	handle := &fakeHandle{running: true, exitCode: 124}
	d := New(nil)

	result, err := d.Execute(context.Background(), handle, "do a thing", RunOptions{
		WorkingDir: "/workspace", TimeoutMinutes: 5, AuthMethod: AuthAPIKey, APIKey: "key",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateTimeout {
		t.Errorf("expected timeout state, got %+v", result)
	}
}
