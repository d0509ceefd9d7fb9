package batchexec

import (
	"context"

	"github.com/frankbria/parallel-cc-sub000/internal/coordinator"
	"github.com/frankbria/parallel-cc-sub000/internal/execdriver"
	"github.com/frankbria/parallel-cc-sub000/internal/filesync"
	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

// Registrar is the session half of the per-task pipeline (spec.md §4.8
// step 1 and the final release), narrowed from *coordinator.Coordinator
// so tests can supply a fake.
type Registrar interface {
	Register(in coordinator.RegisterInput) (*model.Session, error)
	Release(sessionID string, force bool) error
}

// Sandboxes is the sandbox-lifecycle half of the pipeline, narrowed from
// *sandbox.Manager.
type Sandboxes interface {
	Create(ctx context.Context, sessionID string) (*sandbox.CreateResult, error)
	SetBudgetLimit(sandboxID string, amountUSD float64) error
	EnforceTimeout(ctx context.Context, sandboxID string) (*sandbox.TimeoutWarning, error)
	Terminate(ctx context.Context, sandboxID string) (*sandbox.TerminateResult, error)
	Handle(sandboxID string) (sandbox.Handle, bool)
}

// ExecDriver is the narrowed *execdriver.Driver.
type ExecDriver interface {
	Execute(ctx context.Context, handle sandbox.Handle, prompt string, opts execdriver.RunOptions, localRepo git.Runner) (*execdriver.ExecutionResult, error)
}

// GitLivePusher pushes a task's committed work directly to a shared
// branch instead of downloading a diff back to the caller's worktree.
// Optional: a nil GitLive in Deps means every task downloads instead.
type GitLivePusher interface {
	Push(ctx context.Context, handle sandbox.Handle, workingDir, targetBranch string) error
}

// Deps collects the collaborators a Batch drives through the per-task
// pipeline. Each is the narrow interface a single concrete package
// (coordinator, sandbox, execdriver) already satisfies.
type Deps struct {
	Sessions    Registrar
	Sandboxes   Sandboxes
	Driver      ExecDriver
	GitLive     GitLivePusher
	AuditMirror *filesync.AuditMirror
}
