package batchexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/frankbria/parallel-cc-sub000/internal/coordinator"
	"github.com/frankbria/parallel-cc-sub000/internal/execdriver"
	"github.com/frankbria/parallel-cc-sub000/internal/filesync"
	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// Options configures one Run.
type Options struct {
	Tasks         []Task
	MaxConcurrent int
	FailFast      bool

	RepoPath    string
	OutputDir   string
	LocalRepo   git.Runner
	RemoteDir   string // remote working directory inside each sandbox, e.g. /workspace
	TargetBranch string

	AuthMethod       execdriver.AuthMethod
	APIKey           string
	OAuthCredentials string
	TimeoutMinutes   int
	BudgetPerTaskUSD float64 // 0 means no per-task budget ceiling

	GitLive bool

	OnProgress ProgressFunc
}

func (o Options) maxConcurrent() int {
	if o.MaxConcurrent <= 0 {
		return 3
	}
	return o.MaxConcurrent
}

// Batch fans a set of Tasks out across a bounded pool of sandboxes,
// running each through Coordinator.Register -> Sandbox.Create -> file
// sync upload -> execdriver.Execute -> download/git-live -> teardown.
// Grounded on internal/orchestrator/pool.go's OrchestratorPool, whose
// sync.WaitGroup-plus-buffered-channel-plus-per-entry-goroutine shape is
// generalized here from "N concurrent long-lived orchestrators" to "M
// short-lived tasks over a bounded K-slot pool", with progress delivered
// serially the same way pool.go forwards OrchestratorEvents through one
// aggregating goroutine.
type Batch struct {
	deps Deps
}

// New constructs a Batch bound to its pipeline collaborators.
func New(deps Deps) *Batch {
	return &Batch{deps: deps}
}

// Summary is the aggregate outcome spec.md §4.8 requires in
// summary-report.md.
type Summary struct {
	BatchID            string
	Results            []*TaskResult
	SuccessCount       int
	FailureCount       int
	CancelledCount     int
	TotalDuration      time.Duration
	SequentialDuration time.Duration
	TimeSaved          time.Duration
	TotalFilesChanged  int
	TotalCost          float64
}

// Run executes opts.Tasks to completion (or first failure, under
// FailFast), writes summary-report.md to opts.OutputDir, and returns the
// aggregate Summary alongside the individual TaskResults.
func (b *Batch) Run(ctx context.Context, opts Options) (*Summary, error) {
	batchID := uuid.New().String()
	total := len(opts.Tasks)
	results := make([]*TaskResult, total)
	for i, task := range opts.Tasks {
		results[i] = &TaskResult{TaskID: task.ID, Description: task.Description, Status: StatusPending}
	}

	progressCh := make(chan ProgressUpdate, 128)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for update := range progressCh {
			if opts.OnProgress != nil {
				opts.OnProgress(update)
			}
		}
	}()

	var completed int32
	emit := func(taskID string, status Status, message string) {
		progressCh <- ProgressUpdate{
			TaskID:         taskID,
			Status:         status,
			Message:        message,
			CompletedTasks: int(atomic.LoadInt32(&completed)),
			TotalTasks:     total,
		}
	}

	taskCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	var cancelled int32
	var mu sync.Mutex // guards result writes across goroutines

	batchStart := time.Now()

	p := pool.New().WithMaxGoroutines(opts.maxConcurrent())
	for i, task := range opts.Tasks {
		i, task := i, task
		p.Go(func() {
			select {
			case <-taskCtx.Done():
				if atomic.LoadInt32(&cancelled) == 1 {
					mu.Lock()
					results[i].Status = StatusCancelled
					results[i].Error = &CancelledByFailFast{TaskID: task.ID}
					mu.Unlock()
					atomic.AddInt32(&completed, 1)
					emit(task.ID, StatusCancelled, "cancelled before start")
					return
				}
			default:
			}

			emit(task.ID, StatusRunning, "starting")
			err := b.runTask(taskCtx, batchID, task, results[i], opts)
			atomic.AddInt32(&completed, 1)

			mu.Lock()
			status := results[i].Status
			mu.Unlock()
			emit(task.ID, status, message(status, err))

			if err != nil && opts.FailFast {
				atomic.StoreInt32(&cancelled, 1)
				cancelAll()
			}
		})
	}
	p.Wait()

	close(progressCh)
	<-progressDone

	summary := buildSummary(batchID, results, time.Since(batchStart))
	if opts.OutputDir != "" {
		if err := writeSummaryReport(opts.OutputDir, summary); err != nil {
			return summary, fmt.Errorf("batchexec: write summary report: %w", err)
		}
	}
	return summary, nil
}

func message(status Status, err error) string {
	if err != nil {
		return err.Error()
	}
	return string(status)
}

// runTask drives one task through the full pipeline, writing its
// progress and terminal state into result.
func (b *Batch) runTask(ctx context.Context, batchID string, task Task, result *TaskResult, opts Options) error {
	result.StartTime = time.Now()
	defer func() { result.EndTime = time.Now(); result.Duration = result.EndTime.Sub(result.StartTime) }()

	fail := func(err error) error {
		result.Status = StatusFailed
		result.Error = err
		return err
	}

	session, err := b.deps.Sessions.Register(coordinator.RegisterInput{
		RepoPath: opts.RepoPath,
		Mode:     model.ModeE2B,
		Prompt:   task.Prompt,
	})
	if err != nil {
		return fail(fmt.Errorf("register session: %w", err))
	}
	result.SessionID = session.ID
	result.WorktreePath = session.WorktreePath
	defer func() { _ = b.deps.Sessions.Release(session.ID, false) }()

	create, err := b.deps.Sandboxes.Create(ctx, session.ID)
	if err != nil {
		return fail(fmt.Errorf("create sandbox: %w", err))
	}
	result.SandboxID = create.SandboxID
	defer func() { _, _ = b.deps.Sandboxes.Terminate(context.Background(), create.SandboxID) }()

	if opts.BudgetPerTaskUSD > 0 {
		if err := b.deps.Sandboxes.SetBudgetLimit(create.SandboxID, opts.BudgetPerTaskUSD); err != nil {
			return fail(fmt.Errorf("set budget limit: %w", err))
		}
	}

	handle, ok := b.deps.Sandboxes.Handle(create.SandboxID)
	if !ok {
		return fail(fmt.Errorf("sandbox %s not tracked after create", create.SandboxID))
	}

	remoteDir := opts.RemoteDir
	if remoteDir == "" {
		remoteDir = "/workspace"
	}

	tarballPath := filepath.Join(os.TempDir(), fmt.Sprintf("batchexec-%s-%s.tar.gz", batchID, task.ID))
	if _, err := filesync.CreateTarball(session.WorktreePath, tarballPath, ""); err != nil {
		return fail(fmt.Errorf("create tarball: %w", err))
	}
	defer os.Remove(tarballPath)

	if _, err := filesync.Upload(ctx, tarballPath, handle, remoteDir, b.deps.AuditMirror); err != nil {
		return fail(fmt.Errorf("upload worktree: %w", err))
	}

	execResult, err := b.deps.Driver.Execute(ctx, handle, task.Prompt, execdriver.RunOptions{
		WorkingDir:       remoteDir,
		TimeoutMinutes:   opts.TimeoutMinutes,
		AuthMethod:       opts.AuthMethod,
		APIKey:           opts.APIKey,
		OAuthCredentials: opts.OAuthCredentials,
	}, opts.LocalRepo)
	if err != nil {
		return fail(fmt.Errorf("execute: %w", err))
	}
	result.ExitCode = execResult.ExitCode
	if !execResult.Success {
		return fail(fmt.Errorf("agent run did not succeed: %s", execResult.State))
	}

	if opts.GitLive && b.deps.GitLive != nil {
		if err := b.deps.GitLive.Push(ctx, handle, remoteDir, opts.TargetBranch); err != nil {
			return fail(&GitLiveFailed{Err: err})
		}
	} else {
		outputDir := filepath.Join(opts.OutputDir, task.ID)
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fail(fmt.Errorf("make output dir: %w", err))
		}
		download, err := filesync.DownloadChangedFiles(ctx, handle, remoteDir, outputDir)
		if err != nil {
			return fail(fmt.Errorf("download changed files: %w", err))
		}
		result.FilesChanged = download.FilesDownloaded
		result.OutputPath = outputDir
	}

	if warning, err := b.deps.Sandboxes.EnforceTimeout(ctx, create.SandboxID); err == nil && warning != nil {
		result.CostEstimate = warning.EstimatedCost
	}

	result.Status = StatusCompleted
	return nil
}
