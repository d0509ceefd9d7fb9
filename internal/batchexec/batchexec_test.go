package batchexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/frankbria/parallel-cc-sub000/internal/coordinator"
	"github.com/frankbria/parallel-cc-sub000/internal/execdriver"
	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

type fakeHandle struct {
	id string
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Run(ctx context.Context, cmd string, timeoutMs int64) (sandbox.CommandResult, error) {
	return sandbox.CommandResult{ExitCode: 0}, nil
}
func (h *fakeHandle) WriteFile(ctx context.Context, path string, data []byte) error { return nil }
func (h *fakeHandle) ReadFile(ctx context.Context, path string) ([]byte, error)     { return nil, nil }
func (h *fakeHandle) IsRunning(ctx context.Context) (bool, error)                  { return true, nil }
func (h *fakeHandle) Kill(ctx context.Context) error                               { return nil }
func (h *fakeHandle) SetTimeout(ctx context.Context, ms int64) error               { return nil }

type fakeRegistrar struct {
	mu       sync.Mutex
	n        int
	released []string
	failID   string // task whose Register call should fail
}

func (r *fakeRegistrar) Register(in coordinator.RegisterInput) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	id := fmt.Sprintf("sess-%d", r.n)
	if in.Prompt == r.failID {
		return nil, fmt.Errorf("registration refused")
	}
	worktree := filepath.Join(os.TempDir(), "batchexec-test-"+id)
	if err := os.MkdirAll(worktree, 0o755); err != nil {
		return nil, err
	}
	return &model.Session{ID: id, WorktreePath: worktree}, nil
}

func (r *fakeRegistrar) Release(sessionID string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, sessionID)
	return nil
}

type fakeSandboxes struct {
	mu         sync.Mutex
	handles    map[string]*fakeHandle
	terminated []string
}

func newFakeSandboxes() *fakeSandboxes { return &fakeSandboxes{handles: map[string]*fakeHandle{}} }

func (s *fakeSandboxes) Create(ctx context.Context, sessionID string) (*sandbox.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "sbx-" + sessionID
	s.handles[id] = &fakeHandle{id: id}
	return &sandbox.CreateResult{SandboxID: id, Status: "INITIALIZING"}, nil
}

func (s *fakeSandboxes) SetBudgetLimit(sandboxID string, amountUSD float64) error { return nil }

func (s *fakeSandboxes) EnforceTimeout(ctx context.Context, sandboxID string) (*sandbox.TimeoutWarning, error) {
	return &sandbox.TimeoutWarning{EstimatedCost: 0.02}, nil
}

func (s *fakeSandboxes) Terminate(ctx context.Context, sandboxID string) (*sandbox.TerminateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = append(s.terminated, sandboxID)
	return &sandbox.TerminateResult{Success: true, CleanedUp: true}, nil
}

func (s *fakeSandboxes) Handle(sandboxID string) (sandbox.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[sandboxID]
	return h, ok
}

type fakeDriver struct {
	mu       sync.Mutex
	calls    int
	failFor  string // task prompt that should return a failed execution
	errFor   string // task prompt whose Execute call itself errors
}

func (d *fakeDriver) Execute(ctx context.Context, handle sandbox.Handle, prompt string, opts execdriver.RunOptions, localRepo git.Runner) (*execdriver.ExecutionResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.errFor != "" && prompt == d.errFor {
		return nil, fmt.Errorf("driver exploded")
	}
	if d.failFor != "" && prompt == d.failFor {
		return &execdriver.ExecutionResult{Success: false, State: execdriver.StateFailed, ExitCode: 1}, nil
	}
	return &execdriver.ExecutionResult{Success: true, State: execdriver.StateCompleted, ExitCode: 0}, nil
}

func newTestBatch(reg *fakeRegistrar, sb *fakeSandboxes, drv *fakeDriver) *Batch {
	return New(Deps{Sessions: reg, Sandboxes: sb, Driver: drv})
}

func TestRunAllTasksSucceed(t *testing.T) {
	reg := &fakeRegistrar{}
	sb := newFakeSandboxes()
	drv := &fakeDriver{}
	b := newTestBatch(reg, sb, drv)

	outputDir := t.TempDir()
	summary, err := b.Run(context.Background(), Options{
		Tasks: []Task{
			{ID: "t1", Description: "first", Prompt: "do one"},
			{ID: "t2", Description: "second", Prompt: "do two"},
			{ID: "t3", Description: "third", Prompt: "do three"},
		},
		MaxConcurrent: 2,
		OutputDir:     outputDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SuccessCount != 3 || summary.FailureCount != 0 {
		t.Errorf("expected 3 successes, got %+v", summary)
	}
	if len(sb.terminated) != 3 {
		t.Errorf("expected all 3 sandboxes terminated, got %d", len(sb.terminated))
	}
	if len(reg.released) != 3 {
		t.Errorf("expected all 3 sessions released, got %d", len(reg.released))
	}
	if _, err := os.Stat(filepath.Join(outputDir, "summary-report.md")); err != nil {
		t.Errorf("expected summary-report.md to be written: %v", err)
	}
}

func TestRunFailFastCancelsRemainingTasks(t *testing.T) {
	reg := &fakeRegistrar{}
	sb := newFakeSandboxes()
	drv := &fakeDriver{failFor: "boom"}
	b := newTestBatch(reg, sb, drv)

	tasks := []Task{{ID: "t1", Description: "explodes", Prompt: "boom"}}
	for i := 2; i <= 20; i++ {
		tasks = append(tasks, Task{ID: fmt.Sprintf("t%d", i), Description: "benign", Prompt: "fine"})
	}

	summary, err := b.Run(context.Background(), Options{
		Tasks:         tasks,
		MaxConcurrent: 1,
		FailFast:      true,
		OutputDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailureCount < 1 {
		t.Errorf("expected at least one failure, got %+v", summary)
	}
	if summary.CancelledCount == 0 {
		t.Errorf("expected some tasks cancelled under fail-fast with MaxConcurrent=1, got %+v", summary)
	}
}

func TestRunProgressDeliveredSerially(t *testing.T) {
	reg := &fakeRegistrar{}
	sb := newFakeSandboxes()
	drv := &fakeDriver{}
	b := newTestBatch(reg, sb, drv)

	var mu sync.Mutex
	var seen []Status
	onProgress := func(u ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Status)
	}

	_, err := b.Run(context.Background(), Options{
		Tasks: []Task{
			{ID: "t1", Description: "a", Prompt: "a"},
			{ID: "t2", Description: "b", Prompt: "b"},
		},
		MaxConcurrent: 2,
		OutputDir:     t.TempDir(),
		OnProgress:    onProgress,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("expected at least one progress update")
	}
}

func TestRunRegistrationFailureMarksTaskFailed(t *testing.T) {
	reg := &fakeRegistrar{failID: "bad prompt"}
	sb := newFakeSandboxes()
	drv := &fakeDriver{}
	b := newTestBatch(reg, sb, drv)

	summary, err := b.Run(context.Background(), Options{
		Tasks:         []Task{{ID: "t1", Description: "x", Prompt: "bad prompt"}},
		MaxConcurrent: 1,
		OutputDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FailureCount != 1 {
		t.Errorf("expected registration failure to surface as a failed task, got %+v", summary)
	}
}
