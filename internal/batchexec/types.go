// Package batchexec implements the Parallel Executor (spec.md §4.8): fan
// out of M tasks across a bounded pool of sandboxes with fail-fast
// cancellation, per-task result aggregation, and a summary report.
package batchexec

import (
	"fmt"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one unit of work to fan out.
type Task struct {
	ID          string
	Description string
	Prompt      string
}

// TaskResult is the per-task outcome spec.md §4.8 names.
type TaskResult struct {
	TaskID       string
	Description  string
	SessionID    string
	SandboxID    string
	WorktreePath string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	FilesChanged int
	OutputPath   string
	ExitCode     int
	Error        error
	CostEstimate float64
}

// ProgressUpdate is delivered to Options.OnProgress serially, never
// concurrently, matching spec.md §5's ordering guarantee.
type ProgressUpdate struct {
	TaskID         string
	Status         Status
	Message        string
	CompletedTasks int
	TotalTasks     int
}

// ProgressFunc receives serialized ProgressUpdates.
type ProgressFunc func(ProgressUpdate)

// CancelledByFailFast marks a TaskResult whose task never started because
// an earlier task failed in fail-fast mode.
type CancelledByFailFast struct{ TaskID string }

func (e *CancelledByFailFast) Error() string {
	return fmt.Sprintf("batchexec: task %s cancelled by fail-fast", e.TaskID)
}

// GitLiveFailed wraps a failure pushing a task's branch/commit upstream.
type GitLiveFailed struct{ Err error }

func (e *GitLiveFailed) Error() string { return fmt.Sprintf("batchexec: git-live push failed: %v", e.Err) }
func (e *GitLiveFailed) Unwrap() error  { return e.Err }
