// Package model holds the entity types persisted by the coordinator: the
// data model described in spec.md §3 (Session, FileClaim, ConflictResolution,
// AutoFixSuggestion, MergeSubscription, MergeEvent, BudgetPeriod).
package model

import "time"

// ExecutionMode identifies where a session's agent runs.
type ExecutionMode string

const (
	// ModeLocal means the agent runs as a local OS process attached to a
	// worktree.
	ModeLocal ExecutionMode = "local"
	// ModeE2B means the agent runs inside a remote sandbox.
	ModeE2B ExecutionMode = "e2b"
)

// SandboxStatus is the lifecycle state of an e2b-mode session's sandbox run.
type SandboxStatus string

const (
	SandboxInitializing SandboxStatus = "INITIALIZING"
	SandboxRunning      SandboxStatus = "RUNNING"
	SandboxCompleted    SandboxStatus = "COMPLETED"
	SandboxFailed       SandboxStatus = "FAILED"
	SandboxTimedOut     SandboxStatus = "TIMEOUT"
)

// Session is a registered agent process, bound to a repository and a
// worktree (spec.md §3 "Session").
type Session struct {
	ID              string    `json:"id" validate:"required"`
	PID             int       `json:"pid" validate:"required"`
	RepoPath        string    `json:"repo_path" validate:"required"`
	WorktreePath    string    `json:"worktree_path" validate:"required"`
	WorktreeName    string    `json:"worktree_name,omitempty"`
	IsMainRepo      bool      `json:"is_main_repo"`
	CreatedAt       time.Time `json:"created_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Mode            ExecutionMode `json:"mode"`

	// The following fields only apply when Mode == ModeE2B.
	SandboxID       string        `json:"sandbox_id,omitempty"`
	Prompt          string        `json:"prompt,omitempty"`
	Status          SandboxStatus `json:"status,omitempty"`
	OutputLog       string        `json:"output_log,omitempty"`
	BudgetLimit     float64       `json:"budget_limit,omitempty"`
	EstimatedCost   float64       `json:"estimated_cost,omitempty"`
	ActualCost      float64       `json:"actual_cost,omitempty"`
	Template        string        `json:"template,omitempty"`
	GitUser         string        `json:"git_user,omitempty"`
	GitEmail        string        `json:"git_email,omitempty"`
	SSHKeyProvided  bool          `json:"ssh_key_provided,omitempty"`
}

// IsLive reports whether the session is still alive and its heartbeat is
// within the given staleness threshold. ModeLocal sessions are only live
// if their owning process is still running; ModeE2B sessions have no
// local process to check (the sandbox manager is the liveness authority
// for those, per the batch executor's heartbeat updates), so pidAlive is
// skipped entirely and liveness is heartbeat recency alone.
func (s *Session) IsLive(now time.Time, staleAfter time.Duration, pidAlive func(int) bool) bool {
	if s == nil {
		return false
	}
	if s.Mode != ModeE2B && !pidAlive(s.PID) {
		return false
	}
	return now.Sub(s.LastHeartbeatAt) <= staleAfter
}
