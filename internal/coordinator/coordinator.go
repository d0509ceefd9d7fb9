// Package coordinator implements the Session & Worktree Coordinator
// (spec.md §4.1): registering agent sessions against worktrees, tracking
// liveness via heartbeats, and sweeping stale sessions and their orphaned
// worktrees on cleanup.
package coordinator

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/store"
	"github.com/frankbria/parallel-cc-sub000/internal/worktree"
)

// ErrSessionNotFound is returned when an operation references a session id
// that isn't registered.
var ErrSessionNotFound = errors.New("coordinator: session not found")

// ClaimReleaser is the narrow claims.Manager surface Coordinator needs to
// tear down a session's FileClaims when that session is released or swept
// as stale (spec.md §3: a FileClaim is "cleaned up en masse when its
// owning session dies"; §8 invariant: every active claim has a live
// owning session).
type ClaimReleaser interface {
	List(sessionID string) ([]*model.FileClaim, error)
	Release(claimID string) error
}

// Coordinator registers sessions, tracks their heartbeats, and reconciles
// live sessions against the worktrees that back them.
type Coordinator struct {
	store           *store.DB
	worktrees       worktree.Adapter
	claims          ClaimReleaser
	staleAfter      time.Duration
	autoCleanup     bool
	now             func() time.Time
	pidAlive        func(int) bool
}

// Options configures a Coordinator beyond its required store and worktree
// adapter.
type Options struct {
	StaleAfter  time.Duration
	AutoCleanup bool
}

// New constructs a Coordinator bound to db, wt, and claims. claims may be
// nil, in which case Release/Cleanup skip claim teardown entirely (useful
// for tests that don't exercise claims at all).
func New(db *store.DB, wt worktree.Adapter, claims ClaimReleaser, opts Options) *Coordinator {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Coordinator{
		store:       db,
		worktrees:   wt,
		claims:      claims,
		staleAfter:  staleAfter,
		autoCleanup: opts.AutoCleanup,
		now:         time.Now,
		pidAlive:    pidAlive,
	}
}

// releaseClaims releases every active claim held by sessionID, swallowing
// individual release errors (a claim already expired/released is not a
// failure) so one stale row never blocks the rest of the sweep.
func (c *Coordinator) releaseClaims(sessionID string) {
	if c.claims == nil {
		return
	}
	held, err := c.claims.List(sessionID)
	if err != nil {
		return
	}
	for _, claim := range held {
		_ = c.claims.Release(claim.ID)
	}
}

// RegisterInput supplies the fields a caller controls when registering a
// new session; the coordinator fills in id, timestamps, and worktree.
type RegisterInput struct {
	PID        int
	RepoPath   string
	IsMainRepo bool
	Mode       model.ExecutionMode
	Prompt     string
	Template   string
}

// Register creates a worktree (unless the caller is attaching to the main
// repository checkout) and persists a new session row for it.
func (c *Coordinator) Register(in RegisterInput) (*model.Session, error) {
	id := uuid.New().String()
	now := c.now()

	s := &model.Session{
		ID:              id,
		PID:             in.PID,
		RepoPath:        in.RepoPath,
		IsMainRepo:      in.IsMainRepo,
		CreatedAt:       now,
		LastHeartbeatAt: now,
		Mode:            in.Mode,
		Prompt:          in.Prompt,
		Template:        in.Template,
	}
	if s.Mode == "" {
		s.Mode = model.ModeLocal
	}

	if in.IsMainRepo {
		s.WorktreePath = c.worktrees.GetMainRepoPath()
	} else {
		wt, err := c.worktrees.CreateWorktree(id)
		if err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
		s.WorktreePath = wt.Path
		s.WorktreeName = wt.BranchName
	}

	if err := c.store.InsertSession(s); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}
	return s, nil
}

// Heartbeat updates a session's last-seen timestamp, keeping it from being
// swept as stale.
func (c *Coordinator) Heartbeat(sessionID string) error {
	if err := c.store.UpdateHeartbeat(sessionID, formatTime(c.now())); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Release releases a session's claims, removes its worktree (when it owns
// one), and deletes its row, regardless of liveness. Use Cleanup to sweep
// only stale sessions.
func (c *Coordinator) Release(sessionID string, force bool) error {
	s, err := c.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	c.releaseClaims(sessionID)

	if !s.IsMainRepo {
		if err := c.worktrees.RemoveWorktree(s.WorktreePath, force); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}

	if err := c.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupResult summarizes one Cleanup pass.
type CleanupResult struct {
	StaleSessionsReleased int
	OrphanWorktreesRemoved int
}

// Cleanup releases every session whose owning process is no longer alive
// or whose heartbeat has exceeded the staleness threshold, then — when
// auto-cleanup is enabled — sweeps worktrees with no corresponding live
// session.
func (c *Coordinator) Cleanup(repoPath string) (*CleanupResult, error) {
	sessions, err := c.store.ListSessions(repoPath)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := c.now()
	result := &CleanupResult{}
	var liveIDs []string

	for _, s := range sessions {
		if s.IsLive(now, c.staleAfter, c.pidAlive) {
			liveIDs = append(liveIDs, s.ID)
			continue
		}

		c.releaseClaims(s.ID)

		if !s.IsMainRepo {
			_ = c.worktrees.RemoveWorktree(s.WorktreePath, true)
		}
		if err := c.store.DeleteSession(s.ID); err != nil {
			return result, fmt.Errorf("delete stale session %s: %w", s.ID, err)
		}
		result.StaleSessionsReleased++
	}

	if c.autoCleanup {
		removed, err := c.worktrees.CleanupOrphans(liveIDs, nil)
		if err != nil {
			return result, fmt.Errorf("cleanup orphan worktrees: %w", err)
		}
		result.OrphanWorktreesRemoved = removed
	}

	return result, nil
}

// pidAlive probes whether pid is still a live OS process by sending the
// null signal (no-op signal that performs only existence/permission
// checks) rather than actually signaling the process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) {
		return false
	}
	// EPERM means the process exists but is owned by another user.
	return errors.Is(err, syscall.EPERM)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
