// Package worktree manages git worktrees used to isolate concurrent
// coding-agent sessions from one another (spec.md §4.1 "Session & Worktree
// Coordinator"). It wraps internal/git's WorktreeOperations with naming
// and orphan-recovery logic generalized from a single-agent worktree
// manager into one that tracks many live sessions sharing a repository.
package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
)

// Worktree describes one git worktree tracked by the coordinator.
type Worktree struct {
	Path       string
	BranchName string
	SessionID  string
	CreatedAt  time.Time
}

// Adapter is the contract the coordinator uses to manage worktrees,
// allowing the underlying VCS operations to be swapped or mocked in tests.
type Adapter interface {
	CreateWorktree(sessionID string) (*Worktree, error)
	RemoveWorktree(path string, force bool) error
	ListWorktrees() ([]*Worktree, error)
	GetMainRepoPath() string
	GenerateWorktreeName(sessionID string) string
	ListOrphans(activeSessions []string) ([]*Worktree, error)
	CleanupOrphans(activeSessions []string, verbose func(path string)) (int, error)
}

var _ Adapter = (*Manager)(nil)

// Manager implements Adapter on top of a git.Runner.
type Manager struct {
	baseDir  string
	repoPath string
	prefix   string
	git      git.Runner
	mu       sync.Mutex
}

// New creates a Manager. baseDir is where worktrees are created; it
// defaults to <repoPath>/.coordinator/worktrees when empty. prefix names
// the branch/directory convention used to recognize coordinator-owned
// worktrees (spec.md's StaleConfig.WorktreePrefix, default "parallel-").
func New(baseDir, repoPath, prefix string) (*Manager, error) {
	return NewWithRunner(baseDir, repoPath, prefix, git.NewRunner(repoPath))
}

// NewWithRunner is New with an injectable git.Runner, for testing.
func NewWithRunner(baseDir, repoPath, prefix string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(repoPath, ".coordinator", "worktrees")
	}
	if prefix == "" {
		prefix = "parallel-"
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		prefix:   prefix,
		git:      runner,
	}, nil
}

// GenerateWorktreeName derives a deterministic branch/directory name for a
// session id, falling back to a fresh uuid when none is supplied.
func (m *Manager) GenerateWorktreeName(sessionID string) string {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return m.prefix + sessionID
}

// CreateWorktree adds a new worktree on a freshly created branch named
// after sessionID.
func (m *Manager) CreateWorktree(sessionID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branchName := m.GenerateWorktreeName(sessionID)
	worktreePath := filepath.Join(m.baseDir, branchName)

	if err := m.git.WorktreeAddNewBranch(worktreePath, branchName); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{
		Path:       worktreePath,
		BranchName: branchName,
		SessionID:  sessionID,
		CreatedAt:  time.Now(),
	}, nil
}

// RemoveWorktree removes the worktree at path, forcing removal of
// uncommitted changes when force is true.
func (m *Manager) RemoveWorktree(path string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemoveOptionalForce(path, force); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// ListWorktrees returns every worktree git knows about for this repo.
func (m *Manager) ListWorktrees() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return m.parseWorktreeList(output), nil
}

// GetMainRepoPath returns the path to the repository this manager governs.
func (m *Manager) GetMainRepoPath() string {
	return m.repoPath
}

func (m *Manager) parseWorktreeList(output string) []*Worktree {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			branchRef := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(branchRef, "refs/heads/")
			if strings.HasPrefix(current.BranchName, m.prefix) {
				current.SessionID = strings.TrimPrefix(current.BranchName, m.prefix)
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

func (m *Manager) isManaged(wt *Worktree) bool {
	return strings.HasPrefix(wt.BranchName, m.prefix)
}

// ListOrphans returns worktrees the coordinator owns (by branch-name
// prefix) whose session is not present in activeSessions, and which are
// not the main repository checkout.
func (m *Manager) ListOrphans(activeSessions []string) ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees := m.parseWorktreeList(output)

	active := make(map[string]bool, len(activeSessions))
	for _, id := range activeSessions {
		active[id] = true
	}

	var orphans []*Worktree
	for _, wt := range worktrees {
		if !m.isManaged(wt) {
			continue
		}
		if wt.Path == m.repoPath {
			continue
		}
		if wt.SessionID != "" && active[wt.SessionID] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes every orphaned worktree and prunes git's
// bookkeeping. verbose, if non-nil, is called once per worktree removed.
func (m *Manager) CleanupOrphans(activeSessions []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(activeSessions)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		_ = m.git.WorktreeUnlock(wt.Path)

		if err := m.git.WorktreeRemove(wt.Path); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePruneExpireNow()
	return removed, nil
}
