package worktree

import "testing"

func TestGenerateWorktreeName(t *testing.T) {
	m := &Manager{prefix: "parallel-"}

	tests := []struct {
		sessionID string
		want      string
	}{
		{"abc123", "parallel-abc123"},
		{"uuid-like-id", "parallel-uuid-like-id"},
	}

	for _, tt := range tests {
		t.Run(tt.sessionID, func(t *testing.T) {
			if got := m.GenerateWorktreeName(tt.sessionID); got != tt.want {
				t.Errorf("GenerateWorktreeName(%q) = %q, want %q", tt.sessionID, got, tt.want)
			}
		})
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /home/user/project
branch refs/heads/main

worktree /home/user/project/.coordinator/worktrees/parallel-abc123
branch refs/heads/parallel-abc123

worktree /home/user/project/.coordinator/worktrees/parallel-def456
branch refs/heads/parallel-def456
`

	m := &Manager{
		baseDir:  "/home/user/project/.coordinator/worktrees",
		repoPath: "/home/user/project",
		prefix:   "parallel-",
	}

	worktrees := m.parseWorktreeList(output)
	if len(worktrees) != 3 {
		t.Fatalf("expected 3 worktrees, got %d", len(worktrees))
	}

	if worktrees[0].Path != "/home/user/project" || worktrees[0].BranchName != "main" {
		t.Errorf("unexpected main worktree: %+v", worktrees[0])
	}
	if worktrees[0].SessionID != "" {
		t.Errorf("main worktree should have no session id, got %q", worktrees[0].SessionID)
	}

	if worktrees[1].BranchName != "parallel-abc123" || worktrees[1].SessionID != "abc123" {
		t.Errorf("unexpected managed worktree: %+v", worktrees[1])
	}
}

func TestListOrphansExcludesActiveAndMain(t *testing.T) {
	m := &Manager{
		baseDir:  "/home/user/project/.coordinator/worktrees",
		repoPath: "/home/user/project",
		prefix:   "parallel-",
	}

	output := `worktree /home/user/project
branch refs/heads/main

worktree /home/user/project/.coordinator/worktrees/parallel-live
branch refs/heads/parallel-live

worktree /home/user/project/.coordinator/worktrees/parallel-dead
branch refs/heads/parallel-dead
`
	all := m.parseWorktreeList(output)

	var orphans []*Worktree
	active := map[string]bool{"live": true}
	for _, wt := range all {
		if !m.isManaged(wt) || wt.Path == m.repoPath {
			continue
		}
		if wt.SessionID != "" && active[wt.SessionID] {
			continue
		}
		orphans = append(orphans, wt)
	}

	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphan, got %d", len(orphans))
	}
	if orphans[0].SessionID != "dead" {
		t.Errorf("expected orphan session 'dead', got %q", orphans[0].SessionID)
	}
}
