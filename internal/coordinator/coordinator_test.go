package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/store"
	"github.com/frankbria/parallel-cc-sub000/internal/worktree"
)

type fakeWorktrees struct {
	repoPath string
	created  []string
	removed  []string
	orphans  []*worktree.Worktree
}

func (f *fakeWorktrees) CreateWorktree(sessionID string) (*worktree.Worktree, error) {
	path := filepath.Join(f.repoPath, ".worktrees", "parallel-"+sessionID)
	f.created = append(f.created, path)
	return &worktree.Worktree{Path: path, BranchName: "parallel-" + sessionID, SessionID: sessionID}, nil
}

func (f *fakeWorktrees) RemoveWorktree(path string, force bool) error {
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeWorktrees) ListWorktrees() ([]*worktree.Worktree, error) { return nil, nil }
func (f *fakeWorktrees) GetMainRepoPath() string                      { return f.repoPath }
func (f *fakeWorktrees) GenerateWorktreeName(sessionID string) string { return "parallel-" + sessionID }
func (f *fakeWorktrees) ListOrphans(active []string) ([]*worktree.Worktree, error) {
	return f.orphans, nil
}
func (f *fakeWorktrees) CleanupOrphans(active []string, verbose func(string)) (int, error) {
	n := len(f.orphans)
	for _, o := range f.orphans {
		if verbose != nil {
			verbose(o.Path)
		}
	}
	f.orphans = nil
	return n, nil
}

type fakeClaims struct {
	bySession map[string][]*model.FileClaim
	released  []string
}

func (f *fakeClaims) List(sessionID string) ([]*model.FileClaim, error) {
	return f.bySession[sessionID], nil
}

func (f *fakeClaims) Release(claimID string) error {
	f.released = append(f.released, claimID)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeWorktrees, *store.DB) {
	c, wt, db, _ := newTestCoordinatorWithClaims(t)
	return c, wt, db
}

func newTestCoordinatorWithClaims(t *testing.T) (*Coordinator, *fakeWorktrees, *store.DB, *fakeClaims) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "c.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := db.MigrateToLatest(); err != nil {
		t.Fatalf("MigrateToLatest: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	wt := &fakeWorktrees{repoPath: dir}
	fc := &fakeClaims{bySession: map[string][]*model.FileClaim{}}
	c := New(db, wt, fc, Options{StaleAfter: 10 * time.Minute})
	return c, wt, db, fc
}

func TestRegisterAndHeartbeat(t *testing.T) {
	c, wt, _ := newTestCoordinator(t)

	s, err := c.Register(RegisterInput{PID: os.Getpid(), RepoPath: wt.repoPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.WorktreePath == "" {
		t.Fatal("expected worktree path to be set")
	}
	if len(wt.created) != 1 {
		t.Fatalf("expected 1 worktree created, got %d", len(wt.created))
	}

	if err := c.Heartbeat(s.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestRegisterMainRepoSkipsWorktreeCreate(t *testing.T) {
	c, wt, _ := newTestCoordinator(t)

	s, err := c.Register(RegisterInput{PID: os.Getpid(), RepoPath: wt.repoPath, IsMainRepo: true})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.WorktreePath != wt.repoPath {
		t.Errorf("expected main repo worktree path %q, got %q", wt.repoPath, s.WorktreePath)
	}
	if len(wt.created) != 0 {
		t.Errorf("expected no worktree created for main repo session")
	}
}

func TestCleanupReleasesDeadProcessSessions(t *testing.T) {
	c, wt, _ := newTestCoordinator(t)

	s, err := c.Register(RegisterInput{PID: 999999999, RepoPath: wt.repoPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := c.Cleanup(wt.repoPath)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.StaleSessionsReleased != 1 {
		t.Errorf("expected 1 stale session released, got %d", result.StaleSessionsReleased)
	}
	if len(wt.removed) != 1 || wt.removed[0] != s.WorktreePath {
		t.Errorf("expected worktree %q removed, got %v", s.WorktreePath, wt.removed)
	}
}

func TestReleaseRemovesWorktreeAndSession(t *testing.T) {
	c, wt, db := newTestCoordinator(t)

	s, err := c.Register(RegisterInput{PID: os.Getpid(), RepoPath: wt.repoPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := c.Release(s.ID, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(wt.removed) != 1 {
		t.Errorf("expected worktree removed on release")
	}
	if _, err := db.GetSession(s.ID); err == nil {
		t.Error("expected session to be gone after release")
	}
}

func TestPidAliveCurrentProcess(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Error("expected current process to report alive")
	}
}

func TestReleaseTearsDownSessionClaims(t *testing.T) {
	c, wt, _, fc := newTestCoordinatorWithClaims(t)

	s, err := c.Register(RegisterInput{PID: os.Getpid(), RepoPath: wt.repoPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	fc.bySession[s.ID] = []*model.FileClaim{{ID: "claim-1"}, {ID: "claim-2"}}

	if err := c.Release(s.ID, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(fc.released) != 2 {
		t.Fatalf("expected 2 claims released, got %v", fc.released)
	}
}

func TestCleanupTearsDownStaleSessionClaims(t *testing.T) {
	c, wt, _, fc := newTestCoordinatorWithClaims(t)

	s, err := c.Register(RegisterInput{PID: 999999999, RepoPath: wt.repoPath})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	fc.bySession[s.ID] = []*model.FileClaim{{ID: "claim-1"}}

	if _, err := c.Cleanup(wt.repoPath); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(fc.released) != 1 || fc.released[0] != "claim-1" {
		t.Errorf("expected stale session's claim released, got %v", fc.released)
	}
}

func TestIsLiveSkipsPidCheckForE2BSessions(t *testing.T) {
	now := time.Now()
	s := &model.Session{Mode: model.ModeE2B, LastHeartbeatAt: now, PID: 0}
	alwaysDead := func(int) bool { return false }

	if !s.IsLive(now, 10*time.Minute, alwaysDead) {
		t.Error("expected e2b session with no pid to be live based on heartbeat alone")
	}
	if s.IsLive(now.Add(time.Hour), 10*time.Minute, alwaysDead) {
		t.Error("expected e2b session to go stale once its heartbeat ages out")
	}
}
