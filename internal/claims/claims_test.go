package claims

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "claims.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := db.MigrateToLatest(); err != nil {
		t.Fatalf("MigrateToLatest: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, 24*time.Hour)
}

func TestAcquireExclusiveBlocksAnother(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Acquire(AcquireInput{SessionID: "s1", RepoPath: "/repo", FilePath: "a.go", Mode: model.ClaimExclusive})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err = m.Acquire(AcquireInput{SessionID: "s2", RepoPath: "/repo", FilePath: "a.go", Mode: model.ClaimShared})
	var conflictErr *ClaimConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ClaimConflictError, got %v", err)
	}
	if len(conflictErr.Conflicts) != 1 || conflictErr.Conflicts[0].SessionID != "s1" {
		t.Errorf("unexpected conflicts: %+v", conflictErr.Conflicts)
	}
}

func TestAcquireSharedAllowsAnotherShared(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire(AcquireInput{SessionID: "s1", RepoPath: "/repo", FilePath: "b.go", Mode: model.ClaimShared}); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := m.Acquire(AcquireInput{SessionID: "s2", RepoPath: "/repo", FilePath: "b.go", Mode: model.ClaimShared}); err != nil {
		t.Fatalf("second Acquire should succeed: %v", err)
	}
}

func TestReleaseFreesClaim(t *testing.T) {
	m := newTestManager(t)

	claim, err := m.Acquire(AcquireInput{SessionID: "s1", RepoPath: "/repo", FilePath: "c.go", Mode: model.ClaimExclusive})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Release(claim.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := m.Acquire(AcquireInput{SessionID: "s2", RepoPath: "/repo", FilePath: "c.go", Mode: model.ClaimExclusive}); err != nil {
		t.Fatalf("Acquire after release should succeed: %v", err)
	}
}

func TestEscalateIntentToExclusive(t *testing.T) {
	m := newTestManager(t)

	claim, err := m.Acquire(AcquireInput{SessionID: "s1", RepoPath: "/repo", FilePath: "d.go", Mode: model.ClaimIntent})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Escalate(claim.ID, "/repo", "d.go", "s1", model.ClaimExclusive); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	conflicts, err := m.Check("/repo", "d.go", "s2", model.ClaimShared)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(conflicts) != 1 {
		t.Errorf("expected escalated claim to now conflict with SHARED, got %d conflicts", len(conflicts))
	}
}

func TestCleanupExpiresOldClaims(t *testing.T) {
	m := newTestManager(t)
	m.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }

	if _, err := m.Acquire(AcquireInput{SessionID: "s1", RepoPath: "/repo", FilePath: "e.go", Mode: model.ClaimShared, TTL: time.Hour}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	m.now = func() time.Time { return time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC) }

	n, err := m.Cleanup("/repo", 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 claim expired, got %d", n)
	}
}
