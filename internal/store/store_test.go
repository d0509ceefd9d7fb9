package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.MigrateToLatest(); err != nil {
		t.Fatalf("MigrateToLatest: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateToLatestIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.MigrateToLatest(); err != nil {
		t.Fatalf("second MigrateToLatest: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s := &model.Session{
		ID:              "sess-1",
		PID:             4242,
		RepoPath:        "/repo",
		WorktreePath:    "/repo/.worktrees/sess-1",
		WorktreeName:    "parallel-sess-1",
		CreatedAt:       now,
		LastHeartbeatAt: now,
		Mode:            model.ModeLocal,
	}
	if err := db.InsertSession(s); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.PID != 4242 || got.RepoPath != "/repo" {
		t.Errorf("unexpected session: %+v", got)
	}

	later := now.Add(time.Minute)
	if err := db.UpdateHeartbeat("sess-1", formatTime(later)); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	got, err = db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession after heartbeat: %v", err)
	}
	if !got.LastHeartbeatAt.Equal(later) {
		t.Errorf("expected heartbeat %v, got %v", later, got.LastHeartbeatAt)
	}

	list, err := db.ListSessions("/repo")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
}

func TestClaimCompatibilityPersisted(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	claim := &model.FileClaim{
		ID:        "claim-1",
		SessionID: "sess-1",
		RepoPath:  "/repo",
		FilePath:  "main.go",
		Mode:      model.ClaimExclusive,
		ClaimedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
		Active:    true,
	}
	if err := db.InsertClaim(claim); err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}

	conflicting, err := db.ActiveClaimsForFile("/repo", "main.go", "sess-2")
	if err != nil {
		t.Fatalf("ActiveClaimsForFile: %v", err)
	}
	if len(conflicting) != 1 {
		t.Fatalf("expected 1 conflicting claim, got %d", len(conflicting))
	}
	if model.Compatible(conflicting[0].Mode, model.ClaimShared) {
		t.Errorf("EXCLUSIVE should not be compatible with SHARED")
	}

	if err := db.ReleaseClaim("claim-1"); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	remaining, err := db.ActiveClaimsForFile("/repo", "main.go", "sess-2")
	if err != nil {
		t.Fatalf("ActiveClaimsForFile after release: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected 0 active claims after release, got %d", len(remaining))
	}
}

func TestExpireClaims(t *testing.T) {
	db := openTestDB(t)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	claim := &model.FileClaim{
		ID:        "claim-old",
		SessionID: "sess-1",
		RepoPath:  "/repo",
		FilePath:  "a.go",
		Mode:      model.ClaimShared,
		ClaimedAt: past,
		ExpiresAt: past.Add(time.Hour),
		Active:    true,
	}
	if err := db.InsertClaim(claim); err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}

	n, err := db.ExpireClaims(formatTime(time.Now()))
	if err != nil {
		t.Fatalf("ExpireClaims: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired claim, got %d", n)
	}
}

func TestBudgetPeriodAccumulates(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	period := &model.BudgetPeriod{
		ID:          "period-1",
		Kind:        model.BudgetPeriodMonthly,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		Limit:       100,
	}
	if err := db.InsertBudgetPeriod(period); err != nil {
		t.Fatalf("InsertBudgetPeriod: %v", err)
	}

	if err := db.AddSpend("period-1", 25.5); err != nil {
		t.Fatalf("AddSpend: %v", err)
	}

	got, err := db.CurrentBudgetPeriod(model.BudgetPeriodMonthly, formatTime(now.AddDate(0, 0, 5)))
	if err != nil {
		t.Fatalf("CurrentBudgetPeriod: %v", err)
	}
	if got == nil {
		t.Fatal("expected a current budget period")
	}
	if got.Spent != 25.5 {
		t.Errorf("expected spent 25.5, got %v", got.Spent)
	}
	if got.Status([]float64{0.8, 1.0}) != model.BudgetOK {
		t.Errorf("expected OK status, got %v", got.Status([]float64{0.8, 1.0}))
	}
}
