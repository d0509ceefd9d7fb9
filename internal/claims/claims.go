// Package claims implements the File Claim Manager (spec.md §4.2):
// sessions assert EXCLUSIVE, SHARED, or INTENT claims over file paths so
// concurrent agent sessions can detect and avoid stepping on each other's
// in-flight edits. Generalized from internal/orchestrator/collision.go's
// in-memory, heuristic path-prefix collision map into a store-backed,
// transactionally-serialized claim table with TTL expiration.
package claims

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
	"github.com/frankbria/parallel-cc-sub000/internal/store"
)

// ClaimConflictError is returned by Acquire when an incompatible claim is
// already held by another session.
type ClaimConflictError struct {
	FilePath  string
	Conflicts []model.ClaimConflictEntry
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("claims: %s is claimed by %d conflicting session(s)", e.FilePath, len(e.Conflicts))
}

// Manager mediates claim acquisition against the store, serializing the
// check-then-insert sequence per repo with an in-process mutex so two
// goroutines in the same coordinator process can't race the database
// round trip (cross-process races are still resolved by the store's own
// transaction boundary).
type Manager struct {
	store       *store.DB
	defaultTTL  time.Duration
	mu          sync.Mutex
	now         func() time.Time
}

// New constructs a claims Manager with the given default TTL for claims
// that don't specify one explicitly (spec.md default: 24h).
func New(db *store.DB, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Manager{store: db, defaultTTL: defaultTTL, now: time.Now}
}

// AcquireInput describes a requested claim.
type AcquireInput struct {
	SessionID string
	RepoPath  string
	FilePath  string
	Mode      model.ClaimMode
	TTL       time.Duration
	Reason    string
}

// Acquire checks existing live claims on the file against the
// compatibility matrix and, if none conflict, inserts a new claim.
func (m *Manager) Acquire(in AcquireInput) (*model.FileClaim, error) {
	if !in.Mode.Valid() {
		return nil, fmt.Errorf("claims: invalid mode %q", in.Mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, err := m.store.ActiveClaimsForFile(in.RepoPath, in.FilePath, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check existing claims: %w", err)
	}

	var conflicts []model.ClaimConflictEntry
	for _, e := range existing {
		if !e.Live(now) {
			continue
		}
		if !model.Compatible(e.Mode, in.Mode) {
			conflicts = append(conflicts, model.ClaimConflictEntry{
				SessionID: e.SessionID,
				Mode:      e.Mode,
				Reason:    e.Reason,
			})
		}
	}
	if len(conflicts) > 0 {
		return nil, &ClaimConflictError{FilePath: in.FilePath, Conflicts: conflicts}
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	claim := &model.FileClaim{
		ID:        uuid.New().String(),
		SessionID: in.SessionID,
		RepoPath:  in.RepoPath,
		FilePath:  in.FilePath,
		Mode:      in.Mode,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
		Reason:    in.Reason,
	}
	if err := m.store.InsertClaim(claim); err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return claim, nil
}

// Release deactivates a claim by id.
func (m *Manager) Release(claimID string) error {
	if err := m.store.ReleaseClaim(claimID); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// Escalate widens (or narrows) a held claim's mode, e.g. from INTENT to
// EXCLUSIVE once a session is about to write. The conflict check runs
// again at the new mode before the change is applied.
func (m *Manager) Escalate(claimID, repoPath, filePath, sessionID string, newMode model.ClaimMode) error {
	if !newMode.Valid() {
		return fmt.Errorf("claims: invalid mode %q", newMode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, err := m.store.ActiveClaimsForFile(repoPath, filePath, sessionID)
	if err != nil {
		return fmt.Errorf("check existing claims: %w", err)
	}

	var conflicts []model.ClaimConflictEntry
	for _, e := range existing {
		if !e.Live(now) {
			continue
		}
		if !model.Compatible(e.Mode, newMode) {
			conflicts = append(conflicts, model.ClaimConflictEntry{SessionID: e.SessionID, Mode: e.Mode})
		}
	}
	if len(conflicts) > 0 {
		return &ClaimConflictError{FilePath: filePath, Conflicts: conflicts}
	}

	mine, err := m.store.ListClaimsBySession(sessionID)
	if err != nil {
		return fmt.Errorf("list session claims: %w", err)
	}
	var fromMode model.ClaimMode
	for _, c := range mine {
		if c.ID == claimID {
			fromMode = c.Mode
			break
		}
	}

	if err := m.store.EscalateClaim(claimID, newMode, fromMode); err != nil {
		return fmt.Errorf("escalate claim: %w", err)
	}
	return nil
}

// Check reports the live claims conflicting with a hypothetical request,
// without acquiring anything — used by agents to preflight an edit.
func (m *Manager) Check(repoPath, filePath, sessionID string, mode model.ClaimMode) ([]model.ClaimConflictEntry, error) {
	now := m.now()
	existing, err := m.store.ActiveClaimsForFile(repoPath, filePath, sessionID)
	if err != nil {
		return nil, fmt.Errorf("check claims: %w", err)
	}

	var conflicts []model.ClaimConflictEntry
	for _, e := range existing {
		if !e.Live(now) {
			continue
		}
		if !model.Compatible(e.Mode, mode) {
			conflicts = append(conflicts, model.ClaimConflictEntry{SessionID: e.SessionID, Mode: e.Mode, Reason: e.Reason})
		}
	}
	return conflicts, nil
}

// List returns every active claim held by sessionID.
func (m *Manager) List(sessionID string) ([]*model.FileClaim, error) {
	claims, err := m.store.ListClaimsBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return claims, nil
}

// Cleanup expires claims whose TTL has elapsed and records the sweep time
// so concurrent coordinator processes don't redundantly race the same
// cleanup pass within a short window.
func (m *Manager) Cleanup(repoPath string, minInterval time.Duration) (int64, error) {
	now := m.now()

	last, err := m.store.LastClaimCleanup(repoPath)
	if err != nil {
		return 0, fmt.Errorf("read last cleanup: %w", err)
	}
	if last != "" {
		lastAt, err := time.Parse(time.RFC3339Nano, last)
		if err == nil && now.Sub(lastAt) < minInterval {
			return 0, nil
		}
	}

	n, err := m.store.ExpireClaims(now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("expire claims: %w", err)
	}

	if err := m.store.RecordClaimCleanup(repoPath, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return n, fmt.Errorf("record cleanup: %w", err)
	}
	return n, nil
}
