package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// StoreError wraps a failure performing a store operation with the table
// or migration it relates to.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// MigrationMissing is returned by Rollback when the requested target
// version has no recorded migration to roll back to.
var MigrationMissing = errors.New("store: requested migration version not found")

// MigrationVerifyFailed is returned when a migration applied but the
// post-migration schema check failed.
var MigrationVerifyFailed = errors.New("store: migration verification failed")

// BackupMissing is returned by Rollback when the pre-migration backup file
// for the target version cannot be found.
var BackupMissing = errors.New("store: pre-migration backup file not found")

// migration describes one schema change, identified by the semver it
// upgrades the schema to.
type migration struct {
	version *semver.Version
	sql     string
	verify  string // a query that must succeed against the new schema
}

var migrations = []migration{
	{
		version: semver.MustParse("0.5.0"),
		sql:     migrationSessions,
		verify:  "SELECT id FROM sessions LIMIT 0",
	},
	{
		version: semver.MustParse("1.0.0"),
		sql:     migrationClaimsAndConflicts,
		verify:  "SELECT id FROM file_claims LIMIT 0",
	},
	{
		version: semver.MustParse("1.1.0"),
		sql:     migrationMergeAndBudget,
		verify:  "SELECT id FROM merge_subscriptions LIMIT 0",
	},
}

const latestVersion = "1.1.0"

const migrationSessions = `
CREATE TABLE IF NOT EXISTS schema_metadata (
	version TEXT PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	pid INTEGER NOT NULL,
	repo_path TEXT NOT NULL,
	worktree_path TEXT NOT NULL,
	worktree_name TEXT,
	is_main_repo INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	last_heartbeat_at TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT 'local',
	sandbox_id TEXT,
	prompt TEXT,
	status TEXT,
	output_log TEXT,
	budget_limit REAL,
	estimated_cost REAL,
	actual_cost REAL,
	template TEXT,
	git_user TEXT,
	git_email TEXT,
	ssh_key_provided INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_repo ON sessions(repo_path);
CREATE INDEX IF NOT EXISTS idx_sessions_heartbeat ON sessions(last_heartbeat_at);
`

const migrationClaimsAndConflicts = `
CREATE TABLE IF NOT EXISTS file_claims (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	repo_path TEXT NOT NULL,
	file_path TEXT NOT NULL,
	mode TEXT NOT NULL,
	claimed_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	escalated_from TEXT,
	reason TEXT,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_claims_file ON file_claims(repo_path, file_path, active);
CREATE INDEX IF NOT EXISTS idx_claims_session ON file_claims(session_id);
CREATE INDEX IF NOT EXISTS idx_claims_expires ON file_claims(expires_at);

CREATE TABLE IF NOT EXISTS claim_cleanup_state (
	repo_path TEXT PRIMARY KEY,
	last_cleanup_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflict_resolutions (
	id TEXT PRIMARY KEY,
	repo_path TEXT NOT NULL,
	file_path TEXT NOT NULL,
	session_a TEXT NOT NULL,
	session_b TEXT NOT NULL,
	type TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT,
	resolution_note TEXT,
	hunk_summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_conflicts_repo_file ON conflict_resolutions(repo_path, file_path);

CREATE TABLE IF NOT EXISTS auto_fix_suggestions (
	id TEXT PRIMARY KEY,
	conflict_id TEXT NOT NULL REFERENCES conflict_resolutions(id),
	description TEXT,
	patch TEXT,
	confidence REAL,
	created_at TEXT NOT NULL,
	accepted INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_autofix_conflict ON auto_fix_suggestions(conflict_id);
`

const migrationMergeAndBudget = `
CREATE TABLE IF NOT EXISTS merge_subscriptions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	repo_path TEXT NOT NULL,
	source_branch TEXT NOT NULL,
	target_branch TEXT NOT NULL,
	created_at TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	last_polled_at TEXT,
	last_seen_sha TEXT
);

CREATE INDEX IF NOT EXISTS idx_merge_subs_repo ON merge_subscriptions(repo_path, active);

CREATE TABLE IF NOT EXISTS merge_events (
	id TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL REFERENCES merge_subscriptions(id),
	kind TEXT NOT NULL,
	sha TEXT,
	detected_at TEXT NOT NULL,
	conflict_id TEXT,
	summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_merge_events_sub ON merge_events(subscription_id);

CREATE TABLE IF NOT EXISTS budget_tracking (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	budget_limit REAL NOT NULL DEFAULT 0,
	spent REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_budget_kind_start ON budget_tracking(kind, period_start);
`

// currentVersion returns the highest applied schema version, or nil if the
// schema_metadata table does not yet exist (fresh database).
func (db *DB) currentVersion() (*semver.Version, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var exists int
	err := db.conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_metadata'`).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}

	var raw string
	row := db.conn.QueryRow(`SELECT version FROM schema_metadata ORDER BY applied_at DESC LIMIT 1`)
	if err := row.Scan(&raw); err != nil {
		return nil, nil
	}
	return semver.NewVersion(raw)
}

// MigrateToLatest applies every pending migration in ascending semver
// order, taking a file-level backup before each one.
func (db *DB) MigrateToLatest() error {
	current, err := db.currentVersion()
	if err != nil {
		return &StoreError{Op: "read schema version", Err: err}
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version.LessThan(sorted[j].version) })

	for _, m := range sorted {
		if current != nil && !m.version.GreaterThan(current) {
			continue
		}

		if err := db.backupBeforeMigration(m.version.String()); err != nil {
			return &StoreError{Op: fmt.Sprintf("backup before migrating to %s", m.version), Err: err}
		}

		if err := db.applyMigration(m); err != nil {
			return &StoreError{Op: fmt.Sprintf("apply migration %s", m.version), Err: err}
		}

		current = m.version
	}

	return nil
}

func (db *DB) applyMigration(m migration) error {
	db.mu.Lock()
	tx, err := db.conn.Begin()
	if err != nil {
		db.mu.Unlock()
		return err
	}

	if _, err := tx.Exec(m.sql); err != nil {
		tx.Rollback()
		db.mu.Unlock()
		return err
	}

	if _, err := tx.Exec(`INSERT INTO schema_metadata (version) VALUES (?)`, m.version.String()); err != nil {
		tx.Rollback()
		db.mu.Unlock()
		return err
	}

	if err := tx.Commit(); err != nil {
		db.mu.Unlock()
		return err
	}
	db.mu.Unlock()

	if m.verify != "" {
		if _, err := db.Query(m.verify); err != nil {
			return fmt.Errorf("%w: %v", MigrationVerifyFailed, err)
		}
	}
	return nil
}

// backupPath returns the path used for the pre-migration backup taken
// before upgrading to the given version.
func (db *DB) backupPath(version string) string {
	return fmt.Sprintf("%s.v%s.backup", db.path, version)
}

func (db *DB) backupBeforeMigration(version string) error {
	if _, err := os.Stat(db.path); errors.Is(err, os.ErrNotExist) {
		// Fresh database: nothing to back up yet.
		return nil
	}

	src, err := os.Open(db.path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(db.backupPath(version))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Rollback restores the database file from the backup taken immediately
// before the migration to targetVersion was applied. The caller must
// reopen the DB afterward, since the live connection is stale.
func (db *DB) Rollback(targetVersion string) error {
	found := false
	for _, m := range migrations {
		if m.version.String() == targetVersion {
			found = true
			break
		}
	}
	if !found {
		return &StoreError{Op: "rollback", Err: MigrationMissing}
	}

	backup := db.backupPath(targetVersion)
	if _, err := os.Stat(backup); err != nil {
		return &StoreError{Op: "rollback", Err: BackupMissing}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.conn.Close(); err != nil {
		return &StoreError{Op: "rollback", Err: err}
	}

	src, err := os.Open(backup)
	if err != nil {
		return &StoreError{Op: "rollback", Err: err}
	}
	defer src.Close()

	dst, err := os.Create(db.path)
	if err != nil {
		return &StoreError{Op: "rollback", Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &StoreError{Op: "rollback", Err: err}
	}

	return nil
}
