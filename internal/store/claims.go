package store

import (
	"database/sql"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// InsertClaim persists a new file claim.
func (db *DB) InsertClaim(c *model.FileClaim) error {
	var escalatedFrom sql.NullString
	if c.EscalatedFrom != nil {
		escalatedFrom = sql.NullString{String: string(*c.EscalatedFrom), Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO file_claims (
			id, session_id, repo_path, file_path, mode, claimed_at, expires_at,
			active, escalated_from, reason, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SessionID, c.RepoPath, c.FilePath, string(c.Mode),
		formatTime(c.ClaimedAt), formatTime(c.ExpiresAt), boolToInt(c.Active),
		escalatedFrom, c.Reason, c.Metadata,
	)
	if err != nil {
		return &StoreError{Op: "insert claim", Err: err}
	}
	return nil
}

// ActiveClaimsForFile returns live claims (active, regardless of
// expiration — callers apply the TTL check via model.FileClaim.Live) held
// against repoPath/filePath, excluding claims owned by excludeSession.
func (db *DB) ActiveClaimsForFile(repoPath, filePath, excludeSession string) ([]*model.FileClaim, error) {
	rows, err := db.Query(`
		SELECT id, session_id, repo_path, file_path, mode, claimed_at, expires_at,
			active, escalated_from, reason, metadata
		FROM file_claims
		WHERE repo_path = ? AND file_path = ? AND active = 1 AND session_id != ?`,
		repoPath, filePath, excludeSession)
	if err != nil {
		return nil, &StoreError{Op: "query active claims", Err: err}
	}
	defer rows.Close()

	var out []*model.FileClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan claim", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListClaimsBySession returns every active claim held by sessionID.
func (db *DB) ListClaimsBySession(sessionID string) ([]*model.FileClaim, error) {
	rows, err := db.Query(`
		SELECT id, session_id, repo_path, file_path, mode, claimed_at, expires_at,
			active, escalated_from, reason, metadata
		FROM file_claims WHERE session_id = ? AND active = 1`, sessionID)
	if err != nil {
		return nil, &StoreError{Op: "list claims by session", Err: err}
	}
	defer rows.Close()

	var out []*model.FileClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan claim", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReleaseClaim marks a claim inactive.
func (db *DB) ReleaseClaim(id string) error {
	_, err := db.Exec(`UPDATE file_claims SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "release claim", Err: err}
	}
	return nil
}

// EscalateClaim rewrites a claim's mode, recording its prior mode.
func (db *DB) EscalateClaim(id string, newMode, fromMode model.ClaimMode) error {
	_, err := db.Exec(`UPDATE file_claims SET mode = ?, escalated_from = ? WHERE id = ?`,
		string(newMode), string(fromMode), id)
	if err != nil {
		return &StoreError{Op: "escalate claim", Err: err}
	}
	return nil
}

// ExpireClaims marks every active claim whose expires_at is before nowStr
// inactive, returning the count affected.
func (db *DB) ExpireClaims(nowStr string) (int64, error) {
	res, err := db.Exec(`UPDATE file_claims SET active = 0 WHERE active = 1 AND expires_at < ?`, nowStr)
	if err != nil {
		return 0, &StoreError{Op: "expire claims", Err: err}
	}
	return res.RowsAffected()
}

// RecordClaimCleanup upserts the last-cleanup timestamp for a repo, used
// to gate concurrent cleanup sweeps across processes.
func (db *DB) RecordClaimCleanup(repoPath, atStr string) error {
	_, err := db.Exec(`
		INSERT INTO claim_cleanup_state (repo_path, last_cleanup_at) VALUES (?, ?)
		ON CONFLICT(repo_path) DO UPDATE SET last_cleanup_at = excluded.last_cleanup_at`,
		repoPath, atStr)
	if err != nil {
		return &StoreError{Op: "record claim cleanup", Err: err}
	}
	return nil
}

// LastClaimCleanup returns the last recorded cleanup time string for a
// repo, or "" if none has run yet.
func (db *DB) LastClaimCleanup(repoPath string) (string, error) {
	var at string
	row := db.QueryRow(`SELECT last_cleanup_at FROM claim_cleanup_state WHERE repo_path = ?`, repoPath)
	if err := row.Scan(&at); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", &StoreError{Op: "last claim cleanup", Err: err}
	}
	return at, nil
}

func scanClaim(rows *sql.Rows) (*model.FileClaim, error) {
	var c model.FileClaim
	var mode string
	var claimedAt, expiresAt string
	var active int
	var escalatedFrom, reason, metadata sql.NullString

	err := rows.Scan(&c.ID, &c.SessionID, &c.RepoPath, &c.FilePath, &mode,
		&claimedAt, &expiresAt, &active, &escalatedFrom, &reason, &metadata)
	if err != nil {
		return nil, err
	}

	c.Mode = model.ClaimMode(mode)
	c.Active = active != 0
	c.Reason = reason.String
	c.Metadata = metadata.String
	if escalatedFrom.Valid {
		m := model.ClaimMode(escalatedFrom.String)
		c.EscalatedFrom = &m
	}

	if c.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}

	return &c, nil
}
