package store

import (
	"database/sql"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// InsertConflict persists a newly detected conflict.
func (db *DB) InsertConflict(c *model.ConflictResolution) error {
	_, err := db.Exec(`
		INSERT INTO conflict_resolutions (
			id, repo_path, file_path, session_a, session_b, type, detected_at,
			resolved, resolved_at, resolution_note, hunk_summary
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.RepoPath, c.FilePath, c.SessionA, c.SessionB, string(c.Type),
		formatTime(c.DetectedAt), boolToInt(c.Resolved), nullableTimeString(c.ResolvedAt),
		c.ResolutionNote, c.HunkSummary,
	)
	if err != nil {
		return &StoreError{Op: "insert conflict", Err: err}
	}
	return nil
}

// ResolveConflict marks a conflict resolved with a note, at the given time.
func (db *DB) ResolveConflict(id string, resolvedAtStr string, note string) error {
	_, err := db.Exec(`
		UPDATE conflict_resolutions SET resolved = 1, resolved_at = ?, resolution_note = ?
		WHERE id = ?`, resolvedAtStr, note, id)
	if err != nil {
		return &StoreError{Op: "resolve conflict", Err: err}
	}
	return nil
}

// UnresolvedConflicts returns unresolved conflicts for a repo.
func (db *DB) UnresolvedConflicts(repoPath string) ([]*model.ConflictResolution, error) {
	rows, err := db.Query(`
		SELECT id, repo_path, file_path, session_a, session_b, type, detected_at,
			resolved, resolved_at, resolution_note, hunk_summary
		FROM conflict_resolutions WHERE repo_path = ? AND resolved = 0`, repoPath)
	if err != nil {
		return nil, &StoreError{Op: "query unresolved conflicts", Err: err}
	}
	defer rows.Close()

	var out []*model.ConflictResolution
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan conflict", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConflict(rows *sql.Rows) (*model.ConflictResolution, error) {
	var c model.ConflictResolution
	var typ string
	var detectedAt string
	var resolved int
	var resolvedAt, note, summary sql.NullString

	err := rows.Scan(&c.ID, &c.RepoPath, &c.FilePath, &c.SessionA, &c.SessionB, &typ,
		&detectedAt, &resolved, &resolvedAt, &note, &summary)
	if err != nil {
		return nil, err
	}

	c.Type = model.ConflictType(typ)
	c.Resolved = resolved != 0
	c.ResolutionNote = note.String
	c.HunkSummary = summary.String
	c.ResolvedAt = parseNullableTime(resolvedAt)

	if c.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertAutoFixSuggestion persists a remediation proposal for a conflict.
func (db *DB) InsertAutoFixSuggestion(s *model.AutoFixSuggestion) error {
	_, err := db.Exec(`
		INSERT INTO auto_fix_suggestions (
			id, conflict_id, description, patch, confidence, created_at, accepted
		) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ConflictID, s.Description, s.Patch, s.Confidence,
		formatTime(s.CreatedAt), boolToInt(s.Accepted),
	)
	if err != nil {
		return &StoreError{Op: "insert autofix suggestion", Err: err}
	}
	return nil
}

// SuggestionsForConflict returns auto-fix suggestions recorded for a
// conflict id.
func (db *DB) SuggestionsForConflict(conflictID string) ([]*model.AutoFixSuggestion, error) {
	rows, err := db.Query(`
		SELECT id, conflict_id, description, patch, confidence, created_at, accepted
		FROM auto_fix_suggestions WHERE conflict_id = ?`, conflictID)
	if err != nil {
		return nil, &StoreError{Op: "query autofix suggestions", Err: err}
	}
	defer rows.Close()

	var out []*model.AutoFixSuggestion
	for rows.Next() {
		var s model.AutoFixSuggestion
		var createdAt string
		var accepted int
		var patch, desc sql.NullString
		if err := rows.Scan(&s.ID, &s.ConflictID, &desc, &patch, &s.Confidence, &createdAt, &accepted); err != nil {
			return nil, &StoreError{Op: "scan autofix suggestion", Err: err}
		}
		s.Description = desc.String
		s.Patch = patch.String
		s.Accepted = accepted != 0
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, &StoreError{Op: "parse autofix created_at", Err: err}
		}
		s.CreatedAt = t
		out = append(out, &s)
	}
	return out, rows.Err()
}
