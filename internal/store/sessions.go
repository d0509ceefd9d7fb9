package store

import (
	"database/sql"
	"fmt"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// InsertSession persists a new session row.
func (db *DB) InsertSession(s *model.Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (
			id, pid, repo_path, worktree_path, worktree_name, is_main_repo,
			created_at, last_heartbeat_at, mode, sandbox_id, prompt, status,
			output_log, budget_limit, estimated_cost, actual_cost, template,
			git_user, git_email, ssh_key_provided
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.PID, s.RepoPath, s.WorktreePath, s.WorktreeName, boolToInt(s.IsMainRepo),
		formatTime(s.CreatedAt), formatTime(s.LastHeartbeatAt), string(s.Mode), s.SandboxID,
		s.Prompt, string(s.Status), s.OutputLog, s.BudgetLimit, s.EstimatedCost, s.ActualCost,
		s.Template, s.GitUser, s.GitEmail, boolToInt(s.SSHKeyProvided),
	)
	if err != nil {
		return &StoreError{Op: "insert session", Err: err}
	}
	return nil
}

// UpdateHeartbeat bumps a session's last_heartbeat_at.
func (db *DB) UpdateHeartbeat(sessionID string, at string) error {
	res, err := db.Exec(`UPDATE sessions SET last_heartbeat_at = ? WHERE id = ?`, at, sessionID)
	if err != nil {
		return &StoreError{Op: "update heartbeat", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &StoreError{Op: "update heartbeat", Err: sql.ErrNoRows}
	}
	return nil
}

// GetSession loads a session by id.
func (db *DB) GetSession(id string) (*model.Session, error) {
	row := db.QueryRow(`
		SELECT id, pid, repo_path, worktree_path, worktree_name, is_main_repo,
			created_at, last_heartbeat_at, mode, sandbox_id, prompt, status,
			output_log, budget_limit, estimated_cost, actual_cost, template,
			git_user, git_email, ssh_key_provided
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns all sessions registered against repoPath.
func (db *DB) ListSessions(repoPath string) ([]*model.Session, error) {
	rows, err := db.Query(`
		SELECT id, pid, repo_path, worktree_path, worktree_name, is_main_repo,
			created_at, last_heartbeat_at, mode, sandbox_id, prompt, status,
			output_log, budget_limit, estimated_cost, actual_cost, template,
			git_user, git_email, ssh_key_provided
		FROM sessions WHERE repo_path = ?`, repoPath)
	if err != nil {
		return nil, &StoreError{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan session", Err: err}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session row (used by the cleanup sweep once a
// worktree has been removed).
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "delete session", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*model.Session, error) {
	return scanSessionGeneric(row)
}

func scanSessionRows(rows *sql.Rows) (*model.Session, error) {
	return scanSessionGeneric(rows)
}

func scanSessionGeneric(r rowScanner) (*model.Session, error) {
	var s model.Session
	var isMainRepo, sshKeyProvided int
	var createdAt, heartbeatAt string
	var mode, status string
	var worktreeName, sandboxID, prompt, outputLog, template, gitUser, gitEmail sql.NullString
	var budgetLimit, estimatedCost, actualCost sql.NullFloat64

	err := r.Scan(
		&s.ID, &s.PID, &s.RepoPath, &s.WorktreePath, &worktreeName, &isMainRepo,
		&createdAt, &heartbeatAt, &mode, &sandboxID, &prompt, &status,
		&outputLog, &budgetLimit, &estimatedCost, &actualCost, &template,
		&gitUser, &gitEmail, &sshKeyProvided,
	)
	if err != nil {
		return nil, err
	}

	s.WorktreeName = worktreeName.String
	s.IsMainRepo = isMainRepo != 0
	s.Mode = model.ExecutionMode(mode)
	s.SandboxID = sandboxID.String
	s.Prompt = prompt.String
	s.Status = model.SandboxStatus(status)
	s.OutputLog = outputLog.String
	s.BudgetLimit = budgetLimit.Float64
	s.EstimatedCost = estimatedCost.Float64
	s.ActualCost = actualCost.Float64
	s.Template = template.String
	s.GitUser = gitUser.String
	s.GitEmail = gitEmail.String
	s.SSHKeyProvided = sshKeyProvided != 0

	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastHeartbeatAt, err = parseTime(heartbeatAt); err != nil {
		return nil, fmt.Errorf("parse last_heartbeat_at: %w", err)
	}

	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
