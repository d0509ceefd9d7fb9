package store

import (
	"database/sql"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// InsertMergeSubscription persists a new merge subscription.
func (db *DB) InsertMergeSubscription(m *model.MergeSubscription) error {
	_, err := db.Exec(`
		INSERT INTO merge_subscriptions (
			id, session_id, repo_path, source_branch, target_branch, created_at,
			active, last_polled_at, last_seen_sha
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.SessionID, m.RepoPath, m.SourceBranch, m.TargetBranch,
		formatTime(m.CreatedAt), boolToInt(m.Active), nullableTimeStringZero(m.LastPolledAt), m.LastSeenSHA,

	)
	if err != nil {
		return &StoreError{Op: "insert merge subscription", Err: err}
	}
	return nil
}

// ActiveMergeSubscriptions returns subscriptions still awaiting a merge,
// for a given repo.
func (db *DB) ActiveMergeSubscriptions(repoPath string) ([]*model.MergeSubscription, error) {
	rows, err := db.Query(`
		SELECT id, session_id, repo_path, source_branch, target_branch, created_at,
			active, last_polled_at, last_seen_sha
		FROM merge_subscriptions WHERE repo_path = ? AND active = 1`, repoPath)
	if err != nil {
		return nil, &StoreError{Op: "query merge subscriptions", Err: err}
	}
	defer rows.Close()

	var out []*model.MergeSubscription
	for rows.Next() {
		m, err := scanMergeSubscription(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan merge subscription", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMergePoll records the result of one poll pass for a subscription.
func (db *DB) UpdateMergePoll(id, polledAtStr, seenSHA string) error {
	_, err := db.Exec(`UPDATE merge_subscriptions SET last_polled_at = ?, last_seen_sha = ? WHERE id = ?`,
		polledAtStr, seenSHA, id)
	if err != nil {
		return &StoreError{Op: "update merge poll", Err: err}
	}
	return nil
}

// DeactivateMergeSubscription marks a subscription no longer active, once
// its merge has been observed and reported.
func (db *DB) DeactivateMergeSubscription(id string) error {
	_, err := db.Exec(`UPDATE merge_subscriptions SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "deactivate merge subscription", Err: err}
	}
	return nil
}

func scanMergeSubscription(rows *sql.Rows) (*model.MergeSubscription, error) {
	var m model.MergeSubscription
	var createdAt string
	var active int
	var lastPolledAt, lastSeenSHA sql.NullString

	err := rows.Scan(&m.ID, &m.SessionID, &m.RepoPath, &m.SourceBranch, &m.TargetBranch,
		&createdAt, &active, &lastPolledAt, &lastSeenSHA)
	if err != nil {
		return nil, err
	}

	m.Active = active != 0
	m.LastSeenSHA = lastSeenSHA.String
	if lastPolledAt.Valid {
		if t, err := parseTime(lastPolledAt.String); err == nil {
			m.LastPolledAt = t
		}
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMergeEvent persists an observed merge-watch outcome.
func (db *DB) InsertMergeEvent(e *model.MergeEvent) error {
	_, err := db.Exec(`
		INSERT INTO merge_events (
			id, subscription_id, kind, sha, detected_at, conflict_id, summary
		) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.SubscriptionID, string(e.Kind), e.SHA, formatTime(e.DetectedAt), e.ConflictID, e.Summary,
	)
	if err != nil {
		return &StoreError{Op: "insert merge event", Err: err}
	}
	return nil
}

// EventsForSubscription returns merge events recorded for a subscription.
func (db *DB) EventsForSubscription(subscriptionID string) ([]*model.MergeEvent, error) {
	rows, err := db.Query(`
		SELECT id, subscription_id, kind, sha, detected_at, conflict_id, summary
		FROM merge_events WHERE subscription_id = ? ORDER BY detected_at ASC`, subscriptionID)
	if err != nil {
		return nil, &StoreError{Op: "query merge events", Err: err}
	}
	defer rows.Close()

	var out []*model.MergeEvent
	for rows.Next() {
		var e model.MergeEvent
		var detectedAt string
		var sha, conflictID, summary sql.NullString
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.Kind, &sha, &detectedAt, &conflictID, &summary); err != nil {
			return nil, &StoreError{Op: "scan merge event", Err: err}
		}
		e.SHA = sha.String
		e.ConflictID = conflictID.String
		e.Summary = summary.String
		t, err := parseTime(detectedAt)
		if err != nil {
			return nil, &StoreError{Op: "parse merge event detected_at", Err: err}
		}
		e.DetectedAt = t
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullableTimeStringZero(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
