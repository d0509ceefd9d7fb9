package model

import "time"

// ClaimMode is one of the three file-claim modes in spec.md §4.2.
type ClaimMode string

const (
	ClaimExclusive ClaimMode = "EXCLUSIVE"
	ClaimShared    ClaimMode = "SHARED"
	ClaimIntent    ClaimMode = "INTENT"
)

// Valid reports whether m is a recognized claim mode.
func (m ClaimMode) Valid() bool {
	switch m {
	case ClaimExclusive, ClaimShared, ClaimIntent:
		return true
	default:
		return false
	}
}

// compatibility is the "may coexist on the same file" matrix from spec.md
// §4.2: compatibility[existing][requested].
var compatibility = map[ClaimMode]map[ClaimMode]bool{
	ClaimExclusive: {ClaimExclusive: false, ClaimShared: false, ClaimIntent: false},
	ClaimShared:    {ClaimExclusive: false, ClaimShared: true, ClaimIntent: true},
	ClaimIntent:    {ClaimExclusive: false, ClaimShared: true, ClaimIntent: true},
}

// Compatible reports whether a claim already held in mode existing may
// coexist with a newly requested claim in mode requested.
func Compatible(existing, requested ClaimMode) bool {
	row, ok := compatibility[existing]
	if !ok {
		return false
	}
	allowed, ok := row[requested]
	return ok && allowed
}

// FileClaim is a session's assertion of intent over a file path (spec.md §3
// "FileClaim").
type FileClaim struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id" validate:"required"`
	RepoPath      string     `json:"repo_path" validate:"required"`
	FilePath      string     `json:"file_path" validate:"required"`
	Mode          ClaimMode  `json:"mode"`
	ClaimedAt     time.Time  `json:"claimed_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Active        bool       `json:"active"`
	EscalatedFrom *ClaimMode `json:"escalated_from,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Metadata      string     `json:"metadata,omitempty"`
}

// Expired reports whether the claim's TTL has elapsed as of now.
func (c *FileClaim) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Live reports whether the claim should be treated as currently held:
// active and not expired (spec.md §3 invariant (c)).
func (c *FileClaim) Live(now time.Time) bool {
	return c.Active && !c.Expired(now)
}

// ClaimConflictEntry describes one conflicting claim, returned as part of
// ClaimConflict errors and Check() results.
type ClaimConflictEntry struct {
	SessionID string    `json:"session"`
	Mode      ClaimMode `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
}
