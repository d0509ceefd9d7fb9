// Package mergewatch implements the Merge Watcher (spec.md §4.9): a
// polling daemon over MergeSubscriptions that detects when a source
// branch's tip has merged into its target, plus the supplemental
// diverged/conflict-predicting detection original_source/ motivated.
package mergewatch

import (
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

const (
	minInterval     = 5 * time.Second
	defaultInterval = 60 * time.Second
)

// PollResult is the `--once` mode's return shape, exactly as spec.md
// §4.9 names it.
type PollResult struct {
	SubscriptionsChecked int
	NewMerges            []*model.MergeEvent
	NotificationsSent    int
	Errors               []string
}
