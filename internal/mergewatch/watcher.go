package mergewatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// Store is the subset of *store.DB the watcher needs, narrowed for
// testability.
type Store interface {
	ActiveMergeSubscriptions(repoPath string) ([]*model.MergeSubscription, error)
	UpdateMergePoll(id, polledAtStr, seenSHA string) error
	DeactivateMergeSubscription(id string) error
	InsertMergeEvent(e *model.MergeEvent) error
}

// RunnerFactory builds a git.Runner bound to a repository path. In
// production this is git.NewRunner; tests supply a factory returning a
// fake.
type RunnerFactory func(repoPath string) git.Runner

// Notifier is invoked once per newly recorded MergeEvent. Optional: a
// nil Notifier on Watcher means events are recorded but nothing external
// is notified (NotificationsSent stays 0).
type Notifier interface {
	Notify(ctx context.Context, event *model.MergeEvent, sub *model.MergeSubscription) error
}

// Watcher periodically checks every active MergeSubscription across a
// fixed set of repositories for a merge, a newly overlapping divergence,
// or a benign divergence, recording a MergeEvent for each observation.
type Watcher struct {
	store     Store
	runnerFor RunnerFactory
	repoPaths []string
	interval  time.Duration
	notifier  Notifier
	logger    *slog.Logger
}

// Config configures a Watcher.
type Config struct {
	RepoPaths []string
	Interval  time.Duration
	Notifier  Notifier
	Logger    *slog.Logger
}

// New constructs a Watcher. Interval is clamped to a 5s floor and
// defaults to 60s, matching spec.md §4.9.
func New(store Store, runnerFor RunnerFactory, cfg Config) *Watcher {
	interval := cfg.Interval
	if interval < minInterval {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:     store,
		runnerFor: runnerFor,
		repoPaths: cfg.RepoPaths,
		interval:  interval,
		notifier:  cfg.Notifier,
		logger:    logger,
	}
}

// Run polls on Watcher's interval until ctx is cancelled, which is how
// SIGINT/SIGTERM shutdown is expected to be wired (the caller cancels
// ctx from a signal handler; Run then returns cleanly after finishing
// its current tick).
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mergewatch: shutting down")
			return
		case <-ticker.C:
			result := w.PollOnce(ctx)
			if len(result.Errors) > 0 {
				w.logger.Warn("mergewatch: poll completed with errors", "errors", strings.Join(result.Errors, "; "))
			}
		}
	}
}

// PollOnce runs exactly one pass over every active subscription across
// every configured repository; this is the `--once` mode's entry point.
func (w *Watcher) PollOnce(ctx context.Context) *PollResult {
	result := &PollResult{}

	for _, repoPath := range w.repoPaths {
		subs, err := w.store.ActiveMergeSubscriptions(repoPath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: list subscriptions: %v", repoPath, err))
			continue
		}

		runner := w.runnerFor(repoPath)
		for _, sub := range subs {
			result.SubscriptionsChecked++

			event, err := w.checkSubscription(ctx, runner, sub)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sub.ID, err))
				continue
			}
			if event == nil {
				continue
			}
			if event.Kind == model.MergeEventMerged {
				result.NewMerges = append(result.NewMerges, event)
			}
			if w.notifier != nil {
				if err := w.notifier.Notify(ctx, event, sub); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: notify: %v", sub.ID, err))
				} else {
					result.NotificationsSent++
				}
			}
		}
	}

	return result
}

// checkSubscription inspects one subscription's source/target branches
// and returns a MergeEvent describing anything new, or nil if nothing
// changed since the last poll.
func (w *Watcher) checkSubscription(ctx context.Context, runner git.Runner, sub *model.MergeSubscription) (*model.MergeEvent, error) {
	sourceTip, err := runner.Run("rev-parse", sub.SourceBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve source branch tip: %w", err)
	}
	sourceTip = strings.TrimSpace(sourceTip)

	now := time.Now().UTC()

	if _, mergeErr := runner.Run("merge-base", "--is-ancestor", sourceTip, sub.TargetBranch); mergeErr == nil {
		event := &model.MergeEvent{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			Kind:           model.MergeEventMerged,
			SHA:            sourceTip,
			DetectedAt:     now,
			Summary:        fmt.Sprintf("%s merged into %s", sub.SourceBranch, sub.TargetBranch),
		}
		if err := w.store.InsertMergeEvent(event); err != nil {
			return nil, fmt.Errorf("record merge event: %w", err)
		}
		if err := w.store.DeactivateMergeSubscription(sub.ID); err != nil {
			return nil, fmt.Errorf("deactivate subscription: %w", err)
		}
		_ = w.store.UpdateMergePoll(sub.ID, now.Format(time.RFC3339Nano), sourceTip)
		return event, nil
	}

	if sourceTip == sub.LastSeenSHA {
		_ = w.store.UpdateMergePoll(sub.ID, now.Format(time.RFC3339Nano), sourceTip)
		return nil, nil
	}

	mergeBase, err := runner.MergeBase(sub.SourceBranch, sub.TargetBranch)
	if err != nil {
		_ = w.store.UpdateMergePoll(sub.ID, now.Format(time.RFC3339Nano), sourceTip)
		return nil, fmt.Errorf("compute merge base: %w", err)
	}

	sourceDiff, err := runner.DiffBetween(mergeBase, sourceTip)
	if err != nil {
		return nil, fmt.Errorf("diff source side: %w", err)
	}
	targetDiff, err := runner.DiffBetween(mergeBase, sub.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("diff target side: %w", err)
	}

	conflict, summary, err := classifyDivergence(sourceDiff, targetDiff)
	if err != nil {
		return nil, fmt.Errorf("classify divergence: %w", err)
	}

	kind := model.MergeEventDiverged
	if conflict {
		kind = model.MergeEventConflictFound
	}

	event := &model.MergeEvent{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Kind:           kind,
		SHA:            sourceTip,
		DetectedAt:     now,
		Summary:        summary,
	}
	if err := w.store.InsertMergeEvent(event); err != nil {
		return nil, fmt.Errorf("record divergence event: %w", err)
	}
	if err := w.store.UpdateMergePoll(sub.ID, now.Format(time.RFC3339Nano), sourceTip); err != nil {
		return nil, fmt.Errorf("update poll state: %w", err)
	}

	return event, nil
}
