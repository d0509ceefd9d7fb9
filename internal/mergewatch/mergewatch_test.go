package mergewatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

type fakeGitRunner struct {
	runFunc         func(args ...string) (string, error)
	mergeBaseFunc   func(a, b string) (string, error)
	diffBetweenFunc func(ref1, ref2 string) (string, error)
}

func (f *fakeGitRunner) CurrentBranch() (string, error)                   { return "", nil }
func (f *fakeGitRunner) CreateBranch(name string) error                   { return nil }
func (f *fakeGitRunner) CreateAndCheckoutBranch(name string) error        { return nil }
func (f *fakeGitRunner) CheckoutBranch(name string) error                 { return nil }
func (f *fakeGitRunner) BranchExists(name string) (bool, error)           { return false, nil }
func (f *fakeGitRunner) DeleteBranch(name string) error                   { return nil }

func (f *fakeGitRunner) Status() (string, error)      { return "", nil }
func (f *fakeGitRunner) HasChanges() (bool, error)    { return false, nil }
func (f *fakeGitRunner) Diff(base string) (string, error) { return "", nil }
func (f *fakeGitRunner) DiffBetween(ref1, ref2 string) (string, error) {
	if f.diffBetweenFunc != nil {
		return f.diffBetweenFunc(ref1, ref2)
	}
	return "", nil
}
func (f *fakeGitRunner) ChangedFiles(base string) ([]string, error)                    { return nil, nil }
func (f *fakeGitRunner) ChangedFilesBetween(ref1, ref2 string) ([]string, error)        { return nil, nil }
func (f *fakeGitRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) { return nil, nil }
func (f *fakeGitRunner) ConflictedFiles() ([]string, error)                            { return nil, nil }

func (f *fakeGitRunner) Add(paths ...string) error      { return nil }
func (f *fakeGitRunner) Commit(message string) error    { return nil }
func (f *fakeGitRunner) Reset(ref string) error         { return nil }
func (f *fakeGitRunner) CheckoutPath(path string) error { return nil }

func (f *fakeGitRunner) Merge(branch string) error                      { return nil }
func (f *fakeGitRunner) MergeNoFF(branch string) error                  { return nil }
func (f *fakeGitRunner) MergeNoFFMessage(branch, message string) error  { return nil }
func (f *fakeGitRunner) MergeAbort() error                              { return nil }
func (f *fakeGitRunner) MergeBase(branch1, branch2 string) (string, error) {
	if f.mergeBaseFunc != nil {
		return f.mergeBaseFunc(branch1, branch2)
	}
	return "base-sha", nil
}
func (f *fakeGitRunner) HasConflicts() (bool, error) { return false, nil }
func (f *fakeGitRunner) Rebase(base string) error    { return nil }
func (f *fakeGitRunner) RebaseAbort() error          { return nil }

func (f *fakeGitRunner) WorktreeAdd(path, branch string) error                   { return nil }
func (f *fakeGitRunner) WorktreeAddNewBranch(path, branch string) error          { return nil }
func (f *fakeGitRunner) WorktreeRemove(path string) error                        { return nil }
func (f *fakeGitRunner) WorktreeRemoveOptionalForce(path string, force bool) error { return nil }
func (f *fakeGitRunner) WorktreeUnlock(path string) error                        { return nil }
func (f *fakeGitRunner) WorktreeList() ([]string, error)                        { return nil, nil }
func (f *fakeGitRunner) WorktreeListPorcelain() (string, error)                 { return "", nil }
func (f *fakeGitRunner) WorktreePrune() error                                   { return nil }
func (f *fakeGitRunner) WorktreePruneExpireNow() error                          { return nil }

func (f *fakeGitRunner) PullFFOnly() error { return nil }

func (f *fakeGitRunner) ShowFile(ref, path string) (string, error) { return "", nil }
func (f *fakeGitRunner) CheckoutOurs(path string) error            { return nil }
func (f *fakeGitRunner) CheckoutTheirs(path string) error          { return nil }

func (f *fakeGitRunner) Run(args ...string) (string, error) {
	if f.runFunc != nil {
		return f.runFunc(args...)
	}
	return "", nil
}

type fakeStore struct {
	mu          sync.Mutex
	subs        map[string][]*model.MergeSubscription
	events      []*model.MergeEvent
	deactivated []string
	polled      []string
}

func (s *fakeStore) ActiveMergeSubscriptions(repoPath string) ([]*model.MergeSubscription, error) {
	return s.subs[repoPath], nil
}

func (s *fakeStore) UpdateMergePoll(id, polledAtStr, seenSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = append(s.polled, id)
	return nil
}

func (s *fakeStore) DeactivateMergeSubscription(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, id)
	return nil
}

func (s *fakeStore) InsertMergeEvent(e *model.MergeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

const overlappingDiffA = `diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -10,3 +10,3 @@
 context
-old source
+new source
`

const overlappingDiffB = `diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -10,3 +10,3 @@
 context
-old target
+new target
`

func TestPollOnceRecordsMergedEventAndDeactivatesSubscription(t *testing.T) {
	st := &fakeStore{subs: map[string][]*model.MergeSubscription{
		"/repo": {{ID: "sub-1", RepoPath: "/repo", SourceBranch: "feature", TargetBranch: "main", Active: true}},
	}}
	runnerFor := func(repoPath string) *fakeGitRunner {
		return &fakeGitRunner{
			runFunc: func(args ...string) (string, error) {
				if args[0] == "rev-parse" {
					return "abc123\n", nil
				}
				return "", nil // merge-base --is-ancestor succeeds
			},
		}
	}
	w := New(st, func(repoPath string) git.Runner { return runnerFor(repoPath) }, Config{RepoPaths: []string{"/repo"}})

	result := w.PollOnce(context.Background())
	if result.SubscriptionsChecked != 1 {
		t.Fatalf("expected 1 subscription checked, got %d", result.SubscriptionsChecked)
	}
	if len(result.NewMerges) != 1 {
		t.Fatalf("expected 1 new merge, got %d", len(result.NewMerges))
	}
	if len(st.deactivated) != 1 || st.deactivated[0] != "sub-1" {
		t.Errorf("expected subscription sub-1 deactivated, got %v", st.deactivated)
	}
	if len(st.events) != 1 || st.events[0].Kind != model.MergeEventMerged {
		t.Errorf("expected a recorded MERGED event, got %+v", st.events)
	}
}

func TestPollOnceRecordsConflictFoundOnOverlappingHunks(t *testing.T) {
	st := &fakeStore{subs: map[string][]*model.MergeSubscription{
		"/repo": {{ID: "sub-2", RepoPath: "/repo", SourceBranch: "feature", TargetBranch: "main", Active: true, LastSeenSHA: "old-sha"}},
	}}
	runnerFor := func(repoPath string) *fakeGitRunner {
		return &fakeGitRunner{
			runFunc: func(args ...string) (string, error) {
				if args[0] == "rev-parse" {
					return "newsha\n", nil
				}
				// merge-base --is-ancestor fails: not yet merged
				return "", fmt.Errorf("not an ancestor")
			},
			mergeBaseFunc: func(a, b string) (string, error) { return "base-sha", nil },
			diffBetweenFunc: func(ref1, ref2 string) (string, error) {
				if ref2 == "newsha" {
					return overlappingDiffA, nil
				}
				return overlappingDiffB, nil
			},
		}
	}
	w := New(st, func(repoPath string) git.Runner { return runnerFor(repoPath) }, Config{RepoPaths: []string{"/repo"}})

	result := w.PollOnce(context.Background())
	if len(result.NewMerges) != 0 {
		t.Errorf("expected no merges, got %d", len(result.NewMerges))
	}
	if len(st.events) != 1 || st.events[0].Kind != model.MergeEventConflictFound {
		t.Fatalf("expected a recorded CONFLICT_FOUND event, got %+v", st.events)
	}
	if len(st.polled) != 1 {
		t.Errorf("expected poll state updated once, got %d", len(st.polled))
	}
}

func TestPollOnceSkipsUnchangedSourceTip(t *testing.T) {
	st := &fakeStore{subs: map[string][]*model.MergeSubscription{
		"/repo": {{ID: "sub-3", RepoPath: "/repo", SourceBranch: "feature", TargetBranch: "main", Active: true, LastSeenSHA: "samesha"}},
	}}
	runnerFor := func(repoPath string) *fakeGitRunner {
		return &fakeGitRunner{
			runFunc: func(args ...string) (string, error) {
				if args[0] == "rev-parse" {
					return "samesha", nil
				}
				return "", fmt.Errorf("not an ancestor")
			},
		}
	}
	w := New(st, func(repoPath string) git.Runner { return runnerFor(repoPath) }, Config{RepoPaths: []string{"/repo"}})

	result := w.PollOnce(context.Background())
	if len(result.NewMerges) != 0 || len(st.events) != 0 {
		t.Errorf("expected no new events for an unchanged tip, got merges=%d events=%d", len(result.NewMerges), len(st.events))
	}
	if len(st.polled) != 1 {
		t.Errorf("expected poll timestamp still recorded, got %d", len(st.polled))
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(ctx context.Context, event *model.MergeEvent, sub *model.MergeSubscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func TestPollOnceCountsNotifications(t *testing.T) {
	st := &fakeStore{subs: map[string][]*model.MergeSubscription{
		"/repo": {{ID: "sub-4", RepoPath: "/repo", SourceBranch: "feature", TargetBranch: "main", Active: true}},
	}}
	runnerFor := func(repoPath string) *fakeGitRunner {
		return &fakeGitRunner{
			runFunc: func(args ...string) (string, error) {
				if args[0] == "rev-parse" {
					return "abc123", nil
				}
				return "", nil
			},
		}
	}
	notifier := &countingNotifier{}
	w := New(st, func(repoPath string) git.Runner { return runnerFor(repoPath) }, Config{RepoPaths: []string{"/repo"}, Notifier: notifier})

	result := w.PollOnce(context.Background())
	if result.NotificationsSent != 1 {
		t.Errorf("expected 1 notification sent, got %d", result.NotificationsSent)
	}
	if notifier.count != 1 {
		t.Errorf("expected notifier invoked once, got %d", notifier.count)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := &fakeStore{subs: map[string][]*model.MergeSubscription{}}
	w := New(st, func(repoPath string) git.Runner { return &fakeGitRunner{} }, Config{RepoPaths: nil, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
