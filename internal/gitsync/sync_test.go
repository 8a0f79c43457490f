package gitsync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlevy/tbd/internal/attic"
	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/gitx"
	"github.com/jlevy/tbd/internal/types"
	"github.com/jlevy/tbd/internal/worktree"
)

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// newBareRemote creates an empty bare repository to act as origin.
func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "origin.git")
	cmd := exec.Command("git", "init", "--bare", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init --bare failed: %v\n%s", err, out)
	}
	return dir
}

// newClone clones the bare remote and wires up a full engine over it.
func newClone(t *testing.T, remote string) (*Engine, *worktree.Manager) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	cmd := exec.Command("git", "clone", remote, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git clone failed: %v\n%s", err, out)
	}
	mustGit(t, dir, "config", "user.name", "tester")
	mustGit(t, dir, "config", "user.email", "tester@example.com")

	client, err := gitx.NewClient(dir, 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	cfg := &config.Config{
		SyncBranch: "tbd-sync",
		Prefix:     "tbd",
		Remote:     "origin",
		GitTimeout: config.DefaultGitTimeout,
	}
	mgr := worktree.NewManager(client, cfg.SyncBranch, cfg.Remote)
	mgr.InitDataset = func(dir string) error {
		return dataset.Init(dir, cfg.Prefix)
	}
	if _, err := mgr.Repair(context.Background()); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	return NewEngine(client, mgr, cfg), mgr
}

func testIssue(id string, updated time.Time) *types.Issue {
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return &types.Issue{
		ID:        id,
		DisplayID: "tbd-a1b2",
		Version:   1,
		Kind:      types.KindBug,
		Status:    types.StatusOpen,
		Priority:  2,
		Title:     "login fails on slow networks",
		CreatedAt: created,
		UpdatedAt: updated.UTC().Truncate(time.Second),
		CreatedBy: "alice",
	}
}

func writeIssue(t *testing.T, dataDir string, issue *types.Issue) {
	t.Helper()
	path := filepath.Join(dataset.IssuesDir(dataDir), codec.IssueFileName(issue.ID))
	if err := codec.WriteIssueFile(path, issue); err != nil {
		t.Fatalf("WriteIssueFile failed: %v", err)
	}
}

func readIssue(t *testing.T, dataDir, id string) *types.Issue {
	t.Helper()
	path := filepath.Join(dataset.IssuesDir(dataDir), codec.IssueFileName(id))
	issue, err := codec.ReadIssueFile(path)
	if err != nil {
		t.Fatalf("ReadIssueFile failed: %v", err)
	}
	return issue
}

func mustSync(t *testing.T, e *Engine, opts Options) *Result {
	t.Helper()
	res, err := e.Sync(context.Background(), opts)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	return res
}

func TestSyncBootstrapsAndPushes(t *testing.T) {
	remote := newBareRemote(t)
	engine, mgr := newClone(t, remote)

	res := mustSync(t, engine, Options{})
	if !res.Pushed {
		t.Error("first sync should publish the sync branch")
	}

	path, err := mgr.ResolvePath(context.Background(), worktree.Strict)
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	if _, err := dataset.ReadMetadata(path); err != nil {
		t.Errorf("dataset metadata missing after bootstrap: %v", err)
	}
}

func TestSyncUnhealthyWorktreeRequiresFix(t *testing.T) {
	remote := newBareRemote(t)
	engine, mgr := newClone(t, remote)
	mustSync(t, engine, Options{})

	// Knock the checkout out from under the registry.
	if err := os.RemoveAll(mgr.Path()); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	_, err := engine.Sync(context.Background(), Options{})
	var missing *worktree.MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Sync without Fix = %v, want MissingError", err)
	}

	res := mustSync(t, engine, Options{Fix: true})
	if !res.RepairedWorktree {
		t.Error("Sync with Fix should repair the worktree")
	}
}

func TestSyncRoundTripBetweenClones(t *testing.T) {
	remote := newBareRemote(t)
	engineA, mgrA := newClone(t, remote)
	mustSync(t, engineA, Options{})

	pathA, _ := mgrA.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathA, testIssue("is-aaa", time.Now()))

	res := mustSync(t, engineA, Options{})
	if !res.Committed || !res.Pushed {
		t.Fatalf("sync after edit: committed=%v pushed=%v, want both", res.Committed, res.Pushed)
	}

	engineB, mgrB := newClone(t, remote)
	mustSync(t, engineB, Options{})
	pathB, err := mgrB.ResolvePath(context.Background(), worktree.Strict)
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	got := readIssue(t, pathB, "is-aaa")
	if got.Title != "login fails on slow networks" {
		t.Errorf("title = %q after round trip", got.Title)
	}
}

func TestSyncNothingToCommitIsNoOp(t *testing.T) {
	remote := newBareRemote(t)
	engine, _ := newClone(t, remote)
	mustSync(t, engine, Options{})

	res := mustSync(t, engine, Options{})
	if res.Committed {
		t.Error("second sync with no edits should not commit")
	}
	if res.Pushed {
		t.Error("second sync with no edits should not push")
	}
}

func TestSyncMergesConcurrentEdits(t *testing.T) {
	remote := newBareRemote(t)
	engineA, mgrA := newClone(t, remote)
	mustSync(t, engineA, Options{})

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	pathA, _ := mgrA.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathA, testIssue("is-aaa", base))
	mustSync(t, engineA, Options{})

	engineB, mgrB := newClone(t, remote)
	mustSync(t, engineB, Options{})
	pathB, _ := mgrB.ResolvePath(context.Background(), worktree.Strict)

	// A lowers the priority and publishes first.
	issueA := testIssue("is-aaa", base.Add(1*time.Hour))
	issueA.Priority = 1
	issueA.Version = 2
	writeIssue(t, pathA, issueA)
	mustSync(t, engineA, Options{})

	// B raises it, later, without having pulled A's edit.
	issueB := testIssue("is-aaa", base.Add(2*time.Hour))
	issueB.Priority = 3
	issueB.Version = 2
	writeIssue(t, pathB, issueB)
	res := mustSync(t, engineB, Options{})

	if res.MergeCommits != 1 {
		t.Errorf("merge commits = %d, want 1", res.MergeCommits)
	}
	if !res.Pushed {
		t.Error("merge result should be pushed")
	}
	merged := readIssue(t, pathB, "is-aaa")
	if merged.Priority != 3 {
		t.Errorf("priority = %d, want 3 (later edit wins)", merged.Priority)
	}
	if merged.Version != 3 {
		t.Errorf("version = %d, want 3 (max+1)", merged.Version)
	}

	entries, err := attic.NewStore(pathB).List(attic.Filter{EntityID: "is-aaa"})
	if err != nil {
		t.Fatalf("attic List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("attic entries = %d, want 1", len(entries))
	}
	if entries[0].Field != "priority" || entries[0].LostValue != 1 {
		t.Errorf("attic entry = %s/%v, want priority/1", entries[0].Field, entries[0].LostValue)
	}

	// A pulls the merge; both replicas converge, attic included.
	mustSync(t, engineA, Options{})
	if got := readIssue(t, pathA, "is-aaa"); got.Priority != 3 {
		t.Errorf("priority on A = %d after convergence, want 3", got.Priority)
	}
	entriesA, err := attic.NewStore(pathA).List(attic.Filter{EntityID: "is-aaa"})
	if err != nil {
		t.Fatalf("attic List on A failed: %v", err)
	}
	if len(entriesA) != 1 {
		t.Errorf("attic entries on A = %d, want 1", len(entriesA))
	}
}

func TestSyncMergesIndependentBootstraps(t *testing.T) {
	remote := newBareRemote(t)
	engineA, mgrA := newClone(t, remote)
	engineB, mgrB := newClone(t, remote)

	// Both clones bootstrap before either publishes: the two branch
	// histories share no ancestor.
	mustSync(t, engineA, Options{NoPush: true})
	mustSync(t, engineB, Options{NoPush: true})

	pathA, _ := mgrA.ResolvePath(context.Background(), worktree.Strict)
	pathB, _ := mgrB.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathA, testIssue("is-aaa", time.Now()))
	writeIssue(t, pathB, testIssue("is-bbb", time.Now()))

	mustSync(t, engineA, Options{})
	res := mustSync(t, engineB, Options{})
	if res.MergeCommits != 1 {
		t.Errorf("merge commits = %d, want 1", res.MergeCommits)
	}

	// B now holds both issues.
	readIssue(t, pathB, "is-aaa")
	readIssue(t, pathB, "is-bbb")
}

func TestSyncConcurrentCreatesBothSurvive(t *testing.T) {
	remote := newBareRemote(t)
	engineA, mgrA := newClone(t, remote)
	mustSync(t, engineA, Options{})

	engineB, mgrB := newClone(t, remote)
	mustSync(t, engineB, Options{})

	pathA, _ := mgrA.ResolvePath(context.Background(), worktree.Strict)
	pathB, _ := mgrB.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathA, testIssue("is-aaa", time.Now()))
	writeIssue(t, pathB, testIssue("is-bbb", time.Now()))

	mustSync(t, engineA, Options{})
	res := mustSync(t, engineB, Options{})
	if res.AtticEntries != 0 {
		t.Errorf("attic entries = %d, want 0 (different files lose nothing)", res.AtticEntries)
	}
	mustSync(t, engineA, Options{})

	for _, path := range []string{pathA, pathB} {
		readIssue(t, path, "is-aaa")
		readIssue(t, path, "is-bbb")
	}
}

func TestSyncPullOnlyDoesNotPush(t *testing.T) {
	remote := newBareRemote(t)
	engineA, mgrA := newClone(t, remote)
	mustSync(t, engineA, Options{})
	pathA, _ := mgrA.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathA, testIssue("is-aaa", time.Now()))
	mustSync(t, engineA, Options{})

	engineB, mgrB := newClone(t, remote)
	mustSync(t, engineB, Options{})
	pathB, _ := mgrB.ResolvePath(context.Background(), worktree.Strict)
	writeIssue(t, pathB, testIssue("is-bbb", time.Now()))

	res := mustSync(t, engineB, Options{PullOnly: true})
	if res.Pushed {
		t.Error("pull-only sync must not push")
	}
	if !res.Committed {
		t.Error("pull-only sync still commits local edits")
	}

	// A does not see is-bbb yet.
	mustSync(t, engineA, Options{})
	bPath := filepath.Join(dataset.IssuesDir(pathA), codec.IssueFileName("is-bbb"))
	if _, err := codec.ReadIssueFile(bPath); err == nil {
		t.Error("pull-only sync leaked the local edit to the remote")
	}
}
