package store

import (
	"strings"
	"testing"

	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	if err := dataset.Init(dir, "tbd"); err != nil {
		t.Fatalf("dataset.Init failed: %v", err)
	}
	cfg := &config.Config{
		SyncBranch: config.DefaultSyncBranch,
		Prefix:     "tbd",
		Remote:     config.DefaultRemote,
		GitTimeout: config.DefaultGitTimeout,
	}
	s, err := OpenAt(dir, cfg)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, req CreateRequest) *types.Issue {
	t.Helper()
	issue, err := s.CreateIssue(req)
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	return issue
}

func TestCreateIssueAssignsBothIDs(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Kind: types.KindBug, Title: "first", CreatedBy: "alice"})

	if !strings.HasPrefix(issue.ID, "is-") {
		t.Errorf("internal ID = %q, want is- prefix", issue.ID)
	}
	if !strings.HasPrefix(issue.DisplayID, "tbd-") || len(issue.DisplayID) != len("tbd-")+4 {
		t.Errorf("display ID = %q, want tbd-XXXX", issue.DisplayID)
	}
	if issue.Version != 1 || issue.Status != types.StatusOpen || issue.Priority != DefaultPriority {
		t.Errorf("defaults = v%d %s p%d", issue.Version, issue.Status, issue.Priority)
	}
}

func TestResolveAcceptsAllReferenceForms(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "ref forms"})
	short := strings.TrimPrefix(issue.DisplayID, "tbd-")

	for _, ref := range []string{issue.DisplayID, short} {
		got, err := s.GetIssue(ref)
		if err != nil {
			t.Fatalf("GetIssue(%q) failed: %v", ref, err)
		}
		if got.ID != issue.ID {
			t.Errorf("GetIssue(%q) = %s, want %s", ref, got.ID, issue.ID)
		}
	}

	// Partial codes never resolve.
	if _, err := s.GetIssue(short[:2]); err == nil {
		t.Error("partial short code resolved, want exact-match-only")
	}
}

func TestUpdateIssueBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "before"})

	title := "after"
	p := 0
	updated, err := s.UpdateIssue(issue.DisplayID, UpdateRequest{Title: &title, Priority: &p})
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if updated.Title != "after" || updated.Priority != 0 {
		t.Errorf("update not applied: %q p%d", updated.Title, updated.Priority)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if !updated.UpdatedAt.After(issue.CreatedAt) && !updated.UpdatedAt.Equal(issue.CreatedAt) {
		t.Errorf("updatedAt went backwards: %v < %v", updated.UpdatedAt, issue.CreatedAt)
	}
}

func TestUpdateLabelsAsSetOps(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "labels", Labels: []string{"b", "a", "b"}})
	if len(issue.Labels) != 2 || issue.Labels[0] != "a" {
		t.Fatalf("labels = %v, want deduped sorted [a b]", issue.Labels)
	}

	updated, err := s.UpdateIssue(issue.DisplayID, UpdateRequest{
		AddLabels:    []string{"c"},
		RemoveLabels: []string{"a"},
	})
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if len(updated.Labels) != 2 || updated.Labels[0] != "b" || updated.Labels[1] != "c" {
		t.Errorf("labels = %v, want [b c]", updated.Labels)
	}
}

func TestDependencyEditsValidateTarget(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, CreateRequest{Title: "a"})
	b := mustCreate(t, s, CreateRequest{Title: "b"})

	updated, err := s.UpdateIssue(a.DisplayID, UpdateRequest{
		AddDeps: []types.Dependency{{TargetID: b.ID}},
	})
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if len(updated.Dependencies) != 1 || updated.Dependencies[0].Type != types.DepBlocks {
		t.Errorf("dependencies = %v", updated.Dependencies)
	}

	_, err = s.UpdateIssue(a.DisplayID, UpdateRequest{
		AddDeps: []types.Dependency{{TargetID: "is-nonexistent"}},
	})
	if err == nil {
		t.Error("dependency on missing issue accepted")
	}
}

func TestCloseAndReopen(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "lifecycle"})

	closed, err := s.CloseIssue(issue.DisplayID, "fixed")
	if err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}
	if closed.Status != types.StatusClosed || closed.ClosedAt == nil || closed.CloseReason != "fixed" {
		t.Errorf("close state = %s/%v/%q", closed.Status, closed.ClosedAt, closed.CloseReason)
	}

	if _, err := s.CloseIssue(issue.DisplayID, "again"); err == nil {
		t.Error("double close accepted")
	}

	reopened, err := s.ReopenIssue(issue.DisplayID)
	if err != nil {
		t.Fatalf("ReopenIssue failed: %v", err)
	}
	if reopened.Status != types.StatusOpen || reopened.ClosedAt != nil || reopened.CloseReason != "" {
		t.Errorf("reopen state = %s/%v/%q", reopened.Status, reopened.ClosedAt, reopened.CloseReason)
	}
	if reopened.Version != 3 {
		t.Errorf("version = %d, want 3 after close+reopen", reopened.Version)
	}

	if _, err := s.ReopenIssue(issue.DisplayID); err == nil {
		t.Error("reopen of open issue accepted")
	}
}

func TestSetStatusRejectsTerminal(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "status"})

	moved, err := s.SetStatus(issue.DisplayID, types.StatusInProgress)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if moved.Status != types.StatusInProgress {
		t.Errorf("status = %s", moved.Status)
	}

	if _, err := s.SetStatus(issue.DisplayID, types.StatusClosed); err == nil {
		t.Error("SetStatus(closed) accepted, want close-only path")
	}
}

func TestListIssuesFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	first := mustCreate(t, s, CreateRequest{Title: "one", Kind: types.KindBug, Labels: []string{"x"}})
	second := mustCreate(t, s, CreateRequest{Title: "two", Kind: types.KindTask, Assignee: "bob"})

	all, err := s.ListIssues(ListFilter{})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Errorf("order = %v, want creation order", ids(all))
	}

	bugs, err := s.ListIssues(ListFilter{Kind: types.KindBug})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(bugs) != 1 || bugs[0].ID != first.ID {
		t.Errorf("kind filter = %v", ids(bugs))
	}

	labeled, err := s.ListIssues(ListFilter{Label: "x"})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(labeled) != 1 || labeled[0].ID != first.ID {
		t.Errorf("label filter = %v", ids(labeled))
	}
}

func TestReopenedStoreSeesPersistedState(t *testing.T) {
	s := newTestStore(t)
	issue := mustCreate(t, s, CreateRequest{Title: "durable"})

	again, err := OpenAt(s.DataDir(), s.cfg)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	got, err := again.GetIssue(issue.DisplayID)
	if err != nil {
		t.Fatalf("GetIssue after reopen failed: %v", err)
	}
	if got.Title != "durable" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestOpenRejectsUninitializedDir(t *testing.T) {
	cfg := &config.Config{Prefix: "tbd"}
	if _, err := OpenAt(t.TempDir(), cfg); err == nil {
		t.Error("OpenAt on empty dir succeeded, want init hint")
	}
}

func ids(issues []*types.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.ID
	}
	return out
}
