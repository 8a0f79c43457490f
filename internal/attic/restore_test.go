package attic

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/types"
)

func restoreFixture(t *testing.T) (*Store, *types.Issue, string) {
	t.Helper()
	dir := t.TempDir()
	if err := dataset.Init(dir, "tbd"); err != nil {
		t.Fatalf("dataset.Init failed: %v", err)
	}
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	issue := &types.Issue{
		ID:        "is-aaa",
		DisplayID: "tbd-a1b2",
		Version:   4,
		Kind:      types.KindBug,
		Status:    types.StatusOpen,
		Priority:  3,
		Title:     "current title",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
	path := filepath.Join(dataset.IssuesDir(dir), codec.IssueFileName(issue.ID))
	if err := codec.WriteIssueFile(path, issue); err != nil {
		t.Fatalf("WriteIssueFile failed: %v", err)
	}
	return NewStore(dir), issue, path
}

func TestRestoreAppliesArchivedValue(t *testing.T) {
	store, issue, path := restoreFixture(t)

	archivedAt := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	if err := store.Record(&Entry{
		EntityID:     issue.ID,
		Timestamp:    archivedAt,
		Field:        "title",
		LostValue:    "original title",
		WinnerSource: SideRemote,
		LoserSource:  SideLocal,
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	restored, err := store.Restore(issue.ID, archivedAt, now)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Title != "original title" {
		t.Errorf("title = %q, want archived value", restored.Title)
	}
	if restored.Version != 5 {
		t.Errorf("version = %d, want 5", restored.Version)
	}
	if !restored.UpdatedAt.Equal(now) {
		t.Errorf("updatedAt = %v, want restore time", restored.UpdatedAt)
	}

	// The restore is persisted.
	onDisk, err := codec.ReadIssueFile(path)
	if err != nil {
		t.Fatalf("ReadIssueFile failed: %v", err)
	}
	if onDisk.Title != "original title" {
		t.Errorf("persisted title = %q", onDisk.Title)
	}

	// The overwritten value was archived in turn: restore is undoable.
	entries, err := store.List(Filter{EntityID: issue.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (original + undo)", len(entries))
	}
	undo := entries[1]
	if undo.Field != "title" || undo.LostValue != "current title" {
		t.Errorf("undo entry = %s/%v", undo.Field, undo.LostValue)
	}
}

func TestRestorePriorityValue(t *testing.T) {
	store, issue, _ := restoreFixture(t)

	archivedAt := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	if err := store.Record(&Entry{
		EntityID:  issue.ID,
		Timestamp: archivedAt,
		Field:     "priority",
		LostValue: 0,
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	restored, err := store.Restore(issue.ID, archivedAt, time.Now())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Priority != 0 {
		t.Errorf("priority = %d, want 0", restored.Priority)
	}
}

func TestRestoreClosedStatusUsesRestoreTime(t *testing.T) {
	store, issue, _ := restoreFixture(t)

	archivedAt := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	if err := store.Record(&Entry{
		EntityID:  issue.ID,
		Timestamp: archivedAt,
		Field:     "status",
		LostValue: string(types.StatusClosed),
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	restored, err := store.Restore(issue.ID, archivedAt, now)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed", restored.Status)
	}
	if restored.ClosedAt == nil || !restored.ClosedAt.Equal(now) {
		t.Errorf("closedAt = %v, want the restore time %v", restored.ClosedAt, now)
	}
}

func TestRestoreNamespaceKeepsUntouchedKeys(t *testing.T) {
	store, issue, path := restoreFixture(t)

	// Current namespace has one key a past merge displaced and one it
	// never touched.
	issue.Extensions = map[string]map[string]any{
		"triage": {"score": 5, "reviewer": "bob"},
	}
	if err := codec.WriteIssueFile(path, issue); err != nil {
		t.Fatalf("WriteIssueFile failed: %v", err)
	}

	archivedAt := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	if err := store.Record(&Entry{
		EntityID:  issue.ID,
		Timestamp: archivedAt,
		Field:     "extensions.triage",
		LostValue: map[string]any{"score": 9},
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	restored, err := store.Restore(issue.ID, archivedAt, time.Now())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	ns := restored.Extensions["triage"]
	if ns["score"] != 9 {
		t.Errorf("score = %v, want restored 9", ns["score"])
	}
	if ns["reviewer"] != "bob" {
		t.Errorf("reviewer = %v, want untouched \"bob\"", ns["reviewer"])
	}
}

func TestRestoreUnknownEntryFails(t *testing.T) {
	store, issue, _ := restoreFixture(t)
	if _, err := store.Restore(issue.ID, time.Now(), time.Now()); err == nil {
		t.Error("restore of nonexistent entry succeeded")
	}
}
