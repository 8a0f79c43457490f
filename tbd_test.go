package tbd_test

import (
	"testing"

	"github.com/jlevy/tbd"
	"github.com/jlevy/tbd/internal/dataset"
)

func TestOpenDataset(t *testing.T) {
	dir := t.TempDir()
	if err := dataset.Init(dir, "tbd"); err != nil {
		t.Fatalf("dataset.Init failed: %v", err)
	}

	s, err := tbd.OpenDataset(dir, &tbd.Config{Prefix: "tbd"})
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}

	issue, err := s.CreateIssue(tbd.CreateRequest{Title: "embedded caller"})
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if issue.Status != tbd.StatusOpen || issue.Kind != tbd.KindTask {
		t.Errorf("defaults = %s/%s, want open/task", issue.Status, issue.Kind)
	}

	got, err := s.GetIssue(issue.DisplayID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.ID != issue.ID {
		t.Errorf("round trip returned %s, want %s", got.ID, issue.ID)
	}
}

func TestOpenDatasetRejectsUninitialized(t *testing.T) {
	if _, err := tbd.OpenDataset(t.TempDir(), &tbd.Config{Prefix: "tbd"}); err == nil {
		t.Error("expected error for uninitialized directory")
	}
}
