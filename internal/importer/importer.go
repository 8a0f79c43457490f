// Package importer reads a beads JSONL export and lands its issues in
// the dataset. Numeric or alphanumeric short suffixes from the foreign
// IDs are preserved as display short codes, so "tbd-100" imported into
// a project with prefix "tbd" remains addressable as "tbd-100".
// Imported issues flow through the same upsert/merge path as native
// writes: re-importing a newer export updates, never duplicates.
package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/types"
)

// ExtensionNamespace is where beads-only fields are preserved.
const ExtensionNamespace = "beads"

// beadsIssue is one line of a beads JSONL export. Fields the model
// does not carry natively are kept under the beads extension
// namespace; unknown fields are ignored.
type beadsIssue struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Design             string     `json:"design"`
	AcceptanceCriteria string     `json:"acceptance_criteria"`
	Notes              string     `json:"notes"`
	Status             string     `json:"status"`
	Priority           int        `json:"priority"`
	IssueType          string     `json:"issue_type"`
	Assignee           string     `json:"assignee"`
	Labels             []string   `json:"labels"`
	Dependencies       []beadsDep `json:"dependencies"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at"`
	CloseReason        string     `json:"close_reason"`
	ExternalRef        *string    `json:"external_ref"`
}

type beadsDep struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
}

// Result counts what an import run did.
type Result struct {
	Created int
	Merged  int
	Skipped int
	Linked  int
}

// Importer lands beads exports into one store.
type Importer struct {
	store *store.Store
}

func New(s *store.Store) *Importer {
	return &Importer{store: s}
}

// Run imports every record from r. The run is two-pass: issues first,
// then dependency edges, so forward references within the export
// resolve regardless of line order.
func (imp *Importer) Run(r io.Reader) (*Result, error) {
	res := &Result{}
	var records []beadsIssue

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec beadsIssue
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("import line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import stream: %w", err)
	}

	for _, rec := range records {
		if err := imp.importIssue(rec, res); err != nil {
			return nil, fmt.Errorf("import %s: %w", rec.ID, err)
		}
	}
	for _, rec := range records {
		if err := imp.linkDependencies(rec, res); err != nil {
			return nil, fmt.Errorf("import dependencies of %s: %w", rec.ID, err)
		}
	}
	return res, nil
}

func (imp *Importer) importIssue(rec beadsIssue, res *Result) error {
	status, ok := mapStatus(rec.Status)
	if !ok {
		debug.Logf("import: skipping %s (status %q)", rec.ID, rec.Status)
		res.Skipped++
		return nil
	}

	issue := &types.Issue{
		Version:     1,
		Kind:        mapKind(rec.IssueType),
		Status:      status,
		Priority:    clampPriority(rec.Priority),
		Title:       rec.Title,
		Description: rec.Description,
		Notes:       rec.Notes,
		Assignee:    rec.Assignee,
		Labels:      rec.Labels,
		CreatedAt:   rec.CreatedAt.UTC().Truncate(time.Second),
		UpdatedAt:   rec.UpdatedAt.UTC().Truncate(time.Second),
		CloseReason: rec.CloseReason,
	}
	if rec.ClosedAt != nil {
		t := rec.ClosedAt.UTC().Truncate(time.Second)
		issue.ClosedAt = &t
	}
	if status.IsTerminal() && issue.ClosedAt == nil {
		t := issue.UpdatedAt
		issue.ClosedAt = &t
	}
	if !status.IsTerminal() {
		issue.ClosedAt = nil
		issue.CloseReason = ""
	}

	ext := make(map[string]any)
	if rec.Design != "" {
		ext["design"] = rec.Design
	}
	if rec.AcceptanceCriteria != "" {
		ext["acceptance_criteria"] = rec.AcceptanceCriteria
	}
	if rec.ExternalRef != nil && *rec.ExternalRef != "" {
		ext["external_ref"] = *rec.ExternalRef
	}
	if rec.IssueType != "" && mapKind(rec.IssueType) == types.KindTask && rec.IssueType != string(types.KindTask) {
		ext["issue_type"] = rec.IssueType
	}
	if len(ext) > 0 {
		issue.Extensions = map[string]map[string]any{ExtensionNamespace: ext}
	}

	_, merged, err := imp.store.UpsertImported(issue, foreignShort(rec.ID))
	if err != nil {
		return err
	}
	if merged {
		res.Merged++
	} else {
		res.Created++
	}
	return nil
}

// linkDependencies wires blocks edges once every issue exists. Edges
// whose endpoints were skipped (or reference issues outside the
// export) are dropped with a note rather than failing the run.
func (imp *Importer) linkDependencies(rec beadsIssue, res *Result) error {
	if len(rec.Dependencies) == 0 {
		return nil
	}
	fromRef := foreignShort(rec.ID)
	for _, dep := range rec.Dependencies {
		if dep.Type != "" && dep.Type != types.DepBlocks {
			debug.Logf("import: dropping %s dependency of %s (type %q)", dep.DependsOnID, rec.ID, dep.Type)
			continue
		}
		targetID, err := imp.store.Resolve(foreignShort(dep.DependsOnID))
		if err != nil {
			debug.Logf("import: dependency target %s of %s not found", dep.DependsOnID, rec.ID)
			continue
		}
		_, err = imp.store.UpdateIssue(fromRef, store.UpdateRequest{
			AddDeps: []types.Dependency{{Type: types.DepBlocks, TargetID: targetID}},
		})
		if err != nil {
			return err
		}
		res.Linked++
	}
	return nil
}

// foreignShort extracts the short suffix of a foreign display ID:
// "tbd-100" -> "100", "bd-a1b2" -> "a1b2". IDs without a prefix are
// used as-is.
func foreignShort(id string) string {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func mapStatus(s string) (types.Status, bool) {
	switch s {
	case "", "open":
		return types.StatusOpen, true
	case "in_progress":
		return types.StatusInProgress, true
	case "blocked":
		return types.StatusBlocked, true
	case "closed":
		return types.StatusClosed, true
	}
	return "", false
}

func mapKind(t string) types.Kind {
	switch types.Kind(t) {
	case types.KindBug, types.KindFeature, types.KindTask, types.KindEpic, types.KindChore:
		return types.Kind(t)
	}
	return types.KindTask
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > types.MaxPriority {
		return types.MaxPriority
	}
	return p
}
