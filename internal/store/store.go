// Package store is the facade the CLI talks to: issue CRUD over the
// resolved sync worktree, ID allocation, and dataset bootstrap. It
// reads and writes dataset files only; moving them between machines is
// the sync engine's job.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/idgen"
	"github.com/jlevy/tbd/internal/types"
	"github.com/jlevy/tbd/internal/worktree"
)

// DefaultPriority is assigned when a create request does not set one.
// 0 is most urgent, types.MaxPriority least.
const DefaultPriority = 2

// Store performs issue operations against one dataset.
type Store struct {
	cfg     *config.Config
	dataDir string
	mapping *idgen.Mapping

	now func() time.Time
}

// Open resolves the dataset through the worktree manager (Strict: an
// unusable worktree fails loudly with the repair hint) and loads the
// ID mapping. Stale temp files from crashed writers are swept here, on
// the read path, so no separate janitor is needed.
func Open(ctx context.Context, wt *worktree.Manager, cfg *config.Config) (*Store, error) {
	path, err := wt.ResolvePath(ctx, worktree.Strict)
	if err != nil {
		return nil, err
	}
	return openAt(path, cfg)
}

// OpenAt opens a dataset at an explicit directory. Used by tests and
// by the importer when it targets a freshly resolved path.
func OpenAt(dataDir string, cfg *config.Config) (*Store, error) {
	return openAt(dataDir, cfg)
}

func openAt(dataDir string, cfg *config.Config) (*Store, error) {
	if _, err := dataset.ReadMetadata(dataDir); err != nil {
		return nil, fmt.Errorf("dataset not initialized (run 'tbd init'): %w", err)
	}
	if n, err := codec.SweepTempFiles(dataset.IssuesDir(dataDir), codec.TempMaxAge); err == nil && n > 0 {
		debug.Logf("store: swept %d stale temp files", n)
	}
	mapping, err := idgen.LoadMapping(dataset.MappingPath(dataDir))
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, dataDir: dataDir, mapping: mapping, now: time.Now}, nil
}

// DataDir returns the resolved dataset root.
func (s *Store) DataDir() string { return s.dataDir }

// CreateRequest carries the caller-supplied fields for a new issue.
type CreateRequest struct {
	Kind        types.Kind
	Title       string
	Description string
	Notes       string
	Priority    *int
	Assignee    string
	Labels      []string
	ParentID    string
	CreatedBy   string
}

// CreateIssue allocates both IDs, binds the display alias, and writes
// the issue file.
func (s *Store) CreateIssue(req CreateRequest) (*types.Issue, error) {
	if req.Kind == "" {
		req.Kind = types.KindTask
	}
	priority := DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	internalID := idgen.NewInternalID(idgen.DefaultTypePrefix)
	short, err := s.mapping.GenerateUnboundShortID()
	if err != nil {
		return nil, err
	}
	if err := s.mapping.Bind(short, internalID); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	issue := &types.Issue{
		ID:          internalID,
		DisplayID:   idgen.FormatDisplayID(s.cfg.Prefix, short),
		Version:     1,
		Kind:        req.Kind,
		Status:      types.StatusOpen,
		Priority:    priority,
		Title:       req.Title,
		Description: req.Description,
		Notes:       req.Notes,
		Assignee:    req.Assignee,
		Labels:      normalizeLabels(req.Labels),
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.CreatedBy,
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeIssue(issue); err != nil {
		return nil, err
	}
	debug.Logf("store: created %s (%s)", issue.DisplayID, issue.ID)
	return issue, nil
}

// Resolve maps user input (display ID, bare short code, or full
// internal ID) to an internal ID. Matching is exact; there is no
// prefix search.
func (s *Store) Resolve(input string) (string, error) {
	if strings.HasPrefix(input, idgen.DefaultTypePrefix+"-") {
		return input, nil
	}
	return s.mapping.Resolve(input, s.cfg.Prefix, idgen.DefaultTypePrefix)
}

// GetIssue loads one issue by any accepted reference.
func (s *Store) GetIssue(ref string) (*types.Issue, error) {
	id, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return codec.ReadIssueFile(s.issuePath(id))
}

// ListFilter narrows ListIssues. Zero values match everything.
type ListFilter struct {
	Status   types.Status
	Kind     types.Kind
	Assignee string
	Label    string
	ParentID string
}

// ListIssues returns matching issues, oldest first (internal IDs are
// time-ordered, so ID order is creation order).
func (s *Store) ListIssues(filter ListFilter) ([]*types.Issue, error) {
	all, err := codec.ReadAllIssues(dataset.IssuesDir(s.dataDir))
	if err != nil {
		return nil, err
	}
	var out []*types.Issue
	for _, issue := range all {
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && issue.Kind != filter.Kind {
			continue
		}
		if filter.Assignee != "" && issue.Assignee != filter.Assignee {
			continue
		}
		if filter.ParentID != "" && issue.ParentID != filter.ParentID {
			continue
		}
		if filter.Label != "" && !hasLabel(issue, filter.Label) {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// UpdateRequest applies partial edits. Nil pointers leave fields
// alone; label and dependency edits are set operations.
type UpdateRequest struct {
	Title       *string
	Description *string
	Notes       *string
	Priority    *int
	Assignee    *string
	ParentID    *string

	AddLabels    []string
	RemoveLabels []string
	AddDeps      []types.Dependency
	RemoveDeps   []types.Dependency
}

// UpdateIssue applies the edits, bumps the version, and rewrites the
// file atomically.
func (s *Store) UpdateIssue(ref string, req UpdateRequest) (*types.Issue, error) {
	issue, err := s.GetIssue(ref)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		issue.Title = *req.Title
	}
	if req.Description != nil {
		issue.Description = *req.Description
	}
	if req.Notes != nil {
		issue.Notes = *req.Notes
	}
	if req.Priority != nil {
		issue.Priority = *req.Priority
	}
	if req.Assignee != nil {
		issue.Assignee = *req.Assignee
	}
	if req.ParentID != nil {
		issue.ParentID = *req.ParentID
	}
	issue.Labels = editLabels(issue.Labels, req.AddLabels, req.RemoveLabels)
	issue.Dependencies, err = s.editDeps(issue.Dependencies, req.AddDeps, req.RemoveDeps)
	if err != nil {
		return nil, err
	}

	return s.commit(issue)
}

// CloseIssue moves the issue to the terminal state.
func (s *Store) CloseIssue(ref, reason string) (*types.Issue, error) {
	issue, err := s.GetIssue(ref)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, fmt.Errorf("%s is already closed", issue.DisplayID)
	}
	now := s.now().UTC().Truncate(time.Second)
	issue.Status = types.StatusClosed
	issue.ClosedAt = &now
	issue.CloseReason = reason
	return s.commit(issue)
}

// ReopenIssue returns a closed issue to the open state.
func (s *Store) ReopenIssue(ref string) (*types.Issue, error) {
	issue, err := s.GetIssue(ref)
	if err != nil {
		return nil, err
	}
	if !issue.Status.IsTerminal() {
		return nil, fmt.Errorf("%s is not closed", issue.DisplayID)
	}
	issue.Status = types.StatusOpen
	issue.ClosedAt = nil
	issue.CloseReason = ""
	return s.commit(issue)
}

// SetStatus moves the issue to a non-terminal status. Closing goes
// through CloseIssue so the close bookkeeping cannot be skipped.
func (s *Store) SetStatus(ref string, status types.Status) (*types.Issue, error) {
	if status.IsTerminal() {
		return nil, fmt.Errorf("use close to reach status %s", status)
	}
	issue, err := s.GetIssue(ref)
	if err != nil {
		return nil, err
	}
	issue.Status = status
	issue.ClosedAt = nil
	issue.CloseReason = ""
	return s.commit(issue)
}

// commit finalizes a mutation: version bump, fresh updatedAt,
// validation, atomic write.
func (s *Store) commit(issue *types.Issue) (*types.Issue, error) {
	issue.Version++
	issue.UpdatedAt = s.now().UTC().Truncate(time.Second)
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeIssue(issue); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *Store) writeIssue(issue *types.Issue) error {
	return codec.WriteIssueFile(s.issuePath(issue.ID), issue)
}

func (s *Store) issuePath(internalID string) string {
	return filepath.Join(dataset.IssuesDir(s.dataDir), codec.IssueFileName(internalID))
}

// editDeps applies dependency set edits, verifying that added targets
// resolve to existing issues.
func (s *Store) editDeps(deps, add, remove []types.Dependency) ([]types.Dependency, error) {
	byKey := make(map[string]types.Dependency, len(deps))
	for _, d := range deps {
		byKey[d.Key()] = d
	}
	for _, d := range add {
		if d.Type == "" {
			d.Type = types.DepBlocks
		}
		if _, err := codec.ReadIssueFile(s.issuePath(d.TargetID)); err != nil {
			return nil, fmt.Errorf("dependency target %s: %w", d.TargetID, err)
		}
		byKey[d.Key()] = d
	}
	for _, d := range remove {
		if d.Type == "" {
			d.Type = types.DepBlocks
		}
		delete(byKey, d.Key())
	}
	if len(byKey) == 0 {
		return nil, nil
	}
	out := make([]types.Dependency, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key() < out[b].Key() })
	return out, nil
}

func editLabels(labels, add, remove []string) []string {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, l := range add {
		set[l] = true
	}
	for _, l := range remove {
		delete(set, l)
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func normalizeLabels(labels []string) []string {
	return editLabels(nil, labels, nil)
}

func hasLabel(issue *types.Issue, label string) bool {
	for _, l := range issue.Labels {
		if l == label {
			return true
		}
	}
	return false
}
