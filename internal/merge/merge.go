// Package merge resolves two divergent versions of an issue into one,
// applying a fixed per-field strategy table and recording every
// discarded value in the attic.
//
// Strategies:
//
//	immutable               error if the sides differ (id, kind)
//	last-write-wins (LWW)   later updatedAt side wins; remote wins exact
//	                        ties, with a content-hash comparison as the
//	                        final deterministic tie-break
//	LWW-with-archive        LWW, losing value archived (description, notes)
//	union                   concatenate, dedup, sort (labels)
//	merge-by-key            union keyed by item key (dependencies)
//	increment               max(local, remote) + 1 (version)
//	earliest-wins           keep the earlier value (createdAt, createdBy)
//	recompute               set to the merge time (updatedAt)
//	deep-merge-by-namespace union namespaces, then union keys inside
//	                        each shared namespace with LWW only on
//	                        per-key conflicts (extensions)
//
// An attic entry is written if and only if a strategy discards a
// non-equal value. Union and merge-by-key lose nothing and never
// produce entries.
package merge

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/jlevy/tbd/internal/attic"
	"github.com/jlevy/tbd/internal/types"
)

// ImmutableConflictError reports two sides disagreeing on a field that
// can never change. This means the records do not actually describe
// the same entity; it is never auto-resolved.
type ImmutableConflictError struct {
	EntityID string
	Field    string
	Local    string
	Remote   string
}

func (e *ImmutableConflictError) Error() string {
	return fmt.Sprintf("immutable field %q conflicts for %s (local %q, remote %q); manual resolution required",
		e.Field, e.EntityID, e.Local, e.Remote)
}

// Result is a merged issue plus whatever the merge discarded.
type Result struct {
	Merged       *types.Issue
	AtticEntries []*attic.Entry
}

// Issues merges local and remote versions of the same entity. now is
// the merge operation's timestamp (becomes the merged updatedAt).
func Issues(local, remote *types.Issue, now time.Time) (*Result, error) {
	if local.ID != remote.ID {
		return nil, &ImmutableConflictError{EntityID: local.ID, Field: "id", Local: local.ID, Remote: remote.ID}
	}
	if local.Kind != remote.Kind {
		return nil, &ImmutableConflictError{EntityID: local.ID, Field: "kind", Local: string(local.Kind), Remote: string(remote.Kind)}
	}

	localWins := localSideWins(local, remote)
	winner, loser := remote, local
	winnerSide, loserSide := attic.SideRemote, attic.SideLocal
	if localWins {
		winner, loser = local, remote
		winnerSide, loserSide = attic.SideLocal, attic.SideRemote
	}

	result := &Result{}
	mctx := attic.Context{
		LocalVersion:    local.Version,
		RemoteVersion:   remote.Version,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remote.UpdatedAt,
	}
	record := func(field string, lost any) {
		result.AtticEntries = append(result.AtticEntries, &attic.Entry{
			EntityID:     local.ID,
			Timestamp:    now.UTC().Truncate(time.Millisecond),
			Field:        field,
			LostValue:    lost,
			WinnerSource: winnerSide,
			LoserSource:  loserSide,
			Context:      mctx,
		})
	}

	merged := &types.Issue{
		ID:   local.ID,
		Kind: local.Kind,
	}

	// last-write-wins fields; the loser is archived when it differs.
	merged.Title = lww(winner.Title, loser.Title, "title", record)
	merged.Status = types.Status(lww(string(winner.Status), string(loser.Status), "status", record))
	merged.Priority = lwwInt(winner.Priority, loser.Priority, "priority", record)
	merged.Assignee = lww(winner.Assignee, loser.Assignee, "assignee", record)
	merged.ParentID = lww(winner.ParentID, loser.ParentID, "parent", record)
	merged.CloseReason = lww(winner.CloseReason, loser.CloseReason, "close_reason", record)
	merged.DisplayID = lww(winner.DisplayID, loser.DisplayID, "display_id", record)

	// LWW-with-archive: free-text fields.
	merged.Description = lww(winner.Description, loser.Description, "description", record)
	merged.Notes = lww(winner.Notes, loser.Notes, "notes", record)

	// union: both sides' labels survive.
	merged.Labels = unionStrings(local.Labels, remote.Labels)

	// merge-by-key: dependencies keyed by (type, target).
	merged.Dependencies = unionDependencies(local.Dependencies, remote.Dependencies)

	// increment.
	merged.Version = max(local.Version, remote.Version) + 1

	// earliest-wins.
	if local.CreatedAt.Before(remote.CreatedAt) || local.CreatedAt.Equal(remote.CreatedAt) {
		merged.CreatedAt = local.CreatedAt
		merged.CreatedBy = earliestCreatedBy(local, remote)
	} else {
		merged.CreatedAt = remote.CreatedAt
		merged.CreatedBy = earliestCreatedBy(remote, local)
	}

	// recompute.
	merged.UpdatedAt = now.UTC().Truncate(time.Second)

	// deep-merge-by-namespace.
	merged.Extensions = mergeExtensions(winner.Extensions, loser.Extensions, record)

	// Status/closedAt coupling: a terminal merged status needs a close
	// time; a non-terminal one must not carry one.
	merged.ClosedAt = winner.ClosedAt
	if merged.Status.IsTerminal() {
		if merged.ClosedAt == nil {
			if loser.ClosedAt != nil {
				merged.ClosedAt = loser.ClosedAt
			} else {
				t := merged.UpdatedAt
				merged.ClosedAt = &t
			}
		}
	} else {
		merged.ClosedAt = nil
	}

	result.Merged = merged
	return result, nil
}

// localSideWins decides the LWW winner side. Later updatedAt wins. On
// an exact tie the content hash decides, so the two repos involved
// resolve the same pair to the same winner even though each sees the
// other as "remote". Identical hashes mean identical content and the
// side is irrelevant.
func localSideWins(local, remote *types.Issue) bool {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return true
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return false
	}
	return local.ContentHash() > remote.ContentHash()
}

// lww picks the winner's value and archives the loser's when it
// differs.
func lww(winnerVal, loserVal, field string, record func(string, any)) string {
	if winnerVal != loserVal {
		record(field, loserVal)
	}
	return winnerVal
}

func lwwInt(winnerVal, loserVal int, field string, record func(string, any)) int {
	if winnerVal != loserVal {
		record(field, loserVal)
	}
	return winnerVal
}

// unionStrings concatenates, dedups, and sorts. Nothing is lost, so no
// attic entry is ever produced here.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// unionDependencies unions two dependency lists keyed by (type, target).
func unionDependencies(a, b []types.Dependency) []types.Dependency {
	seen := make(map[string]bool)
	var out []types.Dependency
	for _, d := range append(append([]types.Dependency(nil), a...), b...) {
		if !seen[d.Key()] {
			seen[d.Key()] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	if len(out) == 0 {
		return nil
	}
	return out
}

// earliestCreatedBy keeps the creator recorded by the earlier side,
// falling back to the other side when it is empty.
func earliestCreatedBy(earlier, later *types.Issue) string {
	if earlier.CreatedBy != "" {
		return earlier.CreatedBy
	}
	return later.CreatedBy
}

// mergeExtensions unions top-level namespaces and applies LWW per key
// within each. Keys present on only one side survive untouched (the
// core never needs to understand their schemas); only a loser value
// displaced by a differing winner value for the same key is archived,
// batched per namespace.
func mergeExtensions(winner, loser map[string]map[string]any, record func(string, any)) map[string]map[string]any {
	if len(winner) == 0 && len(loser) == 0 {
		return nil
	}
	out := make(map[string]map[string]any)
	for ns, kv := range winner {
		out[ns] = copyNamespace(kv)
	}
	for ns, kv := range loser {
		existing, ok := out[ns]
		if !ok {
			out[ns] = copyNamespace(kv)
			continue
		}
		displaced := make(map[string]any)
		for k, v := range kv {
			winnerVal, present := existing[k]
			if !present {
				existing[k] = v
				continue
			}
			if !reflect.DeepEqual(winnerVal, v) {
				displaced[k] = v
			}
		}
		if len(displaced) > 0 {
			record("extensions."+ns, displaced)
		}
	}
	return out
}

func copyNamespace(kv map[string]any) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}
