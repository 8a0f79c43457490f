package attic

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/types"
)

// Restore applies an archived value back onto its entity. The value
// being overwritten is archived first, so restore never loses data
// either; it can be undone by another restore.
func (s *Store) Restore(entityID string, timestamp time.Time, now time.Time) (*types.Issue, error) {
	entry, err := s.Get(entityID, timestamp)
	if err != nil {
		return nil, err
	}

	issuePath := filepath.Join(dataset.IssuesDir(s.dataDir), codec.IssueFileName(entityID))
	issue, err := codec.ReadIssueFile(issuePath)
	if err != nil {
		return nil, fmt.Errorf("cannot restore into %s: %w", entityID, err)
	}

	overwritten, err := currentValue(issue, entry.Field)
	if err != nil {
		return nil, err
	}

	at := now.UTC().Truncate(time.Second)
	restored, err := applyValue(issue, entry.Field, entry.LostValue, at)
	if err != nil {
		return nil, err
	}
	restored.ID = issue.ID
	restored.Kind = issue.Kind
	restored.Version = issue.Version + 1
	restored.UpdatedAt = at

	if err := restored.Validate(); err != nil {
		return nil, fmt.Errorf("archived value does not fit current entity: %w", err)
	}

	undo := &Entry{
		EntityID:     entityID,
		Timestamp:    now.UTC().Truncate(time.Millisecond),
		Field:        entry.Field,
		LostValue:    overwritten,
		WinnerSource: SideLocal,
		LoserSource:  SideLocal,
		Context: Context{
			LocalVersion:   issue.Version,
			LocalUpdatedAt: issue.UpdatedAt,
		},
	}
	if err := s.Record(undo); err != nil {
		return nil, err
	}

	if err := codec.WriteIssueFile(issuePath, restored); err != nil {
		return nil, err
	}
	return restored, nil
}

// currentValue snapshots the field that the restore will overwrite.
func currentValue(issue *types.Issue, field string) (any, error) {
	switch field {
	case "title":
		return issue.Title, nil
	case "description":
		return issue.Description, nil
	case "notes":
		return issue.Notes, nil
	case "status":
		return string(issue.Status), nil
	case "priority":
		return issue.Priority, nil
	case "assignee":
		return issue.Assignee, nil
	case "parent":
		return issue.ParentID, nil
	case "close_reason":
		return issue.CloseReason, nil
	case "display_id":
		return issue.DisplayID, nil
	case FieldFull:
		data, err := codec.Encode(issue)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	if ns, ok := extensionNamespace(field); ok {
		return issue.Extensions[ns], nil
	}
	return nil, fmt.Errorf("field %q cannot be restored", field)
}

// applyValue writes an archived value onto a copy of the issue. at is
// the restore time, used when the restored status needs a close time.
func applyValue(issue *types.Issue, field string, value any, at time.Time) (*types.Issue, error) {
	if field == FieldFull {
		raw, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("archived full entity is %T, want string", value)
		}
		return codec.Decode([]byte(raw))
	}

	out := issue.Clone()
	if ns, ok := extensionNamespace(field); ok {
		kv, err := asNamespace(value)
		if err != nil {
			return nil, err
		}
		if out.Extensions == nil {
			out.Extensions = make(map[string]map[string]any)
		}
		// Merge entries hold only the displaced keys, so restoring sets
		// those keys back without disturbing the rest of the namespace.
		target := copyValues(out.Extensions[ns])
		for k, v := range kv {
			target[k] = v
		}
		out.Extensions[ns] = target
		return out, nil
	}

	switch field {
	case "title":
		out.Title = fmt.Sprint(value)
	case "description":
		out.Description = fmt.Sprint(value)
	case "notes":
		out.Notes = fmt.Sprint(value)
	case "assignee":
		out.Assignee = fmt.Sprint(value)
	case "parent":
		out.ParentID = fmt.Sprint(value)
	case "close_reason":
		out.CloseReason = fmt.Sprint(value)
	case "display_id":
		out.DisplayID = fmt.Sprint(value)
	case "status":
		st := types.Status(fmt.Sprint(value))
		out.Status = st
		if st.IsTerminal() {
			if out.ClosedAt == nil {
				t := at
				out.ClosedAt = &t
			}
		} else {
			out.ClosedAt = nil
			out.CloseReason = ""
		}
	case "priority":
		p, ok := value.(int)
		if !ok {
			return nil, fmt.Errorf("archived priority is %T, want int", value)
		}
		out.Priority = p
	default:
		return nil, fmt.Errorf("field %q cannot be restored", field)
	}
	return out, nil
}

func extensionNamespace(field string) (string, bool) {
	const prefix = "extensions."
	if len(field) > len(prefix) && field[:len(prefix)] == prefix {
		return field[len(prefix):], true
	}
	return "", false
}

func copyValues(kv map[string]any) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}

func asNamespace(value any) (map[string]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("archived namespace is %T, want map", value)
}
