package types

import "fmt"

// Validate checks that the issue satisfies the schema invariants.
// The returned error names the offending field.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("field id: must not be empty")
	}
	if i.Title == "" {
		return fmt.Errorf("field title: must not be empty")
	}
	if !ValidKinds[i.Kind] {
		return fmt.Errorf("field kind: invalid value %q", i.Kind)
	}
	if !ValidStatuses[i.Status] {
		return fmt.Errorf("field status: invalid value %q", i.Status)
	}
	if i.Priority < 0 || i.Priority > MaxPriority {
		return fmt.Errorf("field priority: %d out of range 0..%d", i.Priority, MaxPriority)
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("field created_at: must be set")
	}
	if i.UpdatedAt.IsZero() {
		return fmt.Errorf("field updated_at: must be set")
	}
	if i.Status.IsTerminal() && i.ClosedAt == nil {
		return fmt.Errorf("field closed_at: must be set when status is %s", StatusClosed)
	}
	if !i.Status.IsTerminal() && i.ClosedAt != nil {
		return fmt.Errorf("field closed_at: must be unset when status is %s", i.Status)
	}
	for idx, d := range i.Dependencies {
		if d.Type != DepBlocks {
			return fmt.Errorf("field dependencies[%d].type: unsupported relation %q", idx, d.Type)
		}
		if d.TargetID == "" {
			return fmt.Errorf("field dependencies[%d].target: must not be empty", idx)
		}
	}
	return nil
}
