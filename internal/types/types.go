// Package types defines the core data structures for the tbd issue store.
package types

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// Kind classifies an issue.
type Kind string

const (
	KindBug     Kind = "bug"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
	KindEpic    Kind = "epic"
	KindChore   Kind = "chore"
)

// ValidKinds is the closed set of issue kinds.
var ValidKinds = map[Kind]bool{
	KindBug:     true,
	KindFeature: true,
	KindTask:    true,
	KindEpic:    true,
	KindChore:   true,
}

// Status is the issue lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// ValidStatuses is the closed set of issue statuses.
var ValidStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusClosed:     true,
}

// IsTerminal reports whether the status is the terminal (closed) state.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// DepBlocks is the only dependency relation currently supported.
const DepBlocks = "blocks"

// MaxPriority is the highest (least urgent) allowed priority value.
// Priority 0 is the most urgent.
const MaxPriority = 4

// Dependency is a typed edge from one issue to another.
type Dependency struct {
	Type     string `yaml:"type" json:"type"`
	TargetID string `yaml:"target" json:"target"`
}

// Key returns the dedup key for merge-by-key semantics.
func (d Dependency) Key() string {
	return d.Type + ":" + d.TargetID
}

// Issue is the unit of persisted work.
//
// ID and DisplayID are immutable once assigned. Version is informational
// only and never used for conflict detection.
type Issue struct {
	ID           string                    `yaml:"id" json:"id"`
	DisplayID    string                    `yaml:"display_id" json:"display_id"`
	Version      int                       `yaml:"version" json:"version"`
	Kind         Kind                      `yaml:"kind" json:"kind"`
	Status       Status                    `yaml:"status" json:"status"`
	Priority     int                       `yaml:"priority" json:"priority"`
	Title        string                    `yaml:"title" json:"title"`
	Description  string                    `yaml:"-" json:"description,omitempty"`
	Notes        string                    `yaml:"-" json:"notes,omitempty"`
	Assignee     string                    `yaml:"assignee" json:"assignee,omitempty"`
	Labels       []string                  `yaml:"labels" json:"labels,omitempty"`
	Dependencies []Dependency              `yaml:"dependencies" json:"dependencies,omitempty"`
	ParentID     string                    `yaml:"parent" json:"parent,omitempty"`
	CreatedAt    time.Time                 `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time                 `yaml:"updated_at" json:"updated_at"`
	ClosedAt     *time.Time                `yaml:"closed_at" json:"closed_at,omitempty"`
	CreatedBy    string                    `yaml:"created_by" json:"created_by,omitempty"`
	CloseReason  string                    `yaml:"close_reason" json:"close_reason,omitempty"`
	Extensions   map[string]map[string]any `yaml:"extensions" json:"extensions,omitempty"`
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	out := *i
	if i.Labels != nil {
		out.Labels = append([]string(nil), i.Labels...)
	}
	if i.Dependencies != nil {
		out.Dependencies = append([]Dependency(nil), i.Dependencies...)
	}
	if i.ClosedAt != nil {
		t := *i.ClosedAt
		out.ClosedAt = &t
	}
	if i.Extensions != nil {
		out.Extensions = make(map[string]map[string]any, len(i.Extensions))
		for ns, kv := range i.Extensions {
			nsCopy := make(map[string]any, len(kv))
			for k, v := range kv {
				nsCopy[k] = v
			}
			out.Extensions[ns] = nsCopy
		}
	}
	return &out
}

// ContentHash returns a deterministic hash of the issue's substantive
// content. Used as the final tie-breaker in last-write-wins merges so
// that both replicas resolve ties identically.
func (i *Issue) ContentHash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(i.Title)
	write(i.Description)
	write(i.Notes)
	write(string(i.Status))
	write(fmt.Sprintf("%d", i.Priority))
	write(string(i.Kind))
	write(i.Assignee)
	write(i.CloseReason)
	write(i.ParentID)

	labels := append([]string(nil), i.Labels...)
	sort.Strings(labels)
	for _, l := range labels {
		write(l)
	}
	deps := append([]Dependency(nil), i.Dependencies...)
	sort.Slice(deps, func(a, b int) bool { return deps[a].Key() < deps[b].Key() })
	for _, d := range deps {
		write(d.Key())
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
