// Package attic stores values discarded during merges.
//
// Every time a merge strategy overwrites a non-equal value, the losing
// value lands here, keyed by entity, timestamp, and field. Entries live
// inside the synced dataset so every machine sees the same archive, and
// the composite key (entityId/timestamp_field) makes listing naturally
// chronological without a secondary index.
package attic

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// DirName is the attic directory inside the dataset.
const DirName = "attic"

// FieldFull marks a whole-entity conflict (e.g. one side undecodable).
const FieldFull = "full"

// Side identifies which replica a value came from.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// ErrEntryNotFound is returned when no attic entry matches.
var ErrEntryNotFound = errors.New("attic entry not found")

// Context records both sides' bookkeeping at merge time, for audit.
type Context struct {
	LocalVersion    int       `yaml:"local_version"`
	RemoteVersion   int       `yaml:"remote_version"`
	LocalUpdatedAt  time.Time `yaml:"local_updated_at"`
	RemoteUpdatedAt time.Time `yaml:"remote_updated_at"`
}

// Entry is one discarded value.
type Entry struct {
	EntityID     string    `yaml:"entity_id"`
	Timestamp    time.Time `yaml:"timestamp"`
	Field        string    `yaml:"field"`
	LostValue    any       `yaml:"lost_value"`
	WinnerSource Side      `yaml:"winner_source"`
	LoserSource  Side      `yaml:"loser_source"`
	Context      Context   `yaml:"context"`
}

// key returns the sortable composite key (also the file stem).
func (e *Entry) key() string {
	return fmt.Sprintf("%s_%s", e.Timestamp.UTC().Format("20060102T150405.000Z"), sanitizeField(e.Field))
}

func sanitizeField(field string) string {
	return strings.ReplaceAll(field, string(filepath.Separator), "-")
}

// Store is an attic archive rooted at a dataset directory.
type Store struct {
	dataDir string
}

// NewStore opens the attic under dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) entityDir(entityID string) string {
	return filepath.Join(s.dataDir, DirName, entityID)
}

// Record persists one entry.
func (s *Store) Record(entry *Entry) error {
	dir := s.entityDir(entry.EntityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create attic directory: %w", err)
	}
	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal attic entry: %w", err)
	}
	path := filepath.Join(dir, entry.key()+".yml")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write attic entry: %w", err)
	}
	return nil
}

// RecordAll persists a batch of entries.
func (s *Store) RecordAll(entries []*Entry) error {
	for _, e := range entries {
		if err := s.Record(e); err != nil {
			return err
		}
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	EntityID string
	Field    string
	Since    time.Time
}

// List returns matching entries in chronological order.
func (s *Store) List(filter Filter) ([]*Entry, error) {
	root := filepath.Join(s.dataDir, DirName)
	var entityDirs []string
	if filter.EntityID != "" {
		entityDirs = []string{s.entityDir(filter.EntityID)}
	} else {
		dirs, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read attic: %w", err)
		}
		for _, d := range dirs {
			if d.IsDir() {
				entityDirs = append(entityDirs, filepath.Join(root, d.Name()))
			}
		}
	}

	var entries []*Entry
	for _, dir := range entityDirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read attic entity dir: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".yml") {
				continue
			}
			entry, err := readEntry(filepath.Join(dir, f.Name()))
			if err != nil {
				return nil, err
			}
			if filter.Field != "" && entry.Field != filter.Field {
				continue
			}
			if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
				continue
			}
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].Timestamp.Equal(entries[b].Timestamp) {
			return entries[a].Timestamp.Before(entries[b].Timestamp)
		}
		return entries[a].Field < entries[b].Field
	})
	return entries, nil
}

// Get returns the entry for an entity at a timestamp. Entries are
// keyed at millisecond precision; a query with no sub-second component
// matches at second granularity so a hand-typed timestamp still
// resolves, failing if more than one entry shares that second.
func (s *Store) Get(entityID string, timestamp time.Time) (*Entry, error) {
	entries, err := s.List(Filter{EntityID: entityID})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Timestamp.Equal(timestamp) {
			return e, nil
		}
	}
	if timestamp.Nanosecond() == 0 {
		var matches []*Entry
		for _, e := range entries {
			if e.Timestamp.Truncate(time.Second).Equal(timestamp) {
				matches = append(matches, e)
			}
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
		default:
			return nil, fmt.Errorf("ambiguous timestamp %s for %s: %d entries in that second, use the full millisecond timestamp",
				timestamp.Format(time.RFC3339), entityID, len(matches))
		}
	}
	return nil, fmt.Errorf("%w: %s at %s", ErrEntryNotFound, entityID, timestamp.Format(time.RFC3339))
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- attic paths are dataset-internal
	if err != nil {
		return nil, fmt.Errorf("failed to read attic entry: %w", err)
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("malformed attic entry %s: %w", filepath.Base(path), err)
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}
