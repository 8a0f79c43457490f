package idgen

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// ErrNotFound is returned when a display ID does not resolve.
var ErrNotFound = errors.New("id not found")

// ErrAlreadyBound is returned when a short ID is already mapped to a
// different internal ID. The caller must regenerate and retry; existing
// mappings are never overwritten.
var ErrAlreadyBound = errors.New("short id already bound")

// Mapping is the durable short-ID to internal-ID-suffix table.
// Entries are write-once; the on-disk format is one "short suffix" pair
// per line, sorted, which makes the file union-mergeable across sync
// participants.
type Mapping struct {
	path    string
	entries map[string]string // short -> internal ID suffix (ULID)
}

// LoadMapping reads the mapping file at path. A missing file yields an
// empty mapping.
func LoadMapping(path string) (*Mapping, error) {
	m := &Mapping{path: path, entries: make(map[string]string)}
	data, err := os.ReadFile(path) // #nosec G304 -- path resolved via worktree manager
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read id mapping: %w", err)
	}
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		short, suffix, ok := strings.Cut(line, " ")
		if !ok || short == "" || suffix == "" {
			return nil, fmt.Errorf("malformed id mapping line %d: %q", lineNum+1, line)
		}
		m.entries[short] = suffix
	}
	return m, nil
}

// Len returns the number of mapping entries.
func (m *Mapping) Len() int {
	return len(m.entries)
}

// Has reports whether the short code is already mapped.
func (m *Mapping) Has(shortID string) bool {
	_, ok := m.entries[shortID]
	return ok
}

// Bind registers a permanent mapping from shortID to internalID and
// persists it. Binding the same pair again is an idempotent no-op.
// Binding a short ID that already points at a different internal ID
// fails with ErrAlreadyBound; the caller must generate a new short ID.
func (m *Mapping) Bind(shortID, internalID string) error {
	suffix := InternalIDSuffix(internalID)
	if existing, ok := m.entries[shortID]; ok {
		if existing == suffix {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s (wanted %s)", ErrAlreadyBound, shortID, existing, suffix)
	}
	m.entries[shortID] = suffix
	if err := m.save(); err != nil {
		delete(m.entries, shortID)
		return err
	}
	return nil
}

// Resolve maps a display-facing input to a full internal ID. The input
// may carry the project prefix ("tbd-a1b2") or be the bare short code
// ("a1b2"). The full short code must be supplied; partial or prefix
// matching is not permitted.
func (m *Mapping) Resolve(input, projectPrefix, typePrefix string) (string, error) {
	short := strings.TrimPrefix(input, projectPrefix+"-")
	suffix, ok := m.entries[short]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, input)
	}
	return typePrefix + "-" + suffix, nil
}

// ShortFor returns the short code bound to internalID, if any.
func (m *Mapping) ShortFor(internalID string) (string, bool) {
	suffix := InternalIDSuffix(internalID)
	for short, s := range m.entries {
		if s == suffix {
			return short, true
		}
	}
	return "", false
}

// save writes the mapping file: sorted lines, atomic rename.
func (m *Mapping) save() error {
	if m.path == "" {
		return nil // in-memory mapping (tests)
	}
	data := m.Encode()
	if err := atomic.WriteFile(m.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write id mapping: %w", err)
	}
	return nil
}

// Encode renders the mapping in its canonical on-disk form.
func (m *Mapping) Encode() []byte {
	lines := make([]string, 0, len(m.entries))
	for short, suffix := range m.entries {
		lines = append(lines, short+" "+suffix)
	}
	sort.Strings(lines)
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// MergeMappingData unions two mapping files. Entries are write-once and
// short codes are independently random (or drawn from a disjoint import
// namespace), so union merge is conflict-free. If both sides somehow
// carry the same short code with different suffixes, an error is
// returned rather than silently picking a side.
func MergeMappingData(local, remote []byte) ([]byte, error) {
	merged := make(map[string]string)
	for _, data := range [][]byte{local, remote} {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			short, suffix, ok := strings.Cut(line, " ")
			if !ok {
				continue
			}
			if existing, dup := merged[short]; dup && existing != suffix {
				return nil, fmt.Errorf("%w: %s maps to both %s and %s", ErrAlreadyBound, short, existing, suffix)
			}
			merged[short] = suffix
		}
	}
	lines := make([]string, 0, len(merged))
	for short, suffix := range merged {
		lines = append(lines, short+" "+suffix)
	}
	sort.Strings(lines)
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// GenerateUnboundShortID generates a short ID that does not collide
// with the current mapping snapshot, retrying on collision.
func (m *Mapping) GenerateUnboundShortID() (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		short, err := NewShortID()
		if err != nil {
			return "", err
		}
		if !m.Has(short) {
			return short, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique short id after 100 attempts")
}
