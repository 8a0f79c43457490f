// Package codec serializes issues to and from their on-disk file form:
// a YAML metadata block between "---" delimiters followed by the
// free-text body (description, plus an optional notes section).
//
// Encoding is canonical: metadata keys are sorted lexicographically at
// every nesting level, collections use block style (empty ones render
// as [] / {}), timestamps are RFC3339 UTC with a trailing Z, absent
// optional values are explicit nulls, and the body is trimmed with runs
// of blank lines collapsed. Re-encoding a decoded issue reproduces the
// input byte for byte, which keeps sync-branch diffs clean and enables
// content-hash dedup.
package codec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jlevy/tbd/internal/types"
)

// NotesDelimiter separates the description from the notes section in
// the file body.
const NotesDelimiter = "--- notes ---"

// TimeLayout is the canonical timestamp format (RFC3339, UTC, seconds).
const TimeLayout = "2006-01-02T15:04:05Z"

// SchemaViolationError reports malformed or out-of-range entity data.
// Decode failures never partially apply: the caller gets no issue.
type SchemaViolationError struct {
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation in field %q: %s", e.Field, e.Reason)
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// normalizeText trims body text, forces LF endings, and collapses runs
// of blank lines to a single blank line.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	return blankRuns.ReplaceAllString(s, "\n\n")
}

// FormatTime renders a timestamp in canonical form.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

// Encode renders the issue in canonical file form.
func Encode(issue *types.Issue) ([]byte, error) {
	if issue == nil {
		return nil, &SchemaViolationError{Field: "issue", Reason: "nil issue"}
	}

	meta := &yaml.Node{Kind: yaml.MappingNode}

	addKey(meta, "assignee", strNode(issue.Assignee))
	addKey(meta, "close_reason", strNode(issue.CloseReason))
	addKey(meta, "closed_at", timePtrNode(issue.ClosedAt))
	addKey(meta, "created_at", strNode(FormatTime(issue.CreatedAt)))
	addKey(meta, "created_by", strNode(issue.CreatedBy))
	addKey(meta, "dependencies", depsNode(issue.Dependencies))
	addKey(meta, "display_id", strNode(issue.DisplayID))
	addKey(meta, "extensions", extensionsNode(issue.Extensions))
	addKey(meta, "id", strNode(issue.ID))
	addKey(meta, "kind", strNode(string(issue.Kind)))
	addKey(meta, "labels", labelsNode(issue.Labels))
	addKey(meta, "parent", strNode(issue.ParentID))
	addKey(meta, "priority", intNode(issue.Priority))
	addKey(meta, "status", strNode(string(issue.Status)))
	addKey(meta, "title", strNode(issue.Title))
	addKey(meta, "updated_at", strNode(FormatTime(issue.UpdatedAt)))
	addKey(meta, "version", intNode(issue.Version))

	var sb strings.Builder
	sb.WriteString("---\n")

	var yamlBuf strings.Builder
	enc := yaml.NewEncoder(&yamlBuf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	sb.WriteString(yamlBuf.String())
	sb.WriteString("---\n")

	desc := normalizeText(issue.Description)
	notes := normalizeText(issue.Notes)
	if desc != "" {
		sb.WriteString("\n")
		sb.WriteString(desc)
		sb.WriteString("\n")
	}
	if notes != "" {
		sb.WriteString("\n")
		sb.WriteString(NotesDelimiter)
		sb.WriteString("\n\n")
		sb.WriteString(notes)
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

// fileMeta mirrors the YAML metadata block for decoding.
type fileMeta struct {
	Assignee     string                    `yaml:"assignee"`
	CloseReason  string                    `yaml:"close_reason"`
	ClosedAt     *string                   `yaml:"closed_at"`
	CreatedAt    string                    `yaml:"created_at"`
	CreatedBy    string                    `yaml:"created_by"`
	Dependencies []types.Dependency        `yaml:"dependencies"`
	DisplayID    string                    `yaml:"display_id"`
	Extensions   map[string]map[string]any `yaml:"extensions"`
	ID           string                    `yaml:"id"`
	Kind         string                    `yaml:"kind"`
	Labels       []string                  `yaml:"labels"`
	Parent       string                    `yaml:"parent"`
	Priority     *int                      `yaml:"priority"`
	Status       string                    `yaml:"status"`
	Title        string                    `yaml:"title"`
	UpdatedAt    string                    `yaml:"updated_at"`
	Version      int                       `yaml:"version"`
}

// Decode parses canonical file bytes into an issue.
func Decode(data []byte) (*types.Issue, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, &SchemaViolationError{Field: "file", Reason: "missing metadata delimiter"}
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	var yamlPart, body string
	switch {
	case end >= 0:
		yamlPart = rest[:end+1]
		body = rest[end+len("\n---\n"):]
	case strings.HasSuffix(rest, "\n---"):
		yamlPart = rest[:len(rest)-len("---")]
	default:
		return nil, &SchemaViolationError{Field: "file", Reason: "unterminated metadata block"}
	}

	var meta fileMeta
	dec := yaml.NewDecoder(strings.NewReader(yamlPart))
	dec.KnownFields(true)
	if err := dec.Decode(&meta); err != nil {
		return nil, &SchemaViolationError{Field: "metadata", Reason: err.Error()}
	}

	issue := &types.Issue{
		ID:           meta.ID,
		DisplayID:    meta.DisplayID,
		Version:      meta.Version,
		Kind:         types.Kind(meta.Kind),
		Status:       types.Status(meta.Status),
		Title:        meta.Title,
		Assignee:     meta.Assignee,
		CreatedBy:    meta.CreatedBy,
		CloseReason:  meta.CloseReason,
		ParentID:     meta.Parent,
		Dependencies: meta.Dependencies,
		Labels:       meta.Labels,
		Extensions:   meta.Extensions,
	}
	if len(issue.Labels) == 0 {
		issue.Labels = nil
	}
	if len(issue.Dependencies) == 0 {
		issue.Dependencies = nil
	}
	if len(issue.Extensions) == 0 {
		issue.Extensions = nil
	}

	if meta.Priority == nil {
		return nil, &SchemaViolationError{Field: "priority", Reason: "missing"}
	}
	issue.Priority = *meta.Priority

	var err error
	if issue.CreatedAt, err = parseTime("created_at", meta.CreatedAt); err != nil {
		return nil, err
	}
	if issue.UpdatedAt, err = parseTime("updated_at", meta.UpdatedAt); err != nil {
		return nil, err
	}
	if meta.ClosedAt != nil {
		t, err := parseTime("closed_at", *meta.ClosedAt)
		if err != nil {
			return nil, err
		}
		issue.ClosedAt = &t
	}

	// Body: description, optionally followed by a notes section.
	desc, notes := splitBody(body)
	issue.Description = desc
	issue.Notes = notes

	if err := issue.Validate(); err != nil {
		return nil, &SchemaViolationError{Field: "issue", Reason: err.Error()}
	}
	return issue, nil
}

// splitBody separates the description from the notes section.
func splitBody(body string) (desc, notes string) {
	marker := "\n" + NotesDelimiter + "\n"
	if strings.HasPrefix(strings.TrimLeft(body, "\n"), NotesDelimiter+"\n") {
		// Notes with no description.
		trimmed := strings.TrimLeft(body, "\n")
		return "", normalizeText(trimmed[len(NotesDelimiter)+1:])
	}
	if idx := strings.Index(body, marker); idx >= 0 {
		return normalizeText(body[:idx]), normalizeText(body[idx+len(marker):])
	}
	return normalizeText(body), ""
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &SchemaViolationError{Field: field, Reason: "missing timestamp"}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &SchemaViolationError{Field: field, Reason: fmt.Sprintf("invalid timestamp %q", value)}
	}
	return t.UTC(), nil
}

// --- node construction helpers ---

func addKey(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
}

func strNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if s == "" {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func intNode(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", i)}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func timePtrNode(t *time.Time) *yaml.Node {
	if t == nil {
		return nullNode()
	}
	return strNode(FormatTime(*t))
}

func labelsNode(labels []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	if len(labels) == 0 {
		n.Style = yaml.FlowStyle // renders as []
		return n
	}
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	for _, l := range sorted {
		n.Content = append(n.Content, strNode(l))
	}
	return n
}

func depsNode(deps []types.Dependency) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	if len(deps) == 0 {
		n.Style = yaml.FlowStyle
		return n
	}
	sorted := append([]types.Dependency(nil), deps...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Key() < sorted[b].Key() })
	for _, d := range sorted {
		dep := &yaml.Node{Kind: yaml.MappingNode}
		addKey(dep, "target", strNode(d.TargetID))
		addKey(dep, "type", strNode(d.Type))
		n.Content = append(n.Content, dep)
	}
	return n
}

func extensionsNode(ext map[string]map[string]any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if len(ext) == 0 {
		n.Style = yaml.FlowStyle // renders as {}
		return n
	}
	namespaces := make([]string, 0, len(ext))
	for ns := range ext {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		addKey(n, ns, anyMapNode(ext[ns]))
	}
	return n
}

// anyMapNode encodes an opaque namespace map with sorted keys.
func anyMapNode(m map[string]any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if len(m) == 0 {
		n.Style = yaml.FlowStyle
		return n
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addKey(n, k, anyNode(m[k]))
	}
	return n
}

// anyNode encodes an opaque extension value. The codec does not need to
// understand namespace schemas; values round-trip as scalars, lists, or
// nested maps with sorted keys.
func anyNode(v any) *yaml.Node {
	switch val := v.(type) {
	case nil:
		return nullNode()
	case string:
		return strNode(val)
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", val)}
	case int:
		return intNode(val)
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", val)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: fmt.Sprintf("%g", val)}
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		if len(val) == 0 {
			n.Style = yaml.FlowStyle
			return n
		}
		for _, item := range val {
			n.Content = append(n.Content, anyNode(item))
		}
		return n
	case map[string]any:
		return anyMapNode(val)
	default:
		return strNode(fmt.Sprintf("%v", val))
	}
}
