// Package dataset defines the on-branch layout of a tbd issue dataset
// and the metadata file at its root. The same layout is read by the
// store for day-to-day operations and by the sync engine when it
// reconciles divergent branch histories.
package dataset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// On-branch layout, relative to the dataset root.
const (
	IssuesDirName    = "issues"
	MappingFileName  = "idmap"
	MetadataFileName = "metadata.yml"
)

// SchemaVersion is the current dataset schema. Readers refuse datasets
// newer than this.
const SchemaVersion = 1

// Metadata is the dataset-level record at the root of the sync branch.
type Metadata struct {
	Schema    int       `yaml:"schema"`
	Prefix    string    `yaml:"prefix"`
	CreatedAt time.Time `yaml:"created_at"`
}

// IssuesDir returns the issue directory under root.
func IssuesDir(root string) string {
	return filepath.Join(root, IssuesDirName)
}

// MappingPath returns the short-ID mapping file path under root.
func MappingPath(root string) string {
	return filepath.Join(root, MappingFileName)
}

// MetadataPath returns the metadata file path under root.
func MetadataPath(root string) string {
	return filepath.Join(root, MetadataFileName)
}

// Init lays out an empty dataset at root: the issue directory, an
// empty mapping file, and the metadata record. Existing files are left
// alone so Init is safe to call on a populated dataset.
func Init(root, prefix string) error {
	if err := os.MkdirAll(IssuesDir(root), 0o755); err != nil {
		return fmt.Errorf("failed to create issues directory: %w", err)
	}
	if _, err := os.Stat(MappingPath(root)); os.IsNotExist(err) {
		if err := os.WriteFile(MappingPath(root), nil, 0o644); err != nil {
			return fmt.Errorf("failed to create mapping file: %w", err)
		}
	}
	if _, err := os.Stat(MetadataPath(root)); os.IsNotExist(err) {
		meta := &Metadata{
			Schema:    SchemaVersion,
			Prefix:    prefix,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := WriteMetadata(root, meta); err != nil {
			return err
		}
	}
	return nil
}

// ReadMetadata loads and checks the dataset metadata.
func ReadMetadata(root string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset metadata: %w", err)
	}
	meta, err := decodeMetadata(data)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// WriteMetadata persists the metadata record atomically.
func WriteMetadata(root string, meta *Metadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode dataset metadata: %w", err)
	}
	if err := atomic.WriteFile(MetadataPath(root), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write dataset metadata: %w", err)
	}
	return nil
}

// MergeMetadata reconciles two versions of the metadata file. The
// schema is the maximum of both sides, the creation time the earliest,
// and the prefix must agree: clones of the same dataset can never
// diverge on it, so a mismatch is a configuration error.
func MergeMetadata(local, remote []byte) ([]byte, error) {
	lm, err := decodeMetadata(local)
	if err != nil {
		return nil, err
	}
	rm, err := decodeMetadata(remote)
	if err != nil {
		return nil, err
	}
	if lm.Prefix != rm.Prefix {
		return nil, fmt.Errorf("dataset prefix mismatch: %q vs %q", lm.Prefix, rm.Prefix)
	}
	merged := &Metadata{Schema: lm.Schema, Prefix: lm.Prefix, CreatedAt: lm.CreatedAt}
	if rm.Schema > merged.Schema {
		merged.Schema = rm.Schema
	}
	if !rm.CreatedAt.IsZero() && (merged.CreatedAt.IsZero() || rm.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = rm.CreatedAt
	}
	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset metadata: %w", err)
	}
	return out, nil
}

func decodeMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("malformed dataset metadata: %w", err)
	}
	if meta.Schema > SchemaVersion {
		return nil, fmt.Errorf("dataset schema %d is newer than supported %d; upgrade tbd", meta.Schema, SchemaVersion)
	}
	return &meta, nil
}
