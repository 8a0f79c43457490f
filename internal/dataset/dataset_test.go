package dataset_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jlevy/tbd/internal/dataset"
)

func TestInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, dataset.Init(dir, "tbd"))

	info, err := os.Stat(dataset.IssuesDir(dir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(dataset.MappingPath(dir))
	assert.NoError(t, err)

	meta, err := dataset.ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, "tbd", meta.Prefix)
	assert.Equal(t, dataset.SchemaVersion, meta.Schema)
	assert.False(t, meta.CreatedAt.IsZero())
}

func TestInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, dataset.Init(dir, "tbd"))
	before, err := dataset.ReadMetadata(dir)
	require.NoError(t, err)

	require.NoError(t, dataset.Init(dir, "tbd"))
	after, err := dataset.ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-init must not rewrite metadata")
}

func TestReadMetadataRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, dataset.Init(dir, "tbd"))
	require.NoError(t, dataset.WriteMetadata(dir, &dataset.Metadata{
		Schema:    dataset.SchemaVersion + 1,
		Prefix:    "tbd",
		CreatedAt: time.Now().UTC(),
	}))

	_, err := dataset.ReadMetadata(dir)
	assert.Error(t, err, "newer schema must refuse to load")
}

func encodeMeta(t *testing.T, meta *dataset.Metadata) []byte {
	t.Helper()
	data, err := yaml.Marshal(meta)
	require.NoError(t, err)
	return data
}

func TestMergeMetadata(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	out, err := dataset.MergeMetadata(
		encodeMeta(t, &dataset.Metadata{Schema: 1, Prefix: "tbd", CreatedAt: late}),
		encodeMeta(t, &dataset.Metadata{Schema: 1, Prefix: "tbd", CreatedAt: early}),
	)
	require.NoError(t, err)
	var merged dataset.Metadata
	require.NoError(t, yaml.Unmarshal(out, &merged))
	assert.True(t, merged.CreatedAt.Equal(early), "earliest bootstrap wins")

	_, err = dataset.MergeMetadata(
		encodeMeta(t, &dataset.Metadata{Schema: 1, Prefix: "tbd", CreatedAt: early}),
		encodeMeta(t, &dataset.Metadata{Schema: 1, Prefix: "other", CreatedAt: early}),
	)
	assert.Error(t, err, "prefix disagreement is not mergeable")
}

func TestReadMetadataMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := dataset.ReadMetadata(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteMetadataAtomic(t *testing.T) {
	dir := t.TempDir()
	meta := &dataset.Metadata{Schema: 1, Prefix: "tbd", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, dataset.WriteMetadata(dir, meta))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "leftover temp file %s", filepath.Join(dir, e.Name()))
	}
}
