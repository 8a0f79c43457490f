package codec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/types"
)

// IssueFileExt is the extension of entity files.
const IssueFileExt = ".md"

// TempMaxAge is how old an orphaned temp file must be before the
// startup sweep removes it.
const TempMaxAge = time.Hour

// IssueFileName returns the file name for an internal ID.
func IssueFileName(internalID string) string {
	return internalID + IssueFileExt
}

// WriteIssueFile encodes the issue and writes it atomically
// (write-to-temp, fsync, rename).
func WriteIssueFile(path string, issue *types.Issue) error {
	data, err := Encode(issue)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create issue directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write issue file: %w", err)
	}
	return nil
}

// ReadIssueFile reads and decodes one entity file.
func ReadIssueFile(path string) (*types.Issue, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path resolved via worktree manager
	if err != nil {
		return nil, fmt.Errorf("failed to read issue file: %w", err)
	}
	issue, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return issue, nil
}

// ReadAllIssues decodes every entity file in dir. A missing directory
// yields an empty result.
func ReadAllIssues(dir string) ([]*types.Issue, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read issue directory: %w", err)
	}
	var issues []*types.Issue
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), IssueFileExt) {
			continue
		}
		issue, err := ReadIssueFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// SweepTempFiles removes orphaned temp files in dir older than maxAge.
// Atomic writes leave temp files behind only if the process died
// between create and rename; anything in the issues directory that is
// not a *.md entity file and has gone stale is such an orphan.
func SweepTempFiles(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = TempMaxAge
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory for temp sweep: %w", err)
	}
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), IssueFileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err == nil {
			debug.Logf("swept orphaned temp file: %s\n", path)
			removed++
		}
	}
	return removed, nil
}
