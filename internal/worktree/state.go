package worktree

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// State is machine-local bookkeeping kept under the git dir. It is
// never part of the synced dataset.
type State struct {
	LastSyncAt     time.Time `yaml:"last_sync_at"`
	LastSyncCommit string    `yaml:"last_sync_commit"`
}

// LoadState reads the local state file. A missing file is a zero state.
func (m *Manager) LoadState() (*State, error) {
	data, err := os.ReadFile(m.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read local state: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed local state: %w", err)
	}
	return &st, nil
}

// SaveState persists the local state file atomically.
func (m *Manager) SaveState(st *State) error {
	if err := os.MkdirAll(m.baseDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}
	if err := atomic.WriteFile(m.StatePath(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write local state: %w", err)
	}
	return nil
}
