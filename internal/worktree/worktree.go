// Package worktree manages the secondary checkout of the sync branch.
//
// The worktree is the only valid read/write surface for entity files.
// It moves through a small health state machine (valid, missing,
// prunable, corrupted); CheckHealth observes it without side effects
// and Repair is the one code path allowed to mutate worktree structure
// outside the normal commit flow.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/gitx"
	"github.com/jlevy/tbd/internal/lockfile"
)

// HealthStatus enumerates worktree states.
type HealthStatus string

const (
	// StatusValid: checkout exists with a proper gitdir pointer and is
	// not flagged prunable.
	StatusValid HealthStatus = "valid"
	// StatusMissing: the worktree directory is absent.
	StatusMissing HealthStatus = "missing"
	// StatusPrunable: git's registry still references the worktree but
	// the directory is gone.
	StatusPrunable HealthStatus = "prunable"
	// StatusCorrupted: the directory exists but its gitdir pointer is
	// missing or invalid.
	StatusCorrupted HealthStatus = "corrupted"
)

// Health is the result of a side-effect-free health check.
type Health struct {
	Status  HealthStatus
	Details string
}

// PathMode controls ResolvePath fallback behavior. It is a required
// argument: production call sites must opt in to Strict explicitly and
// can never reach the fallback path by accident.
type PathMode int

const (
	// Strict fails loudly when the worktree is unusable. All
	// production callers use this mode.
	Strict PathMode = iota + 1
	// AllowFallbackForTests resolves to a plain directory when no git
	// worktree exists. Only for tests that run without a repository.
	AllowFallbackForTests
)

// MissingError reports an unusable worktree in Strict mode.
type MissingError struct {
	Status  HealthStatus
	Details string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("sync worktree is %s (%s); run 'tbd doctor --fix' to repair", e.Status, e.Details)
}

// RepairResult describes what Repair did.
type RepairResult struct {
	Actions    []string
	BackupPath string
}

// Manager owns the sync-branch worktree for one repository.
type Manager struct {
	git    *gitx.Client
	branch string
	remote string

	// InitDataset seeds a brand-new dataset when the sync branch has
	// to be created from scratch. Set by the store layer.
	InitDataset func(dir string) error
}

// NewManager creates a manager for the given sync branch.
func NewManager(git *gitx.Client, branch, remote string) *Manager {
	return &Manager{git: git, branch: branch, remote: remote}
}

// baseDir is the per-repo directory for tbd machine-local resources.
func (m *Manager) baseDir() string {
	return filepath.Join(m.git.GitDir(), "tbd")
}

// Path returns where the worktree lives (it may not exist yet).
func (m *Manager) Path() string {
	return filepath.Join(m.baseDir(), "worktrees", m.branch)
}

// LockPath returns the advisory lock file guarding worktree mutation.
func (m *Manager) LockPath() string {
	return filepath.Join(m.baseDir(), "lock")
}

// IndexFile returns the isolated staging index used for sync commits.
func (m *Manager) IndexFile() string {
	return filepath.Join(m.baseDir(), "index")
}

// StatePath returns the machine-local (untracked) state file.
func (m *Manager) StatePath() string {
	return filepath.Join(m.baseDir(), "state.yml")
}

// fallbackDir is the non-worktree data directory used only by
// AllowFallbackForTests.
func (m *Manager) fallbackDir() string {
	return filepath.Join(m.baseDir(), "fallback-data")
}

// Branch returns the sync branch name.
func (m *Manager) Branch() string { return m.branch }

// CheckHealth reports worktree state without side effects.
func (m *Manager) CheckHealth(ctx context.Context) (*Health, error) {
	path := m.Path()

	info, err := os.Stat(path)
	dirExists := err == nil && info.IsDir()

	registered, prunable, regErr := m.registryEntry(ctx, path)
	if regErr != nil {
		return nil, regErr
	}

	if !dirExists {
		if registered {
			return &Health{Status: StatusPrunable, Details: "directory gone but still registered with git"}, nil
		}
		return &Health{Status: StatusMissing, Details: "worktree directory does not exist"}, nil
	}

	// Directory exists: the .git entry must be a file pointing at the
	// repository's worktree metadata.
	gitFile := filepath.Join(path, ".git")
	fi, err := os.Stat(gitFile)
	if err != nil || fi.IsDir() {
		return &Health{Status: StatusCorrupted, Details: "gitdir pointer file is missing"}, nil
	}
	content, err := os.ReadFile(gitFile) // #nosec G304 -- internal worktree path
	if err != nil || !strings.HasPrefix(strings.TrimSpace(string(content)), "gitdir: ") {
		return &Health{Status: StatusCorrupted, Details: "gitdir pointer file is invalid"}, nil
	}
	if prunable {
		return &Health{Status: StatusPrunable, Details: "git flags the worktree as prunable"}, nil
	}
	if !registered {
		return &Health{Status: StatusCorrupted, Details: "directory exists but git does not know the worktree"}, nil
	}
	return &Health{Status: StatusValid, Details: "checked out on branch " + m.branch}, nil
}

// registryEntry looks up the worktree in git's registry.
func (m *Manager) registryEntry(ctx context.Context, path string) (registered, prunable bool, err error) {
	infos, err := m.git.WorktreeList(ctx)
	if err != nil {
		return false, false, fmt.Errorf("failed to list worktrees: %w", err)
	}
	for _, wt := range infos {
		if sameFile(wt.Path, path) {
			return true, wt.Prunable, nil
		}
	}
	return false, false, nil
}

func sameFile(a, b string) bool {
	ra, err1 := filepath.EvalSymlinks(a)
	rb, err2 := filepath.EvalSymlinks(b)
	if err1 == nil && err2 == nil {
		return ra == rb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// ResolvePath returns the canonical data directory. In Strict mode an
// unhealthy worktree is an error, never a silent fallback: writing
// entity files outside the worktree means they are never synchronized.
func (m *Manager) ResolvePath(ctx context.Context, mode PathMode) (string, error) {
	switch mode {
	case Strict:
		health, err := m.CheckHealth(ctx)
		if err != nil {
			return "", err
		}
		if health.Status != StatusValid {
			return "", &MissingError{Status: health.Status, Details: health.Details}
		}
		return m.Path(), nil
	case AllowFallbackForTests:
		dir := m.fallbackDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create fallback data dir: %w", err)
		}
		return dir, nil
	default:
		return "", fmt.Errorf("invalid path mode %d", mode)
	}
}

// Repair drives the worktree back to the valid state:
//
//	corrupted -> (backup, remove) -> missing -> valid
//	prunable  -> (prune)          -> missing -> valid
//	missing   -> (create)         -> valid
//
// A corrupted directory is always backed up before removal; it may
// hold uncommitted entity writes.
func (m *Manager) Repair(ctx context.Context) (*RepairResult, error) {
	lock, err := lockfile.Acquire(m.LockPath(), 0)
	if err != nil {
		return nil, fmt.Errorf("cannot repair worktree: %w", err)
	}
	defer lock.Unlock()

	result := &RepairResult{}
	health, err := m.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}

	if health.Status == StatusValid {
		result.Actions = append(result.Actions, "worktree already healthy")
		return result, nil
	}

	if health.Status == StatusCorrupted {
		backup, err := m.backupCorrupted()
		if err != nil {
			return nil, err
		}
		result.BackupPath = backup
		result.Actions = append(result.Actions, "backed up corrupted worktree to "+backup)
	}

	// Any stale registry entry (from either the corrupted move or a
	// previously removed directory) must be pruned before re-adding.
	if err := m.git.WorktreePrune(ctx); err != nil {
		return nil, fmt.Errorf("failed to prune worktree registry: %w", err)
	}
	if health.Status == StatusPrunable {
		result.Actions = append(result.Actions, "pruned stale worktree registration")
	}

	if err := m.create(ctx); err != nil {
		return nil, err
	}
	result.Actions = append(result.Actions, "created worktree for branch "+m.branch)
	return result, nil
}

// backupCorrupted moves the corrupted directory to a local, non-synced
// backup location and returns that path.
func (m *Manager) backupCorrupted() (string, error) {
	backup := filepath.Join(m.baseDir(), "backups", time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(filepath.Dir(backup), 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.Rename(m.Path(), backup); err != nil {
		return "", fmt.Errorf("failed to back up corrupted worktree: %w", err)
	}
	debug.Logf("backed up corrupted worktree to %s\n", backup)
	return backup, nil
}

// create attaches a worktree to the sync branch, creating the branch if
// needed: local ref first, then remote ref, then a fresh orphan with an
// initialized empty dataset.
func (m *Manager) create(ctx context.Context) error {
	path := m.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create worktree parent dir: %w", err)
	}

	localRef, err := m.git.RevParse(ctx, "refs/heads/"+m.branch)
	if err != nil {
		return err
	}
	if localRef != "" {
		if err := m.git.WorktreeAdd(ctx, path, m.branch); err != nil {
			return fmt.Errorf("failed to add worktree: %w", err)
		}
		return nil
	}

	if m.git.HasRemote(ctx, m.remote) {
		if err := m.git.Fetch(ctx, m.remote, m.branch); err != nil {
			return fmt.Errorf("failed to fetch sync branch: %w", err)
		}
		remoteRef, err := m.git.RevParse(ctx, "refs/remotes/"+m.remote+"/"+m.branch)
		if err != nil {
			return err
		}
		if remoteRef != "" {
			if err := m.git.WorktreeAddTracking(ctx, path, m.branch, m.remote+"/"+m.branch); err != nil {
				return fmt.Errorf("failed to add worktree from remote ref: %w", err)
			}
			return nil
		}
	}

	return m.createOrphan(ctx, path)
}

// createOrphan builds the sync branch from scratch: an initial commit
// containing an empty, initialized dataset, made through the isolated
// index so the user's staging area stays untouched.
func (m *Manager) createOrphan(ctx context.Context, path string) error {
	seed, err := os.MkdirTemp(m.baseDir(), "seed-")
	if err != nil {
		return fmt.Errorf("failed to create seed dir: %w", err)
	}
	defer os.RemoveAll(seed)

	if m.InitDataset != nil {
		if err := m.InitDataset(seed); err != nil {
			return fmt.Errorf("failed to initialize dataset: %w", err)
		}
	}

	indexFile := m.IndexFile() + ".init"
	defer os.Remove(indexFile)
	if err := m.git.ReadEmptyTreeIntoIndex(ctx, indexFile); err != nil {
		return err
	}
	if err := m.git.AddAllToIndex(ctx, seed, indexFile); err != nil {
		return err
	}
	tree, err := m.git.WriteTree(ctx, indexFile)
	if err != nil {
		return err
	}
	commit, err := m.git.CommitTree(ctx, tree, "tbd: initialize issue dataset")
	if err != nil {
		return err
	}
	if err := m.git.UpdateRef(ctx, "refs/heads/"+m.branch, commit, ""); err != nil {
		return err
	}
	if err := m.git.WorktreeAdd(ctx, path, m.branch); err != nil {
		return fmt.Errorf("failed to add worktree for new branch: %w", err)
	}
	return nil
}
