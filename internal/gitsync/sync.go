// Package gitsync pushes and pulls the issue dataset through its
// dedicated sync branch.
//
// The protocol never guesses about concurrency: local changes are
// committed to the branch through an isolated index, then pushed. A
// push rejection is the one and only conflict signal. On rejection the
// engine fetches the remote tip, merges the two histories file by
// file, commits the result with both tips as parents, and pushes
// again, up to a bounded number of attempts.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jlevy/tbd/internal/attic"
	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/gitx"
	"github.com/jlevy/tbd/internal/idgen"
	"github.com/jlevy/tbd/internal/lockfile"
	"github.com/jlevy/tbd/internal/merge"
	"github.com/jlevy/tbd/internal/worktree"
)

// maxPushAttempts bounds the push/reconcile loop. Each attempt merges
// against a fresher remote tip, so loss is impossible, but a remote
// hot enough to reject three merges in a row should be retried later
// rather than fought.
const maxPushAttempts = 3

// FailedError reports a sync that gave up. The dataset is intact:
// every attempt merged before pushing, so re-running sync resumes
// cleanly.
type FailedError struct {
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("sync failed after %d attempts: %v (local changes are committed; re-run 'tbd sync' when the remote settles)",
		e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Options adjust a single sync run.
type Options struct {
	// PullOnly integrates remote changes without pushing.
	PullOnly bool
	// NoPush commits locally and skips all remote traffic, matching
	// the no-push config key.
	NoPush bool
	// Fix repairs an unhealthy worktree before syncing. Without it an
	// unhealthy worktree fails with an error naming the repair command.
	Fix bool
	// Message overrides the sync commit message.
	Message string
}

// Result describes what one sync run did.
type Result struct {
	RepairedWorktree bool
	Committed        bool
	CommitHash       string
	Pulled           bool
	Pushed           bool
	MergeCommits     int
	AtticEntries     int
}

// Engine runs the sync protocol for one repository.
type Engine struct {
	git *gitx.Client
	wt  *worktree.Manager
	cfg *config.Config

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine builds a sync engine over an existing git client and
// worktree manager.
func NewEngine(git *gitx.Client, wt *worktree.Manager, cfg *config.Config) *Engine {
	return &Engine{git: git, wt: wt, cfg: cfg, now: time.Now}
}

// Sync runs the full protocol. The dataset lock serializes concurrent
// runs on the same machine.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}

	health, err := e.wt.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}
	if health.Status != worktree.StatusValid {
		if !opts.Fix {
			return nil, &worktree.MissingError{Status: health.Status, Details: health.Details}
		}
		debug.Logf("sync: worktree %s (%s), repairing", health.Status, health.Details)
		if _, err := e.wt.Repair(ctx); err != nil {
			return nil, fmt.Errorf("failed to repair sync worktree: %w", err)
		}
		res.RepairedWorktree = true
	}
	path, err := e.wt.ResolvePath(ctx, worktree.Strict)
	if err != nil {
		return nil, err
	}

	lock, err := lockfile.Acquire(e.wt.LockPath(), lockfile.DefaultStaleTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to lock dataset: %w", err)
	}
	defer lock.Unlock()

	if n, err := codec.SweepTempFiles(dataset.IssuesDir(path), codec.TempMaxAge); err == nil && n > 0 {
		debug.Logf("sync: swept %d stale temp files", n)
	}

	branch := e.wt.Branch()
	localRef := "refs/heads/" + branch
	noPush := opts.NoPush || e.cfg.NoPush
	hasRemote := !noPush && e.git.HasRemote(ctx, e.cfg.Remote)

	if hasRemote {
		if err := e.git.Fetch(ctx, e.cfg.Remote, branch); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", branch, err)
		}
	}

	if err := e.commitLocal(ctx, path, localRef, opts.Message, res); err != nil {
		return nil, err
	}

	if hasRemote {
		if err := e.converge(ctx, path, localRef, opts, res); err != nil {
			return nil, err
		}
	} else {
		debug.Logf("sync: no remote traffic (remote=%s, no-push=%v)", e.cfg.Remote, noPush)
	}

	head, err := e.git.RevParse(ctx, localRef)
	if err != nil {
		return nil, err
	}
	if err := e.wt.SaveState(&worktree.State{
		LastSyncAt:     e.now().UTC().Truncate(time.Second),
		LastSyncCommit: head,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// commitLocal stages the worktree through the isolated index and
// advances the branch if anything changed. The user's own index is
// never touched.
func (e *Engine) commitLocal(ctx context.Context, path, localRef, message string, res *Result) error {
	head, err := e.git.RevParse(ctx, localRef)
	if err != nil {
		return err
	}
	if head == "" {
		return fmt.Errorf("sync branch %s has no commits; run 'tbd doctor --fix'", e.wt.Branch())
	}

	indexFile := e.wt.IndexFile()
	if err := e.git.ReadTreeIntoIndex(ctx, localRef, indexFile); err != nil {
		return err
	}
	if err := e.git.AddAllToIndex(ctx, path, indexFile); err != nil {
		return err
	}
	tree, err := e.git.WriteTree(ctx, indexFile)
	if err != nil {
		return err
	}
	headTree, err := e.git.RevParse(ctx, localRef+"^{tree}")
	if err != nil {
		return err
	}
	if tree == headTree {
		debug.Logf("sync: nothing to commit")
		return nil
	}

	if message == "" {
		message = "tbd: sync issue updates"
	}
	commit, err := e.git.CommitTree(ctx, tree, message, head)
	if err != nil {
		return err
	}
	if err := e.git.UpdateRef(ctx, localRef, commit, head); err != nil {
		return err
	}
	if err := e.git.ResetHard(ctx, path, localRef); err != nil {
		return err
	}
	res.Committed = true
	res.CommitHash = commit
	debug.Logf("sync: committed %s", commit)
	return nil
}

// converge pushes the branch, reconciling with the remote tip on each
// rejection, until the histories agree or attempts run out.
func (e *Engine) converge(ctx context.Context, path, localRef string, opts Options, res *Result) error {
	remoteTrack := "refs/remotes/" + e.cfg.Remote + "/" + e.wt.Branch()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxPushAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Integrate whatever the remote has before (or instead of)
		// pushing.
		integrated, err := e.integrateRemote(ctx, path, localRef, remoteTrack, res)
		if err != nil {
			return err
		}
		if integrated {
			res.Pulled = true
		}

		if opts.PullOnly {
			return nil
		}

		local, err := e.git.RevParse(ctx, localRef)
		if err != nil {
			return err
		}
		remote, err := e.git.RevParse(ctx, remoteTrack)
		if err != nil {
			return err
		}
		if local == remote {
			return nil // converged, nothing to push
		}

		err = e.git.Push(ctx, e.cfg.Remote, e.wt.Branch())
		if err == nil {
			res.Pushed = true
			return nil
		}
		if !errors.Is(err, gitx.ErrPushRejected) {
			return fmt.Errorf("failed to push %s: %w", e.wt.Branch(), err)
		}
		lastErr = err
		debug.Logf("sync: push rejected (attempt %d/%d), reconciling", attempt, maxPushAttempts)
		if err := e.git.Fetch(ctx, e.cfg.Remote, e.wt.Branch()); err != nil {
			return fmt.Errorf("failed to re-fetch %s: %w", e.wt.Branch(), err)
		}
	}
	return &FailedError{Attempts: maxPushAttempts, Err: lastErr}
}

// integrateRemote brings remote-only history into the local branch:
// fast-forward when possible, otherwise a file-level merge commit with
// both tips as parents. Returns true when the local branch moved.
func (e *Engine) integrateRemote(ctx context.Context, path, localRef, remoteTrack string, res *Result) (bool, error) {
	local, err := e.git.RevParse(ctx, localRef)
	if err != nil {
		return false, err
	}
	remote, err := e.git.RevParse(ctx, remoteTrack)
	if err != nil {
		return false, err
	}
	if remote == "" || remote == local {
		return false, nil
	}

	if ahead, err := e.git.IsAncestor(ctx, remote, local); err != nil {
		return false, err
	} else if ahead {
		return false, nil // local strictly ahead, nothing to pull
	}
	if behind, err := e.git.IsAncestor(ctx, local, remote); err != nil {
		return false, err
	} else if behind {
		if err := e.git.UpdateRef(ctx, localRef, remote, local); err != nil {
			return false, err
		}
		if err := e.git.ResetHard(ctx, path, localRef); err != nil {
			return false, err
		}
		debug.Logf("sync: fast-forwarded to %s", remote)
		return true, nil
	}

	// Diverged: merge file by file.
	mergeCommit, err := e.mergeHistories(ctx, path, localRef, local, remote, res)
	if err != nil {
		return false, err
	}
	res.MergeCommits++
	debug.Logf("sync: merged histories into %s", mergeCommit)
	return true, nil
}

// mergeHistories reconciles two divergent branch tips into one merge
// commit. Every changed path is resolved by content type; discarded
// issue values land in the attic, which travels inside the same merge
// commit.
func (e *Engine) mergeHistories(ctx context.Context, path, localRef, local, remote string, res *Result) (string, error) {
	base, err := e.git.MergeBase(ctx, local, remote)
	if err != nil {
		return "", err
	}

	changed, err := e.changedPaths(ctx, base, local, remote)
	if err != nil {
		return "", err
	}

	// Start from the local checkout and overlay resolved content.
	if err := e.git.ResetHard(ctx, path, localRef); err != nil {
		return "", err
	}
	atticStore := attic.NewStore(path)
	now := e.now().UTC()
	for _, rel := range changed {
		if err := e.resolvePath(ctx, path, rel, base, local, remote, atticStore, now, res); err != nil {
			return "", fmt.Errorf("failed to merge %s: %w", rel, err)
		}
	}

	indexFile := e.wt.IndexFile()
	if err := e.git.ReadTreeIntoIndex(ctx, local, indexFile); err != nil {
		return "", err
	}
	if err := e.git.AddAllToIndex(ctx, path, indexFile); err != nil {
		return "", err
	}
	tree, err := e.git.WriteTree(ctx, indexFile)
	if err != nil {
		return "", err
	}
	commit, err := e.git.CommitTree(ctx, tree, "tbd: merge concurrent issue updates", local, remote)
	if err != nil {
		return "", err
	}
	if err := e.git.UpdateRef(ctx, localRef, commit, local); err != nil {
		return "", err
	}
	if err := e.git.ResetHard(ctx, path, localRef); err != nil {
		return "", err
	}
	return commit, nil
}

func (e *Engine) changedPaths(ctx context.Context, base, local, remote string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, tip := range []string{local, remote} {
		from := base
		if from == "" {
			// Unrelated histories (both sides bootstrapped
			// independently): every path on both tips is in play.
			from = gitx.EmptyTreeHash
		}
		names, err := e.git.DiffNames(ctx, from, tip)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// resolvePath merges one changed path and writes the result into the
// worktree (or removes it).
func (e *Engine) resolvePath(ctx context.Context, wtPath, rel, base, local, remote string, atticStore *attic.Store, now time.Time, res *Result) error {
	var baseB []byte
	if base != "" {
		var err error
		baseB, err = e.git.ShowFile(ctx, base, rel)
		if err != nil {
			return err
		}
	}
	localB, err := e.git.ShowFile(ctx, local, rel)
	if err != nil {
		return err
	}
	remoteB, err := e.git.ShowFile(ctx, remote, rel)
	if err != nil {
		return err
	}

	target := filepath.Join(wtPath, rel)

	switch {
	case isIssuePath(rel):
		return e.resolveIssue(rel, target, baseB, localB, remoteB, atticStore, now, res)
	case rel == dataset.MappingFileName:
		merged, err := idgen.MergeMappingData(localB, remoteB)
		if err != nil {
			return err
		}
		return writeResolved(target, merged)
	case rel == dataset.MetadataFileName:
		if localB == nil || remoteB == nil {
			return writeResolved(target, pick(localB, remoteB))
		}
		merged, err := dataset.MergeMetadata(localB, remoteB)
		if err != nil {
			return err
		}
		return writeResolved(target, merged)
	case strings.HasPrefix(rel, attic.DirName+"/"):
		// Attic entries are append-only; a file present on either
		// side survives.
		if localB == nil && remoteB == nil {
			return removeResolved(target)
		}
		return writeResolved(target, pick(remoteB, localB))
	default:
		// Unrecognized content: prefer the side that diverged from
		// base, remote on a double change.
		return e.resolveOpaque(target, baseB, localB, remoteB)
	}
}

// resolveIssue merges one issue file. A side that no longer has the
// file is a delete: deletion wins only against an unchanged survivor,
// an edit resurrects. Undecodable sides lose wholesale and are parked
// in the attic under the synthetic "full" field.
func (e *Engine) resolveIssue(rel, target string, baseB, localB, remoteB []byte, atticStore *attic.Store, now time.Time, res *Result) error {
	entityID := strings.TrimSuffix(filepath.Base(rel), codec.IssueFileExt)

	switch {
	case localB == nil && remoteB == nil:
		return removeResolved(target)
	case localB == nil:
		if baseB != nil && string(baseB) == string(remoteB) {
			return removeResolved(target) // deleted locally, untouched remotely
		}
		return writeResolved(target, remoteB)
	case remoteB == nil:
		if baseB != nil && string(baseB) == string(localB) {
			return removeResolved(target) // deleted remotely, untouched locally
		}
		return writeResolved(target, localB)
	case string(localB) == string(remoteB):
		return writeResolved(target, localB)
	}

	localIssue, localErr := codec.Decode(localB)
	remoteIssue, remoteErr := codec.Decode(remoteB)

	if localErr != nil || remoteErr != nil {
		winner, lost, loserSide := remoteB, string(localB), attic.SideLocal
		if localErr == nil {
			winner, lost, loserSide = localB, string(remoteB), attic.SideRemote
		}
		entry := &attic.Entry{
			EntityID:     entityID,
			Timestamp:    now.Truncate(time.Millisecond),
			Field:        attic.FieldFull,
			LostValue:    lost,
			WinnerSource: otherSide(loserSide),
			LoserSource:  loserSide,
		}
		if err := atticStore.Record(entry); err != nil {
			return err
		}
		res.AtticEntries++
		debug.Logf("sync: %s undecodable on %s side, archived whole file", rel, loserSide)
		return writeResolved(target, winner)
	}

	merged, err := merge.Issues(localIssue, remoteIssue, now)
	if err != nil {
		return err
	}
	if err := atticStore.RecordAll(merged.AtticEntries); err != nil {
		return err
	}
	res.AtticEntries += len(merged.AtticEntries)

	out, err := codec.Encode(merged.Merged)
	if err != nil {
		return err
	}
	return writeResolved(target, out)
}

func (e *Engine) resolveOpaque(target string, baseB, localB, remoteB []byte) error {
	if localB == nil && remoteB == nil {
		return removeResolved(target)
	}
	remoteChanged := string(remoteB) != string(baseB)
	if remoteChanged {
		if remoteB == nil {
			return removeResolved(target)
		}
		return writeResolved(target, remoteB)
	}
	if localB == nil {
		return removeResolved(target)
	}
	return writeResolved(target, localB)
}

func isIssuePath(rel string) bool {
	return strings.HasPrefix(rel, dataset.IssuesDirName+"/") && strings.HasSuffix(rel, codec.IssueFileExt)
}

func otherSide(s attic.Side) attic.Side {
	if s == attic.SideLocal {
		return attic.SideRemote
	}
	return attic.SideLocal
}

func pick(a, b []byte) []byte {
	if a != nil {
		return a
	}
	return b
}

func writeResolved(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

func removeResolved(target string) error {
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
