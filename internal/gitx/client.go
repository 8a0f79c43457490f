// Package gitx wraps the git binary behind a narrow client interface.
// It is the only package in tbd that invokes subprocesses.
//
// Every call runs with an explicit timeout and a controlled
// environment. Operations that stage or commit use a dedicated index
// file (GIT_INDEX_FILE) so the user's own staging area is never
// touched.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlevy/tbd/internal/debug"
)

// DefaultTimeout bounds each git subprocess call.
const DefaultTimeout = 60 * time.Second

// ErrPushRejected indicates a non-fast-forward push rejection: the
// remote moved since our fetch. This is the sole conflict-detection
// signal used by the sync engine.
var ErrPushRejected = errors.New("push rejected (non-fast-forward)")

// ErrTimeout indicates a git call exceeded its deadline. Surfaced as a
// retryable condition by the sync engine.
var ErrTimeout = errors.New("git command timed out")

// CmdError carries the failing git invocation and its stderr.
type CmdError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CmdError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *CmdError) Unwrap() error { return e.Err }

// Client runs git commands against one repository.
type Client struct {
	repoRoot string
	gitDir   string
	timeout  time.Duration
}

// NewClient creates a client for the repository containing dir.
func NewClient(dir string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{repoRoot: dir, timeout: timeout}

	root, err := c.run(context.Background(), dir, nil, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	c.repoRoot = strings.TrimSpace(root)

	gitDir, err := c.run(context.Background(), c.repoRoot, nil, "rev-parse", "--git-common-dir")
	if err != nil {
		return nil, err
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(c.repoRoot, gitDir)
	}
	c.gitDir = gitDir
	return c, nil
}

// RepoRoot returns the repository's top-level directory.
func (c *Client) RepoRoot() string { return c.repoRoot }

// GitDir returns the repository's common git directory.
func (c *Client) GitDir() string { return c.gitDir }

// run executes git with a timeout and returns stdout only. Stderr is
// kept apart for error reporting: callers like ShowFile treat stdout
// as verbatim file content, and a stray git advice message must never
// leak into it. extraEnv entries are appended to the inherited
// environment.
func (c *Client) run(ctx context.Context, dir string, extraEnv []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Logf("git %s (dir=%s)\n", strings.Join(args, " "), dir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: git %s", ErrTimeout, strings.Join(args, " "))
		}
		return "", &CmdError{Args: args, Output: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// RevParse resolves a ref to a commit hash. Returns "" (no error) if
// the ref does not exist.
func (c *Client) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "rev-parse", "--verify", "--quiet", ref)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Output) == "" {
			return "", nil // unknown ref
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Fetch fetches one branch from the remote.
func (c *Client) Fetch(ctx context.Context, remote, branch string) error {
	_, err := c.run(ctx, c.repoRoot, nil, "fetch", remote, branch)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Output, "couldn't find remote ref") {
			return nil // branch does not exist remotely yet
		}
	}
	return err
}

// Push pushes the local branch ref to the remote. A non-fast-forward
// rejection is reported as ErrPushRejected.
func (c *Client) Push(ctx context.Context, remote, branch string) error {
	_, err := c.run(ctx, c.repoRoot, nil, "push", remote, branch+":"+branch)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) {
			out := cmdErr.Output
			if strings.Contains(out, "[rejected]") ||
				strings.Contains(out, "non-fast-forward") ||
				strings.Contains(out, "fetch first") ||
				strings.Contains(out, "stale info") {
				return fmt.Errorf("%w: %s", ErrPushRejected, strings.TrimSpace(out))
			}
		}
	}
	return err
}

// ConfigValue reads one git config value, or "" when unset.
func (c *Client) ConfigValue(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "config", "--get", key)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Output) == "" {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasRemote reports whether the named remote is configured.
func (c *Client) HasRemote(ctx context.Context, remote string) bool {
	out, err := c.run(ctx, c.repoRoot, nil, "remote")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == remote {
			return true
		}
	}
	return false
}

// DiffNames lists paths that differ between two commits.
func (c *Client) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// ShowFile returns the contents of path at ref. Missing files return
// (nil, nil): during merge a file absent on one side is a create.
func (c *Client) ShowFile(ctx context.Context, ref, path string) ([]byte, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "show", ref+":"+path)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) &&
			(strings.Contains(cmdErr.Output, "does not exist") ||
				strings.Contains(cmdErr.Output, "exists on disk, but not in")) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(out), nil
}

// MergeBase returns the best common ancestor of two commits, or "" if
// the histories are unrelated.
func (c *Client) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "merge-base", a, b)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Output) == "" {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAncestor reports whether a is an ancestor of b.
func (c *Client) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	_, err := c.run(ctx, c.repoRoot, nil, "merge-base", "--is-ancestor", a, b)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) {
			var exitErr *exec.ExitError
			if errors.As(cmdErr.Err, &exitErr) && exitErr.ExitCode() == 1 {
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}
