package gitx

import (
	"context"
	"strings"
)

// Staging operations run against an isolated index file. The user's
// main staging index is never read or written by the sync engine; this
// is a hard invariant.

// indexEnv builds the environment override for an isolated index.
func indexEnv(indexFile string) []string {
	return []string{"GIT_INDEX_FILE=" + indexFile}
}

// ReadTreeIntoIndex populates the isolated index from a commit's tree.
func (c *Client) ReadTreeIntoIndex(ctx context.Context, ref, indexFile string) error {
	_, err := c.run(ctx, c.repoRoot, indexEnv(indexFile), "read-tree", ref)
	return err
}

// ReadEmptyTreeIntoIndex clears the isolated index.
func (c *Client) ReadEmptyTreeIntoIndex(ctx context.Context, indexFile string) error {
	_, err := c.run(ctx, c.repoRoot, indexEnv(indexFile), "read-tree", "--empty")
	return err
}

// AddAllToIndex stages the full contents of workDir into the isolated
// index. GIT_DIR is pinned explicitly: workDir may live outside the
// repository (seed dirs, worktrees under .git) where discovery from
// the working directory would misfire.
func (c *Client) AddAllToIndex(ctx context.Context, workDir, indexFile string) error {
	env := append(indexEnv(indexFile), "GIT_WORK_TREE="+workDir, "GIT_DIR="+c.gitDir)
	_, err := c.run(ctx, workDir, env, "add", "-A", ".")
	return err
}

// WriteTree writes the isolated index out as a tree object.
func (c *Client) WriteTree(ctx context.Context, indexFile string) (string, error) {
	out, err := c.run(ctx, c.repoRoot, indexEnv(indexFile), "write-tree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitTree creates a commit object for tree with the given parents.
// Identity falls back to a fixed sync author when git has none
// configured, so sync works in minimal environments.
func (c *Client) CommitTree(ctx context.Context, tree, message string, parents ...string) (string, error) {
	args := []string{"-c", "user.name=tbd-sync", "-c", "user.email=tbd-sync@localhost", "commit-tree", tree, "-m", message}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	out, err := c.run(ctx, c.repoRoot, nil, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UpdateRef points a branch ref at a commit, with compare-and-swap
// semantics when oldValue is non-empty.
func (c *Client) UpdateRef(ctx context.Context, ref, newValue, oldValue string) error {
	args := []string{"update-ref", ref, newValue}
	if oldValue != "" {
		args = append(args, oldValue)
	}
	_, err := c.run(ctx, c.repoRoot, nil, args...)
	return err
}

// StatusPorcelain returns `git status --porcelain` output for dir.
func (c *Client) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, nil, "status", "--porcelain")
}

// HasChanges reports whether dir has uncommitted changes.
func (c *Client) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := c.StatusPorcelain(ctx, dir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ResetHard aligns a worktree checkout (its files and its own index,
// never the user's) with ref.
func (c *Client) ResetHard(ctx context.Context, worktreeDir, ref string) error {
	_, err := c.run(ctx, worktreeDir, nil, "reset", "--hard", ref)
	return err
}

// CheckoutBranch switches the worktree at dir to branch.
func (c *Client) CheckoutBranch(ctx context.Context, dir, branch string) error {
	_, err := c.run(ctx, dir, nil, "checkout", branch)
	return err
}

// EmptyTreeHash is git's well-known empty tree object, useful as a
// diff base when two histories share no ancestor.
const EmptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
