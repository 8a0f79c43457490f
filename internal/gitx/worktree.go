package gitx

import (
	"context"
	"strings"
)

// WorktreeInfo describes one entry from the worktree registry.
type WorktreeInfo struct {
	Path     string
	Head     string
	Branch   string
	Prunable bool
}

// WorktreeList parses `git worktree list --porcelain`.
func (c *Client) WorktreeList(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := c.run(ctx, c.repoRoot, nil, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var infos []WorktreeInfo
	var cur *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				infos = append(infos, *cur)
			}
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && cur != nil:
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case strings.HasPrefix(line, "prunable") && cur != nil:
			cur.Prunable = true
		case line == "" && cur != nil:
			infos = append(infos, *cur)
			cur = nil
		}
	}
	if cur != nil {
		infos = append(infos, *cur)
	}
	return infos, nil
}

// WorktreeAdd creates a worktree for an existing branch at path.
func (c *Client) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := c.run(ctx, c.repoRoot, nil, "worktree", "add", path, branch)
	return err
}

// WorktreeAddTracking creates a worktree with a new local branch
// tracking the given remote ref.
func (c *Client) WorktreeAddTracking(ctx context.Context, path, branch, remoteRef string) error {
	_, err := c.run(ctx, c.repoRoot, nil, "worktree", "add", "-b", branch, path, remoteRef)
	return err
}

// WorktreeRemove removes a worktree registration and its directory.
func (c *Client) WorktreeRemove(ctx context.Context, path string) error {
	_, err := c.run(ctx, c.repoRoot, nil, "worktree", "remove", "--force", path)
	return err
}

// WorktreePrune drops stale worktree registry entries.
func (c *Client) WorktreePrune(ctx context.Context) error {
	_, err := c.run(ctx, c.repoRoot, nil, "worktree", "prune")
	return err
}
