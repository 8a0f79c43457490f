package gitx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a scratch git repository and returns its root.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.name", "tester")
	mustGit(t, dir, "config", "user.email", "tester@example.com")
	return dir
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	root := initRepo(t)
	client, err := NewClient(root, 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, root
}

func TestShowFileReturnsExactBytes(t *testing.T) {
	client, root := newTestClient(t)
	ctx := context.Background()

	content := []byte("id: is-abc\ntitle: \"fix the thing\"\nstatus: open\n")
	if err := os.WriteFile(filepath.Join(root, "is-abc.yml"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, root, "add", "is-abc.yml")
	mustGit(t, root, "commit", "-m", "add issue")

	got, err := client.ShowFile(ctx, "HEAD", "is-abc.yml")
	if err != nil {
		t.Fatalf("ShowFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("ShowFile = %q, want %q", got, content)
	}

	missing, err := client.ShowFile(ctx, "HEAD", "nope.yml")
	if err != nil {
		t.Fatalf("ShowFile for missing path failed: %v", err)
	}
	if missing != nil {
		t.Errorf("ShowFile for missing path = %q, want nil", missing)
	}
}

// Git writes progress and advice messages to stderr. Those must never
// end up in a command's returned output, where a caller like ShowFile
// would mistake them for file content.
func TestRunExcludesStderr(t *testing.T) {
	client, root := newTestClient(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, root, "add", "a.txt")
	mustGit(t, root, "commit", "-m", "initial")
	mustGit(t, root, "branch", "other")

	// "Switched to branch 'other'" goes to stderr.
	out, err := client.run(ctx, root, nil, "checkout", "other")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if strings.Contains(out, "Switched") {
		t.Errorf("stdout contains stderr diagnostics: %q", out)
	}
	if strings.TrimSpace(out) != "" {
		t.Errorf("checkout stdout = %q, want empty", out)
	}
}

func TestCmdErrorCarriesStderr(t *testing.T) {
	client, root := newTestClient(t)
	ctx := context.Background()

	_, err := client.run(ctx, root, nil, "show", "HEAD:absent.yml")
	if err == nil {
		t.Fatal("expected error for unknown path")
	}
	var cmdErr *CmdError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %T, want *CmdError", err)
	}
	if cmdErr.Output == "" {
		t.Error("CmdError.Output should carry git's stderr message")
	}
}
