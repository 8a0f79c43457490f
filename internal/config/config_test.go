package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncBranch != DefaultSyncBranch {
		t.Errorf("SyncBranch = %q, want %q", cfg.SyncBranch, DefaultSyncBranch)
	}
	if cfg.Prefix != DefaultPrefix {
		t.Errorf("Prefix = %q, want %q", cfg.Prefix, DefaultPrefix)
	}
	if cfg.Remote != DefaultRemote {
		t.Errorf("Remote = %q, want %q", cfg.Remote, DefaultRemote)
	}
	if cfg.GitTimeout != DefaultGitTimeout {
		t.Errorf("GitTimeout = %v, want %v", cfg.GitTimeout, DefaultGitTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "prefix: myproj\nsync-branch: issues-sync\ngit-timeout: 30s\nno-push: true\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Prefix != "myproj" {
		t.Errorf("Prefix = %q, want myproj", cfg.Prefix)
	}
	if cfg.SyncBranch != "issues-sync" {
		t.Errorf("SyncBranch = %q, want issues-sync", cfg.SyncBranch)
	}
	if cfg.GitTimeout != 30*time.Second {
		t.Errorf("GitTimeout = %v, want 30s", cfg.GitTimeout)
	}
	if !cfg.NoPush {
		t.Error("NoPush should be true")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TBD_SYNC_BRANCH", "env-branch")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncBranch != "env-branch" {
		t.Errorf("SyncBranch = %q, want env-branch (env must win)", cfg.SyncBranch)
	}
}

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"tbd-sync", false},
		{"issues/sync", false},
		{"b", false},
		{"", true},
		{"HEAD", true},
		{"a..b", true},
		{"-leading", true},
		{"trailing-", true},
	}
	for _, tt := range tests {
		err := ValidateBranchName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateBranchName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	root := t.TempDir()
	if err := WriteDefault(root, "proj1", ""); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Prefix != "proj1" {
		t.Errorf("Prefix = %q, want proj1", cfg.Prefix)
	}
	// Second write must fail rather than clobber.
	if err := WriteDefault(root, "other", ""); err == nil {
		t.Error("WriteDefault should refuse to overwrite an existing config")
	}
}
