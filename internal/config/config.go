// Package config loads tbd configuration.
//
// Precedence: TBD_* environment variables, then .tbd/config.yml at the
// repository root, then defaults. The config file is version
// controlled and shared across clones; per-machine state never lives
// here (see the store's local state file).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys.
const (
	KeySyncBranch = "sync-branch"
	KeyPrefix     = "prefix"
	KeyRemote     = "remote"
	KeyGitTimeout = "git-timeout"
	KeyNoPush     = "no-push"
)

// Defaults.
const (
	DefaultSyncBranch = "tbd-sync"
	DefaultPrefix     = "tbd"
	DefaultRemote     = "origin"
	DefaultGitTimeout = 60 * time.Second
)

// ConfigDirName is the directory holding the config file, relative to
// the repository root.
const ConfigDirName = ".tbd"

// ConfigFileName is the config file name inside ConfigDirName.
const ConfigFileName = "config.yml"

// branchNamePattern validates git branch names per git-check-ref-format.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._/-]*[a-zA-Z0-9])?$`)

// Config is the resolved tbd configuration.
type Config struct {
	SyncBranch string
	Prefix     string
	Remote     string
	GitTimeout time.Duration
	NoPush     bool
}

// Load reads configuration for the repository rooted at repoRoot.
// A missing config file yields defaults.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(repoRoot, ConfigDirName, ConfigFileName))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TBD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeySyncBranch, DefaultSyncBranch)
	v.SetDefault(KeyPrefix, DefaultPrefix)
	v.SetDefault(KeyRemote, DefaultRemote)
	v.SetDefault(KeyGitTimeout, DefaultGitTimeout.String())
	v.SetDefault(KeyNoPush, false)

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(underlying(err)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		SyncBranch: v.GetString(KeySyncBranch),
		Prefix:     v.GetString(KeyPrefix),
		Remote:     v.GetString(KeyRemote),
		GitTimeout: v.GetDuration(KeyGitTimeout),
		NoPush:     v.GetBool(KeyNoPush),
	}
	if cfg.GitTimeout <= 0 {
		cfg.GitTimeout = DefaultGitTimeout
	}
	if err := ValidateBranchName(cfg.SyncBranch); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeySyncBranch, err)
	}
	if err := ValidatePrefix(cfg.Prefix); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyPrefix, err)
	}
	return cfg, nil
}

// WriteDefault writes an initial config file. Fails if one exists.
func WriteDefault(repoRoot, prefix, syncBranch string) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if syncBranch == "" {
		syncBranch = DefaultSyncBranch
	}
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	if err := ValidateBranchName(syncBranch); err != nil {
		return err
	}

	dir := filepath.Join(repoRoot, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	content := fmt.Sprintf("prefix: %s\nremote: %s\nsync-branch: %s\n", prefix, DefaultRemote, syncBranch)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ValidateBranchName checks a branch name against git ref rules.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("branch name too long (max 255 characters)")
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("invalid branch name %q: must start and end with alphanumeric, may contain .-_/ in the middle", name)
	}
	if name == "HEAD" || strings.Contains(name, "..") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// ValidatePrefix checks the project display prefix.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix must not be empty")
	}
	for _, c := range prefix {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return fmt.Errorf("invalid prefix %q: lowercase alphanumeric only", prefix)
		}
	}
	return nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
