// Command tbd is a git-native issue tracker: issues live as files on a
// dedicated sync branch and follow the repository wherever it is
// cloned.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/gitx"
	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/worktree"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	dataDirFlag string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "tbd",
	Short: "Git-native issue tracking",
	Long: `tbd stores issues as files on a dedicated git branch and syncs them
through your existing remote. No server, no database: clone the repo,
get the issues.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			debug.SetVerbose(true)
		}
		if quietFlag {
			debug.SetQuiet(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Operate on an explicit dataset directory instead of the sync worktree")
}

// env is the per-invocation wiring: git client, config, worktree
// manager.
type env struct {
	git *gitx.Client
	cfg *config.Config
	wt  *worktree.Manager
}

// newEnv wires everything up from the current directory.
func newEnv() (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	// Config needs the repo root, so a throwaway client resolves it
	// first with the default timeout.
	probe, err := gitx.NewClient(cwd, 0)
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}
	cfg, err := config.Load(probe.RepoRoot())
	if err != nil {
		return nil, err
	}
	git, err := gitx.NewClient(cwd, cfg.GitTimeout)
	if err != nil {
		return nil, err
	}
	wt := worktree.NewManager(git, cfg.SyncBranch, cfg.Remote)
	wt.InitDataset = func(dir string) error {
		return dataset.Init(dir, cfg.Prefix)
	}
	return &env{git: git, cfg: cfg, wt: wt}, nil
}

// openStore resolves the dataset strictly; an unusable worktree
// surfaces the doctor hint. --data-dir bypasses worktree resolution
// and opens the named directory directly.
func (e *env) openStore(ctx context.Context) (*store.Store, error) {
	if dataDirFlag != "" {
		return store.OpenAt(dataDirFlag, e.cfg)
	}
	return store.Open(ctx, e.wt, e.cfg)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fatal(err)
	}
}
