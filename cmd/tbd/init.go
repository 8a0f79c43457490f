package main

import (
	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/debug"
)

var (
	initPrefix string
	initBranch string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize issue tracking in this repository",
	Long: `Writes .tbd/config.yml, creates the sync branch with an empty
dataset, and attaches the hidden worktree that all issue operations go
through. Safe to re-run only via 'tbd doctor --fix'.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		probe, err := newEnv()
		if err != nil {
			fatal(err)
		}
		if err := config.WriteDefault(probe.git.RepoRoot(), initPrefix, initBranch); err != nil {
			fatal(err)
		}

		// Re-wire with the config that was just written.
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		result, err := e.wt.Repair(cmd.Context())
		if err != nil {
			fatal(err)
		}
		for _, action := range result.Actions {
			debug.Logf("init: %s", action)
		}
		debug.PrintNormal("Initialized issue tracking on branch %s (prefix %s)\n",
			e.cfg.SyncBranch, e.cfg.Prefix)
	},
}

func init() {
	initCmd.Flags().StringVar(&initPrefix, "prefix", "", "Display ID prefix (default \"tbd\")")
	initCmd.Flags().StringVar(&initBranch, "branch", "", "Sync branch name (default \"tbd-sync\")")
	rootCmd.AddCommand(initCmd)
}
