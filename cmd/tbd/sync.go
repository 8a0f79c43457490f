package main

import (
	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/gitsync"
)

var (
	syncPullOnly bool
	syncNoPush   bool
	syncFix      bool
	syncMessage  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Commit, push, and reconcile the issue dataset",
	Long: `Commits local issue changes to the sync branch, pushes them, and
merges any concurrent changes from the remote. Conflicting edits are
resolved field by field; every value that loses a merge is preserved
in the attic.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		engine := gitsync.NewEngine(e.git, e.wt, e.cfg)
		res, err := engine.Sync(cmd.Context(), gitsync.Options{
			PullOnly: syncPullOnly,
			NoPush:   syncNoPush,
			Fix:      syncFix,
			Message:  syncMessage,
		})
		if err != nil {
			fatal(err)
		}

		if jsonOutput {
			outputJSON(res)
			return
		}
		switch {
		case res.MergeCommits > 0:
			debug.PrintNormal("Synced: merged %d concurrent change set(s), %d value(s) archived to attic\n",
				res.MergeCommits, res.AtticEntries)
		case res.Pushed && res.Committed:
			debug.PrintNormal("Synced: pushed local changes\n")
		case res.Pulled:
			debug.PrintNormal("Synced: pulled remote changes\n")
		case res.Committed:
			debug.PrintNormal("Committed local changes (not pushed)\n")
		default:
			debug.PrintNormal("Already in sync\n")
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "Integrate remote changes without pushing")
	syncCmd.Flags().BoolVar(&syncNoPush, "no-push", false, "Commit locally, skip all remote traffic")
	syncCmd.Flags().BoolVar(&syncFix, "fix", false, "Repair an unhealthy sync worktree before syncing")
	syncCmd.Flags().StringVarP(&syncMessage, "message", "m", "", "Sync commit message")
	rootCmd.AddCommand(syncCmd)
}
