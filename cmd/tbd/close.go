package main

import (
	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/types"
)

var closeReason string

var closeCmd = &cobra.Command{
	Use:   "close <id>...",
	Short: "Close one or more issues",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}

		var closed []*types.Issue
		for _, ref := range args {
			issue, err := s.CloseIssue(ref, closeReason)
			if err != nil {
				fatal(err)
			}
			closed = append(closed, issue)
			debug.PrintNormal("Closed %s: %s\n", issue.DisplayID, issue.Title)
		}
		if jsonOutput {
			outputJSON(closed)
		}
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <id>...",
	Short: "Reopen closed issues",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}

		var reopened []*types.Issue
		for _, ref := range args {
			issue, err := s.ReopenIssue(ref)
			if err != nil {
				fatal(err)
			}
			reopened = append(reopened, issue)
			debug.PrintNormal("Reopened %s: %s\n", issue.DisplayID, issue.Title)
		}
		if jsonOutput {
			outputJSON(reopened)
		}
	},
}

func init() {
	closeCmd.Flags().StringVarP(&closeReason, "reason", "r", "", "Close reason")
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(reopenCmd)
}
