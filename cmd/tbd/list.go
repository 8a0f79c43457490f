package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/types"
)

var (
	listStatus   string
	listKind     string
	listAssignee string
	listLabel    string
	listAll      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Long:  `Lists open issues by default; --all includes closed ones.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}

		filter := store.ListFilter{
			Status:   types.Status(listStatus),
			Kind:     types.Kind(listKind),
			Assignee: listAssignee,
			Label:    listLabel,
		}
		issues, err := s.ListIssues(filter)
		if err != nil {
			fatal(err)
		}
		if listStatus == "" && !listAll {
			open := issues[:0]
			for _, issue := range issues {
				if !issue.Status.IsTerminal() {
					open = append(open, issue)
				}
			}
			issues = open
		}

		if jsonOutput {
			outputJSON(issues)
			return
		}
		for _, issue := range issues {
			marker := " "
			if issue.Status.IsTerminal() {
				marker = "x"
			}
			fmt.Printf("[%s] %-10s P%d %-11s %s\n", marker, issue.DisplayID, issue.Priority, issue.Status, issue.Title)
		}
	},
}

func init() {
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status")
	listCmd.Flags().StringVarP(&listKind, "kind", "k", "", "Filter by kind")
	listCmd.Flags().StringVarP(&listAssignee, "assignee", "a", "", "Filter by assignee")
	listCmd.Flags().StringVarP(&listLabel, "label", "l", "", "Filter by label")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include closed issues")
	rootCmd.AddCommand(listCmd)
}
