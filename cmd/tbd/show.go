package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/types"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one issue in full",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}
		issue, err := s.GetIssue(args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(issue)
			return
		}
		printIssue(issue)
	},
}

func printIssue(issue *types.Issue) {
	fmt.Printf("%s  %s\n", issue.DisplayID, issue.Title)
	fmt.Printf("  id:       %s\n", issue.ID)
	fmt.Printf("  kind:     %s\n", issue.Kind)
	fmt.Printf("  status:   %s\n", issue.Status)
	fmt.Printf("  priority: P%d\n", issue.Priority)
	if issue.Assignee != "" {
		fmt.Printf("  assignee: %s\n", issue.Assignee)
	}
	if len(issue.Labels) > 0 {
		fmt.Printf("  labels:   %s\n", strings.Join(issue.Labels, ", "))
	}
	if issue.ParentID != "" {
		fmt.Printf("  parent:   %s\n", issue.ParentID)
	}
	for _, dep := range issue.Dependencies {
		fmt.Printf("  %s:   %s\n", dep.Type, dep.TargetID)
	}
	fmt.Printf("  created:  %s", codec.FormatTime(issue.CreatedAt))
	if issue.CreatedBy != "" {
		fmt.Printf(" by %s", issue.CreatedBy)
	}
	fmt.Println()
	fmt.Printf("  updated:  %s (v%d)\n", codec.FormatTime(issue.UpdatedAt), issue.Version)
	if issue.ClosedAt != nil {
		fmt.Printf("  closed:   %s", codec.FormatTime(*issue.ClosedAt))
		if issue.CloseReason != "" {
			fmt.Printf(" (%s)", issue.CloseReason)
		}
		fmt.Println()
	}
	if issue.Description != "" {
		fmt.Printf("\n%s\n", issue.Description)
	}
	if issue.Notes != "" {
		fmt.Printf("\nnotes:\n%s\n", issue.Notes)
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
}
