package main

import (
	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/types"
)

var (
	updateTitle        string
	updateDescription  string
	updateNotes        string
	updatePriority     int
	updateAssignee     string
	updateStatus       string
	updateParent       string
	updateAddLabels    []string
	updateRemoveLabels []string
	updateBlocks       []string
	updateUnblocks     []string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of an issue",
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

		req := store.UpdateRequest{
			AddLabels:    updateAddLabels,
			RemoveLabels: updateRemoveLabels,
		}
		flags := cmd.Flags()
		if flags.Changed("title") {
			req.Title = &updateTitle
		}
		if flags.Changed("description") {
			req.Description = &updateDescription
		}
		if flags.Changed("notes") {
			req.Notes = &updateNotes
		}
		if flags.Changed("priority") {
			req.Priority = &updatePriority
		}
		if flags.Changed("assignee") {
			req.Assignee = &updateAssignee
		}
		if flags.Changed("parent") {
			parentID := ""
			if updateParent != "" {
				parent, err := s.GetIssue(updateParent)
				if err != nil {
					fatal(err)
				}
				parentID = parent.ID
			}
			req.ParentID = &parentID
		}
		for _, ref := range updateBlocks {
			target, err := s.Resolve(ref)
			if err != nil {
				fatal(err)
			}
			req.AddDeps = append(req.AddDeps, types.Dependency{Type: types.DepBlocks, TargetID: target})
		}
		for _, ref := range updateUnblocks {
			target, err := s.Resolve(ref)
			if err != nil {
				fatal(err)
			}
			req.RemoveDeps = append(req.RemoveDeps, types.Dependency{Type: types.DepBlocks, TargetID: target})
		}

		issue, err := s.UpdateIssue(args[0], req)
		if err != nil {
			fatal(err)
		}
		if flags.Changed("status") {
			issue, err = s.SetStatus(args[0], types.Status(updateStatus))
			if err != nil {
				fatal(err)
			}
		}

		if jsonOutput {
			outputJSON(issue)
			return
		}
		debug.PrintNormal("Updated %s (v%d)\n", issue.DisplayID, issue.Version)
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateTitle, "title", "", "New title")
	updateCmd.Flags().StringVarP(&updateDescription, "description", "d", "", "New description")
	updateCmd.Flags().StringVar(&updateNotes, "notes", "", "New notes")
	updateCmd.Flags().IntVarP(&updatePriority, "priority", "p", 0, "New priority (0 highest .. 4 lowest)")
	updateCmd.Flags().StringVarP(&updateAssignee, "assignee", "a", "", "New assignee (empty clears)")
	updateCmd.Flags().StringVarP(&updateStatus, "status", "s", "", "New status (open|in_progress|blocked)")
	updateCmd.Flags().StringVar(&updateParent, "parent", "", "New parent reference (empty clears)")
	updateCmd.Flags().StringSliceVar(&updateAddLabels, "add-label", nil, "Add label (repeatable)")
	updateCmd.Flags().StringSliceVar(&updateRemoveLabels, "remove-label", nil, "Remove label (repeatable)")
	updateCmd.Flags().StringSliceVar(&updateBlocks, "blocks", nil, "Add blocks dependency on issue (repeatable)")
	updateCmd.Flags().StringSliceVar(&updateUnblocks, "remove-blocks", nil, "Remove blocks dependency (repeatable)")
	rootCmd.AddCommand(updateCmd)
}
