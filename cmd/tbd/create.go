package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/types"
)

var (
	createKind        string
	createDescription string
	createNotes       string
	createPriority    int
	createAssignee    string
	createLabels      []string
	createParent      string
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new issue",
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

		req := store.CreateRequest{
			Kind:        types.Kind(createKind),
			Title:       strings.Join(args, " "),
			Description: createDescription,
			Notes:       createNotes,
			Assignee:    createAssignee,
			Labels:      createLabels,
			CreatedBy:   gitUserName(e),
		}
		if cmd.Flags().Changed("priority") {
			req.Priority = &createPriority
		}
		if createParent != "" {
			parent, err := s.GetIssue(createParent)
			if err != nil {
				fatal(err)
			}
			req.ParentID = parent.ID
		}

		issue, err := s.CreateIssue(req)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(issue)
			return
		}
		debug.PrintNormal("Created %s: %s\n", issue.DisplayID, issue.Title)
	},
}

// gitUserName best-efforts the author identity from git config.
func gitUserName(e *env) string {
	name, err := e.git.ConfigValue(rootCtx, "user.name")
	if err != nil {
		return ""
	}
	return name
}

func init() {
	createCmd.Flags().StringVarP(&createKind, "kind", "k", string(types.KindTask), "Issue kind (bug|feature|task|epic|chore)")
	createCmd.Flags().StringVarP(&createDescription, "description", "d", "", "Description text")
	createCmd.Flags().StringVar(&createNotes, "notes", "", "Notes text")
	createCmd.Flags().IntVarP(&createPriority, "priority", "p", store.DefaultPriority, "Priority (0 highest .. 4 lowest)")
	createCmd.Flags().StringVarP(&createAssignee, "assignee", "a", "", "Assignee")
	createCmd.Flags().StringSliceVarP(&createLabels, "label", "l", nil, "Label (repeatable)")
	createCmd.Flags().StringVar(&createParent, "parent", "", "Parent issue reference")
	rootCmd.AddCommand(createCmd)
}
