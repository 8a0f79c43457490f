package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/dataset"
	"github.com/jlevy/tbd/internal/debug"
	"github.com/jlevy/tbd/internal/worktree"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of the issue dataset",
	Long: `Reports on the sync worktree, branch, and dataset. With --fix,
repairs what it can: prunes stale worktree registrations, backs up and
recreates corrupted checkouts, and recreates missing ones.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		ctx := cmd.Context()

		health, err := e.wt.CheckHealth(ctx)
		if err != nil {
			fatal(err)
		}
		report := doctorReport{
			Branch:         e.cfg.SyncBranch,
			WorktreeStatus: string(health.Status),
			WorktreeDetail: health.Details,
		}

		if health.Status != worktree.StatusValid && doctorFix {
			result, err := e.wt.Repair(ctx)
			if err != nil {
				fatal(err)
			}
			report.RepairActions = result.Actions
			report.BackupPath = result.BackupPath
			health, err = e.wt.CheckHealth(ctx)
			if err != nil {
				fatal(err)
			}
			report.WorktreeStatus = string(health.Status)
			report.WorktreeDetail = health.Details
		}

		if health.Status == worktree.StatusValid {
			path := e.wt.Path()
			if meta, err := dataset.ReadMetadata(path); err != nil {
				report.DatasetError = err.Error()
			} else {
				report.Prefix = meta.Prefix
				report.Schema = meta.Schema
			}
			if issues, err := codec.ReadAllIssues(dataset.IssuesDir(path)); err != nil {
				report.DatasetError = err.Error()
			} else {
				report.IssueCount = len(issues)
			}
			if st, err := e.wt.LoadState(); err == nil && !st.LastSyncAt.IsZero() {
				report.LastSync = codec.FormatTime(st.LastSyncAt)
			}
		}

		if jsonOutput {
			outputJSON(report)
			return
		}
		report.print()
		if health.Status != worktree.StatusValid && !doctorFix {
			debug.PrintNormal("\nRun 'tbd doctor --fix' to repair.\n")
		}
	},
}

type doctorReport struct {
	Branch         string   `json:"branch"`
	WorktreeStatus string   `json:"worktree_status"`
	WorktreeDetail string   `json:"worktree_detail,omitempty"`
	Prefix         string   `json:"prefix,omitempty"`
	Schema         int      `json:"schema,omitempty"`
	IssueCount     int      `json:"issue_count"`
	LastSync       string   `json:"last_sync,omitempty"`
	DatasetError   string   `json:"dataset_error,omitempty"`
	RepairActions  []string `json:"repair_actions,omitempty"`
	BackupPath     string   `json:"backup_path,omitempty"`
}

func (r doctorReport) print() {
	fmt.Printf("sync branch:  %s\n", r.Branch)
	fmt.Printf("worktree:     %s", r.WorktreeStatus)
	if r.WorktreeDetail != "" {
		fmt.Printf(" (%s)", r.WorktreeDetail)
	}
	fmt.Println()
	for _, action := range r.RepairActions {
		fmt.Printf("repaired:     %s\n", action)
	}
	if r.BackupPath != "" {
		fmt.Printf("backup:       %s\n", r.BackupPath)
	}
	if r.Prefix != "" {
		fmt.Printf("dataset:      prefix %s, schema %d, %d issue(s)\n", r.Prefix, r.Schema, r.IssueCount)
	}
	if r.LastSync != "" {
		fmt.Printf("last sync:    %s\n", r.LastSync)
	}
	if r.DatasetError != "" {
		fmt.Printf("dataset err:  %s\n", r.DatasetError)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Repair problems instead of just reporting them")
	rootCmd.AddCommand(doctorCmd)
}
