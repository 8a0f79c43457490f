package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jlevy/tbd/internal/attic"
	"github.com/jlevy/tbd/internal/store"
)

var (
	atticField string
	atticSince string
)

var atticCmd = &cobra.Command{
	Use:   "attic",
	Short: "Inspect and restore values discarded during merges",
}

var atticListCmd = &cobra.Command{
	Use:   "list [issue]",
	Short: "List attic entries, newest last",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}

		filter := attic.Filter{Field: atticField}
		if len(args) == 1 {
			id, err := s.Resolve(args[0])
			if err != nil {
				fatal(err)
			}
			filter.EntityID = id
		}
		if atticSince != "" {
			since, err := time.Parse(time.RFC3339, atticSince)
			if err != nil {
				fatal(fmt.Errorf("invalid --since (want RFC3339): %w", err))
			}
			filter.Since = since
		}

		entries, err := attic.NewStore(s.DataDir()).List(filter)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		if len(entries) == 0 {
			fmt.Println("attic is empty")
			return
		}
		for _, entry := range entries {
			// Millisecond precision: this string must resolve in
			// 'attic show' and 'attic restore'.
			fmt.Printf("%s  %s  %-12s  lost %v (from %s)\n",
				entry.Timestamp.Format(time.RFC3339Nano), entry.EntityID,
				entry.Field, entry.LostValue, entry.LoserSource)
		}
	},
}

var atticShowCmd = &cobra.Command{
	Use:   "show <issue> <timestamp>",
	Short: "Show one attic entry in full",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}
		id, ts := resolveAtticRef(s, args[0], args[1])

		entry, err := attic.NewStore(s.DataDir()).Get(id, ts)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(entry)
			return
		}
		data, err := yaml.Marshal(entry)
		if err != nil {
			fatal(err)
		}
		fmt.Print(string(data))
	},
}

var atticRestoreCmd = &cobra.Command{
	Use:   "restore <issue> <timestamp>",
	Short: "Restore a discarded value onto the current issue",
	Long: `Applies the archived value back onto the issue. The value being
overwritten is archived first, so a restore is itself undoable.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}
		id, ts := resolveAtticRef(s, args[0], args[1])

		issue, err := attic.NewStore(s.DataDir()).Restore(id, ts, time.Now())
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(issue)
			return
		}
		fmt.Printf("Restored %s onto %s (now v%d)\n", args[1], issue.DisplayID, issue.Version)
	},
}

func resolveAtticRef(s *store.Store, ref, timestamp string) (string, time.Time) {
	id, err := s.Resolve(ref)
	if err != nil {
		fatal(err)
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		fatal(fmt.Errorf("invalid timestamp (want RFC3339): %w", err))
	}
	return id, ts
}

func init() {
	atticListCmd.Flags().StringVar(&atticField, "field", "", "Only entries for this field")
	atticListCmd.Flags().StringVar(&atticSince, "since", "", "Only entries at or after this RFC3339 time")
	atticCmd.AddCommand(atticListCmd)
	atticCmd.AddCommand(atticShowCmd)
	atticCmd.AddCommand(atticRestoreCmd)
	rootCmd.AddCommand(atticCmd)
}
