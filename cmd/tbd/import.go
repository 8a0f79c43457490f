package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jlevy/tbd/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import issues from a beads JSONL export",
	Long: `Reads a beads export (one JSON issue per line) and upserts each
issue into the dataset. Foreign issue numbers are preserved, so bd-42
becomes addressable as <prefix>-42 here. Re-importing a newer export
merges field by field instead of duplicating. Use '-' to read stdin.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			fatal(err)
		}
		s, err := e.openStore(cmd.Context())
		if err != nil {
			fatal(err)
		}

		var reader io.Reader
		if args[0] == "-" {
			reader = os.Stdin
		} else {
			f, err := os.Open(args[0]) // #nosec G304 -- user-supplied import path
			if err != nil {
				fatal(err)
			}
			defer f.Close()
			reader = f
		}

		result, err := importer.New(s).Run(reader)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(result)
			return
		}
		fmt.Printf("Imported: %d created, %d merged, %d skipped, %d dependencies linked\n",
			result.Created, result.Merged, result.Skipped, result.Linked)
		fmt.Println("Run 'tbd sync' to share the imported issues.")
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
