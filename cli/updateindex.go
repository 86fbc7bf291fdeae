package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var updateIndexViewName string

var updateIndexCmd = &cobra.Command{
	Use:   "update-index",
	Short: "bring a view's persisted index forward to the document store's current sequence",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db, closer, err := openDatabase(context.Background(), cfg)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer closer()

		report, err := db.UpdateIndex(context.Background(), updateIndexViewName)
		if err != nil {
			cobra.CheckErr(err)
		}

		fmt.Printf("view %q: outcome=%v from=%d to=%d docs_mapped=%d entries_written=%d entries_purged=%d\n",
			updateIndexViewName, report.Outcome, report.FromSequence, report.ToSequence,
			report.DocsMapped, report.EntriesWritten, report.EntriesPurged)
	},
}

func init() {
	updateIndexCmd.Flags().StringVar(&updateIndexViewName, "view", "", "view name to update (e.g. builtin.by_type)")
	updateIndexCmd.MarkFlagRequired("view")
}
