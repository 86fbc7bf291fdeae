package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/evalgo-org/couchview/designdoc"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "inspect registered design documents and views",
}

var viewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list the design documents currently registered",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db, closer, err := openDatabase(context.Background(), cfg)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer closer()

		docs := make(map[string]interface{})
		for _, id := range designdoc.List(db) {
			doc, ok := designdoc.Get(db, id)
			if !ok {
				continue
			}
			names := make([]string, 0, len(doc.Views))
			for name := range doc.Views {
				names = append(names, name)
			}
			docs[id] = map[string]interface{}{
				"version": doc.Version,
				"views":   names,
			}
		}
		printJSON(docs)
	},
}

func init() {
	viewsCmd.AddCommand(viewsListCmd)
}
