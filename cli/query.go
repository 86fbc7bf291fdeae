package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evalgo-org/couchview/view"
)

var (
	queryViewName    string
	queryKey         string
	queryStartKey    string
	queryEndKey      string
	queryDescending  bool
	queryLimit       int
	querySkip        int
	queryGroupLevel  int
	queryGroup       bool
	queryReduce      bool
	queryNoReduce    bool
	queryIncludeDocs bool
	queryStale       bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "run a range, group or reduce query against a view",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db, closer, err := openDatabase(context.Background(), cfg)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer closer()

		opts, err := buildQueryOptions()
		if err != nil {
			cobra.CheckErr(err)
		}

		result, err := db.Query(context.Background(), queryViewName, opts)
		if err != nil {
			cobra.CheckErr(err)
		}
		printJSON(result)
	},
}

func buildQueryOptions() (view.QueryOptions, error) {
	opts := view.QueryOptions{
		Descending:  queryDescending,
		Limit:       queryLimit,
		Skip:        querySkip,
		Group:       queryGroup,
		GroupLevel:  queryGroupLevel,
		IncludeDocs: queryIncludeDocs,
		Stale:       queryStale,
	}

	if queryKey != "" {
		k, err := view.ParseJSON([]byte(queryKey))
		if err != nil {
			return opts, fmt.Errorf("parsing --key: %w", err)
		}
		opts.Key = &k
	}
	if queryStartKey != "" {
		k, err := view.ParseJSON([]byte(queryStartKey))
		if err != nil {
			return opts, fmt.Errorf("parsing --start-key: %w", err)
		}
		opts.StartKey = &k
	}
	if queryEndKey != "" {
		k, err := view.ParseJSON([]byte(queryEndKey))
		if err != nil {
			return opts, fmt.Errorf("parsing --end-key: %w", err)
		}
		opts.EndKey = &k
		opts.InclusiveEnd = true
	}

	switch {
	case queryReduce:
		v := true
		opts.Reduce = &v
	case queryNoReduce:
		v := false
		opts.Reduce = &v
	}

	return opts, nil
}

func init() {
	queryCmd.Flags().StringVar(&queryViewName, "view", "", "view name to query (e.g. builtin.by_type)")
	queryCmd.MarkFlagRequired("view")

	queryCmd.Flags().StringVar(&queryKey, "key", "", "exact key to match, as JSON")
	queryCmd.Flags().StringVar(&queryStartKey, "start-key", "", "range start key, as JSON")
	queryCmd.Flags().StringVar(&queryEndKey, "end-key", "", "range end key, as JSON")
	queryCmd.Flags().BoolVar(&queryDescending, "descending", false, "reverse the scan order")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum rows to return, 0 for unbounded")
	queryCmd.Flags().IntVar(&querySkip, "skip", 0, "rows to skip before the limit window")
	queryCmd.Flags().BoolVar(&queryGroup, "group", false, "group reduced rows by key")
	queryCmd.Flags().IntVar(&queryGroupLevel, "group-level", 0, "with --group, group by a key prefix of this array depth")
	queryCmd.Flags().BoolVar(&queryReduce, "reduce", false, "force reduce on, if the view has a reduce function")
	queryCmd.Flags().BoolVar(&queryNoReduce, "no-reduce", false, "force reduce off, returning map-phase rows")
	queryCmd.Flags().BoolVar(&queryIncludeDocs, "include-docs", false, "join each row's winning document body")
	queryCmd.Flags().BoolVar(&queryStale, "stale", false, "serve from the index without refreshing it first")
}
