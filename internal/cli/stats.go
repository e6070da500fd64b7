package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Log  string
	Kind string
}

type CollectionResult struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
	NextID    int64  `json:"next_id"`
	Inserts   uint64 `json:"inserts"`
	Updates   uint64 `json:"updates"`
	Deletes   uint64 `json:"deletes"`
}

type StatsResult struct {
	Log          string             `json:"log"`
	Transactions int                `json:"transactions"`
	Documents    int                `json:"documents"`
	Misses       int                `json:"misses"`
	Renumbered   int                `json:"renumbered"`
	Collections  []CollectionResult `json:"collections"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Load a transaction log and report per-collection statistics",
		Long: `Replay a transaction log into an empty database and report what it contains.

Examples:
  memdb stats --log ./data/transactions.log
  memdb stats --log ./data/transactions.bolt --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}
	addLogFlags(cmd, &opts.Log, &opts.Kind)
	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	db, rs, err := loadLog(context.Background(), opts.RootOptions, opts.Log, opts.Kind, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer db.Close()

	dbs := db.Stats()
	result := StatsResult{
		Log:          opts.Log,
		Transactions: rs.Transactions,
		Documents:    dbs.Documents(),
		Misses:       rs.Misses,
		Renumbered:   rs.Renumbered,
		Collections:  make([]CollectionResult, 0, len(dbs.Collections)),
	}
	for _, cs := range dbs.Collections {
		result.Collections = append(result.Collections, CollectionResult{
			Name:      cs.Name,
			Documents: cs.Documents,
			NextID:    cs.NextID,
			Inserts:   cs.Inserts,
			Updates:   cs.Updates,
			Deletes:   cs.Deletes,
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d transactions, %d documents in %d collections\n", result.Log, result.Transactions, result.Documents, len(result.Collections))
	if result.Misses > 0 || result.Renumbered > 0 {
		fmt.Fprintf(w, "warning: %d misses, %d renumbered inserts\n", result.Misses, result.Renumbered)
	}
	if len(result.Collections) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%-24s %10s %10s %10s %10s %10s\n", "COLLECTION", "DOCS", "NEXT ID", "INSERTS", "UPDATES", "DELETES")
	for _, c := range result.Collections {
		fmt.Fprintf(w, "%-24s %10d %10d %10d %10d %10d\n", c.Name, c.Documents, c.NextID, c.Inserts, c.Updates, c.Deletes)
	}
	return nil
}
