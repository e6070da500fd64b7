package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/memdb"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Log   string
	Kind  string
	Stats bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the documents a transaction log reconstructs",
		Long: `Replay a transaction log and print every resulting document, collections
in name order and documents in id order.

Examples:
  memdb dump --log ./data/transactions.log
  memdb dump --log ./data/transactions.log --stats
  memdb dump --log ./data/transactions.log --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}
	addLogFlags(cmd, &opts.Log, &opts.Kind)
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "include collection counters")
	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	db, _, err := loadLog(context.Background(), opts.RootOptions, opts.Log, opts.Kind, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer db.Close()

	if opts.Format == "json" {
		result := make(map[string][]*memdb.AnyDocument)
		for _, name := range db.CollectionNames() {
			coll, err := memdb.GetCollection[*memdb.AnyDocument](db, name)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read collection", err)
			}
			result[name] = coll.All()
		}
		return writeJSON(cmd.OutOrStdout(), result)
	}

	flags := memdb.DumpHeaders | memdb.DumpRows
	if opts.Stats {
		flags |= memdb.DumpStats
	}
	fmt.Fprint(cmd.OutOrStdout(), db.Dump(flags))
	return nil
}
