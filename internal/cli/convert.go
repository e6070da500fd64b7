package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreyvit/memdb"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	From     string
	FromKind string
	To       string
	ToKind   string
	Append   bool
}

type ConvertResult struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Transactions int    `json:"transactions"`
	Documents    int    `json:"documents"`
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy a transaction log into a log of another kind",
		Long: `Copy every transaction from one log to another, in order, converting
between JSON-lines and bolt logs. Documents are copied field by field without
needing the application's document types.

Examples:
  memdb convert --from ./data/transactions.log --to ./data/transactions.bolt
  memdb convert --from ./old.bolt --to ./new.log`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.From, "from", "", "source log (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&opts.FromKind, "from-kind", kindAuto, "source log kind (auto|file|bolt)")
	cmd.Flags().StringVar(&opts.To, "to", "", "destination log (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&opts.ToKind, "to-kind", kindAuto, "destination log kind (auto|file|bolt)")
	cmd.Flags().BoolVar(&opts.Append, "append", false, "append to an existing destination")
	return cmd
}

func runConvert(opts *ConvertOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if !opts.Append {
		if _, err := os.Stat(opts.To); !errors.Is(err, fs.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists, pass --append to add to it", opts.To))
		}
	}
	toKind, err := logKind(opts.To, opts.ToKind)
	if err != nil {
		return err
	}

	src, err := openSource(opts.From, opts.FromKind, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	var sink memdb.Sink
	if toKind == kindBolt {
		sink, err = memdb.NewBoltSink(opts.To, memdb.BoltSinkOptions{Logger: logger, Verbose: opts.Verbose})
	} else {
		sink, err = memdb.NewFileSink(opts.To, memdb.FileSinkOptions{Logger: logger, Verbose: opts.Verbose})
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open destination", err)
	}

	result := ConvertResult{From: opts.From, To: opts.To}
	for {
		et, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			sink.Close()
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: record %d", src, src.Position()), err)
		}
		txn, err := et.Decode()
		if err == nil {
			err = sink.OnTransaction(txn)
		}
		if err != nil {
			sink.Close()
			return WrapExitError(ExitCommandError, fmt.Sprintf("%s: record %d", src, src.Position()), err)
		}
		result.Transactions++
		result.Documents += txn.Len()
	}
	if err := sink.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to close destination", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d transactions, %d documents\n", result.From, result.To, result.Transactions, result.Documents)
	return nil
}
