package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/memdb"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the memdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memdb",
		Short: "memdb - inspect and maintain in-memory document store logs",
		Long:  "Tools for the transaction logs of an embedded in-memory document store: load, inspect, verify, convert and benchmark.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))

	return cmd
}

// newLogger sends diagnostics to the command's stderr: warnings and errors
// normally, everything with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Log kinds accepted by --kind.
const (
	kindAuto = "auto"
	kindFile = "file"
	kindBolt = "bolt"
)

// logKind resolves "auto" by file extension: .bolt and .db are bolt logs,
// anything else is a JSON-lines log.
func logKind(path, kind string) (string, error) {
	switch kind {
	case kindFile, kindBolt:
		return kind, nil
	case kindAuto, "":
		switch strings.ToLower(filepath.Ext(path)) {
		case ".bolt", ".db":
			return kindBolt, nil
		default:
			return kindFile, nil
		}
	default:
		return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid log kind %q: must be one of auto, file, bolt", kind))
	}
}

func openSource(path, kind string, logger *slog.Logger) (memdb.TransactionSource, error) {
	kind, err := logKind(path, kind)
	if err != nil {
		return nil, err
	}
	var src memdb.TransactionSource
	if kind == kindBolt {
		src, err = memdb.OpenBoltSource(path)
	} else {
		src, err = memdb.OpenFileSource(path, logger)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	return src, nil
}

// loadLog replays the log at path into a fresh database of schemaless
// documents.
func loadLog(ctx context.Context, opts *RootOptions, path, kind string, stderr io.Writer) (*memdb.DB, memdb.RestoreStats, error) {
	logger := newLogger(opts, stderr)
	db, err := memdb.Open("memdb", memdb.Options{Logger: logger, Verbose: opts.Verbose})
	if err != nil {
		return nil, memdb.RestoreStats{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	src, err := openSource(path, kind, logger)
	if err != nil {
		db.Close()
		return nil, memdb.RestoreStats{}, err
	}
	defer src.Close()

	stats, err := memdb.NewRestorer(db, memdb.RestoreOptions{Resolve: memdb.ResolveAnyDocuments}).Replay(ctx, src)
	if err != nil {
		db.Close()
		return nil, stats, WrapExitError(ExitCommandError, "failed to load log", err)
	}
	return db, stats, nil
}

func addLogFlags(cmd *cobra.Command, path, kind *string) {
	cmd.Flags().StringVar(path, "log", "", "path to the transaction log (required)")
	_ = cmd.MarkFlagRequired("log")
	cmd.Flags().StringVar(kind, "kind", kindAuto, "log kind (auto|file|bolt)")
}
