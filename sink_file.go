package memdb

import (
	"fmt"
	"log/slog"

	"github.com/andreyvit/memdb/journal"
)

type FileSinkOptions struct {
	// Sync makes every transaction durable before the mutating call returns.
	Sync bool

	// Disabled creates the sink switched off.
	Disabled bool

	Logger  *slog.Logger
	Verbose bool
}

// FileSink appends every transaction to a file as one JSON object per line.
type FileSink struct {
	sinkState
	j *journal.Journal
}

// NewFileSink opens (creating it and its parent directories if needed) the log
// file at path for appending.
func NewFileSink(path string, opt FileSinkOptions) (*FileSink, error) {
	j := journal.New(path, journal.Options{
		DebugName: "txlog",
		Sync:      opt.Sync,
		Logger:    opt.Logger,
		Verbose:   opt.Verbose,
	})
	if err := j.StartWriting(); err != nil {
		return nil, fmt.Errorf("%w: file sink: %w", ErrIO, err)
	}
	s := &FileSink{j: j}
	s.SetEnabled(!opt.Disabled)
	return s, nil
}

func (s *FileSink) Path() string {
	return s.j.Path()
}

func (s *FileSink) Stats() journal.Stats {
	return s.j.Stats()
}

func (s *FileSink) OnTransaction(txn *Transaction) error {
	if !s.Enabled() {
		return nil
	}
	buf := getLineBuf()
	defer func() { releaseLineBuf(buf) }()

	buf, err := JSON.Encode(buf, txn)
	if err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	if err := s.j.WriteRecord(buf); err != nil {
		return fmt.Errorf("%w: file sink: %w", ErrIO, err)
	}
	return nil
}

// Commit makes every transaction written so far durable.
func (s *FileSink) Commit() error {
	if err := s.j.Commit(); err != nil {
		return fmt.Errorf("%w: file sink: %w", ErrIO, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	if err := s.j.FinishWriting(); err != nil {
		return fmt.Errorf("%w: file sink: %w", ErrIO, err)
	}
	return nil
}
