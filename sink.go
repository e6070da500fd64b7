package memdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink is a listener that records transactions somewhere durable or visible.
// A disabled sink accepts and discards transactions.
type Sink interface {
	Listener
	Enabled() bool
	SetEnabled(enabled bool)
	Close() error
}

// sinkState is embedded by sinks; the zero value is enabled.
type sinkState struct {
	disabled atomic.Bool
}

func (s *sinkState) Enabled() bool {
	return !s.disabled.Load()
}

func (s *sinkState) SetEnabled(enabled bool) {
	s.disabled.Store(!enabled)
}

// DebugSink writes every transaction as a JSON line, either to a writer or,
// when there is none, as a debug-level log record.
type DebugSink struct {
	sinkState
	logger *slog.Logger

	mu sync.Mutex
	w  io.Writer
}

func NewDebugSink(w io.Writer, logger *slog.Logger) *DebugSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugSink{w: w, logger: logger}
}

func (s *DebugSink) OnTransaction(txn *Transaction) error {
	if !s.Enabled() {
		return nil
	}
	buf := getLineBuf()
	defer func() { releaseLineBuf(buf) }()

	buf, err := JSON.Encode(buf, txn)
	if err != nil {
		return fmt.Errorf("debug sink: %w", err)
	}
	if s.w == nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: transaction", slog.String("coll", txn.Collection()), slog.String("op", txn.Op().String()), slog.String("txn", string(buf)))
		return nil
	}

	buf = append(buf, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("debug sink: %w", err)
	}
	return nil
}

func (s *DebugSink) Close() error {
	return nil
}
