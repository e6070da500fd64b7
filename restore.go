package memdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"sync/atomic"
	"time"
)

type RestoreOptions struct {
	// Resolve is called for a collection that the log names but the database
	// does not have; it is expected to register it. Without Resolve, such a
	// collection stops the restore with ErrNotFound.
	Resolve func(db *DB, name string) error
}

// ResolveAnyDocuments registers unknown collections as collections of
// *AnyDocument, which lets tools load any log without application types.
func ResolveAnyDocuments(db *DB, name string) error {
	_, err := GetCollection[*AnyDocument](db, name)
	return err
}

type RestoreStats struct {
	Transactions int
	Documents    int
	Inserts      int
	Updates      int
	Deletes      int

	// Misses counts updates and deletes of ids that were not present.
	Misses int

	// Renumbered counts inserts that received a different id than the one
	// recorded in the log, which means the log and the database diverged.
	Renumbered int

	Elapsed time.Duration
}

type replayOutcome int

const (
	replayApplied replayOutcome = iota
	replayMissed
	replayRenumbered
)

// Restorer replays logged transactions into a database through the regular
// collection write path, with the database's sinks switched off so that
// replayed transactions are not logged again.
//
// Replay must finish before the database serves other callers.
type Restorer struct {
	db        *DB
	opt       RestoreOptions
	replaying atomic.Bool
}

func NewRestorer(db *DB, opt RestoreOptions) *Restorer {
	return &Restorer{db: db, opt: opt}
}

// Replaying reports whether a replay is in progress.
func (r *Restorer) Replaying() bool {
	return r.replaying.Load()
}

// Replay applies every transaction from src, in order. Logging is disabled for
// the duration and re-enabled when Replay returns, whether or not it succeeds.
func (r *Restorer) Replay(ctx context.Context, src TransactionSource) (stats RestoreStats, err error) {
	if !r.replaying.CompareAndSwap(false, true) {
		return stats, fmt.Errorf("%w: restore of %v already in progress", ErrConflict, r.db)
	}
	defer r.replaying.Store(false)

	r.db.SetLoggingEnabled(false)
	defer r.db.SetLoggingEnabled(true)

	logger := r.db.logger
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	for {
		et, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return stats, &RestoreError{Source: src.String(), Record: src.Position(), Err: err}
		}
		if err := r.apply(et, &stats); err != nil {
			return stats, &RestoreError{Source: src.String(), Record: src.Position(), Collection: et.Collection, Err: err}
		}
		stats.Transactions++
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "memdb: restored",
		slog.String("db", r.db.name),
		slog.String("src", src.String()),
		slog.Int("txns", stats.Transactions),
		slog.Int("docs", stats.Documents),
		slog.Int("misses", stats.Misses),
		slog.Int("renumbered", stats.Renumbered),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

func (r *Restorer) apply(et *EncodedTransaction, stats *RestoreStats) error {
	c, found := r.db.collection(et.Collection)
	if !found && r.opt.Resolve != nil {
		if err := r.opt.Resolve(r.db, et.Collection); err != nil {
			return err
		}
		c, found = r.db.collection(et.Collection)
	}
	if !found {
		return collErrf(et.Collection, 0, ErrNotFound, "collection is not registered")
	}

	for _, data := range et.Documents {
		outcome, err := c.replay(et.Op, data, et.Codec)
		if err != nil {
			return err
		}
		stats.Documents++
		switch et.Op {
		case OpInsert:
			stats.Inserts++
		case OpUpdate:
			stats.Updates++
		case OpDelete:
			stats.Deletes++
		}
		switch outcome {
		case replayMissed:
			stats.Misses++
		case replayRenumbered:
			stats.Renumbered++
		}
	}
	return nil
}

// Restore replays the JSON-lines log at path into db. A missing file is not an
// error: there is simply nothing to restore.
func Restore(ctx context.Context, db *DB, path string, opt RestoreOptions) (RestoreStats, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		db.logger.LogAttrs(ctx, slog.LevelInfo, "memdb: nothing to restore", slog.String("db", db.name), slog.String("path", path))
		return RestoreStats{}, nil
	}
	src, err := OpenFileSource(path, db.logger)
	if err != nil {
		return RestoreStats{}, &RestoreError{Source: path, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}
	defer src.Close()
	return NewRestorer(db, opt).Replay(ctx, src)
}

// RestoreBolt replays a log written by BoltSink. A missing file is not an error.
func RestoreBolt(ctx context.Context, db *DB, path string, opt RestoreOptions) (RestoreStats, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		db.logger.LogAttrs(ctx, slog.LevelInfo, "memdb: nothing to restore", slog.String("db", db.name), slog.String("path", path))
		return RestoreStats{}, nil
	}
	src, err := OpenBoltSource(path)
	if err != nil {
		return RestoreStats{}, &RestoreError{Source: path, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}
	defer src.Close()
	return NewRestorer(db, opt).Replay(ctx, src)
}

func (c *Collection[D]) replay(op Op, data []byte, codec Codec) (replayOutcome, error) {
	if codec == JSON && bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return 0, collErrf(c.name, 0, ErrIO, "null document")
	}
	doc, err := decodeDocument[D](codec, data)
	if err != nil {
		return 0, collErrf(c.name, 0, ErrIO, "%v", err)
	}
	if isNilDocument(doc) {
		return 0, collErrf(c.name, 0, ErrIO, "null document")
	}

	switch op {
	case OpInsert:
		recorded := doc.GetID()
		inserted, err := c.Insert(doc)
		if err != nil {
			return 0, err
		}
		if recorded > 0 && inserted.GetID() != recorded {
			c.logger.LogAttrs(context.Background(), slog.LevelWarn, "memdb: replayed insert renumbered", slog.String("coll", c.name), slog.Int64("logged", recorded), slog.Int64("id", inserted.GetID()))
			return replayRenumbered, nil
		}
		return replayApplied, nil
	case OpUpdate:
		_, found, err := c.Update(doc)
		if err != nil {
			return 0, err
		}
		if !found {
			return replayMissed, nil
		}
		return replayApplied, nil
	case OpDelete:
		found, err := c.Delete(doc.GetID())
		if err != nil {
			return 0, err
		}
		if !found {
			return replayMissed, nil
		}
		return replayApplied, nil
	default:
		return 0, collErrf(c.name, 0, ErrInvalidArgument, "%v", op)
	}
}

func decodeDocument[D any](codec Codec, data []byte) (D, error) {
	var doc D
	if t := reflect.TypeFor[D](); t.Kind() == reflect.Pointer {
		doc = reflect.New(t.Elem()).Interface().(D)
		return doc, codec.Decode(data, doc)
	}
	return doc, codec.Decode(data, &doc)
}
