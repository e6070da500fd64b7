package memdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var boltTxnBucket = []byte("memdb.transactions")

// boltRecord is the value stored per transaction. Documents are individually
// msgpack-encoded so that a reader can decode them into any document type.
type boltRecord struct {
	Collection string               `msgpack:"c"`
	Op         int                  `msgpack:"t"`
	Documents  []msgpack.RawMessage `msgpack:"d"`
}

type BoltSinkOptions struct {
	// Sync fsyncs the bolt file on every transaction. Without it the data
	// survives a process crash but not necessarily an OS crash.
	Sync     bool
	Disabled bool

	// Timeout bounds the wait for the file lock. Defaults to 10 seconds.
	Timeout time.Duration

	Logger  *slog.Logger
	Verbose bool
}

// BoltSink stores every transaction in a bolt database under a sequential
// big-endian key, so that key order is transaction order.
type BoltSink struct {
	sinkState
	bdb     *bbolt.DB
	logger  *slog.Logger
	verbose bool
}

func NewBoltSink(path string, opt BoltSinkOptions) (*BoltSink, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Timeout == 0 {
		opt.Timeout = 10 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: bolt sink: %w", ErrIO, err)
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	bopt.NoSync = !opt.Sync
	bopt.NoFreelistSync = true
	bopt.FreelistType = bbolt.FreelistMapType

	bdb, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("%w: bolt sink: %s: %w", ErrIO, path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltTxnBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("%w: bolt sink: %s: %w", ErrIO, path, err)
	}

	s := &BoltSink{bdb: bdb, logger: opt.Logger, verbose: opt.Verbose}
	s.SetEnabled(!opt.Disabled)
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: bolt sink open", slog.String("path", path))
	}
	return s, nil
}

func (s *BoltSink) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *BoltSink) OnTransaction(txn *Transaction) error {
	if !s.Enabled() {
		return nil
	}
	rec := boltRecord{
		Collection: txn.Collection(),
		Op:         int(txn.Op()),
		Documents:  make([]msgpack.RawMessage, 0, txn.Len()),
	}
	for _, doc := range txn.docs {
		data, err := MsgPack.Encode(nil, doc)
		if err != nil {
			return fmt.Errorf("bolt sink: %w", err)
		}
		rec.Documents = append(rec.Documents, data)
	}
	value, err := MsgPack.Encode(nil, &rec)
	if err != nil {
		return fmt.Errorf("bolt sink: %w", err)
	}

	err = s.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltTxnBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(binary.BigEndian.AppendUint64(nil, seq), value)
	})
	if err != nil {
		return fmt.Errorf("%w: bolt sink: %w", ErrIO, err)
	}
	return nil
}

// Source returns a reader over the transactions stored so far, sharing this
// sink's open file.
func (s *BoltSink) Source() (*BoltSource, error) {
	return newBoltSource(s.bdb.Path(), s.bdb, false)
}

// Len returns the number of stored transactions.
func (s *BoltSink) Len() (int, error) {
	var n int
	err := s.bdb.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(boltTxnBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltSink) Close() error {
	if err := s.bdb.Close(); err != nil {
		return fmt.Errorf("%w: bolt sink: %w", ErrIO, err)
	}
	return nil
}
