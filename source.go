package memdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/andreyvit/memdb/journal"
	"go.etcd.io/bbolt"
)

// EncodedTransaction is a transaction read back from a log, with documents
// still in their serialized form, since only the registry knows which type
// to decode each collection's documents into.
type EncodedTransaction struct {
	Collection string
	Op         Op
	Documents  [][]byte
	Codec      Codec
}

// TransactionSource yields logged transactions in the order they were
// written. Next returns io.EOF after the last one.
type TransactionSource interface {
	Next(ctx context.Context) (*EncodedTransaction, error)

	// Position is the 1-based position of the last returned transaction,
	// as a line number or a sequence number.
	Position() int
	String() string
	Close() error
}

// FileSource reads a JSON-lines log written by FileSink.
type FileSource struct {
	path string
	r    *journal.Reader
}

// OpenFileSource opens the log at path. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func OpenFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	r, err := journal.Open(path, journal.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, r: r}, nil
}

type encodedTransactionJSON struct {
	CollectionName *string
	Type           *Op
	Documents      []json.RawMessage
}

func (s *FileSource) Next(ctx context.Context) (*EncodedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	var raw encodedTransactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed transaction: %w", ErrIO, err)
	}
	if raw.CollectionName == nil || isBlank(*raw.CollectionName) {
		return nil, fmt.Errorf("%w: malformed transaction: missing CollectionName", ErrIO)
	}
	if raw.Type == nil {
		return nil, fmt.Errorf("%w: malformed transaction: missing Type", ErrIO)
	}

	txn := &EncodedTransaction{
		Collection: *raw.CollectionName,
		Op:         *raw.Type,
		Documents:  make([][]byte, len(raw.Documents)),
		Codec:      JSON,
	}
	for i, doc := range raw.Documents {
		txn.Documents[i] = doc
	}
	return txn, nil
}

// Decode decodes the documents as schemaless documents, producing a
// transaction that any sink can write regardless of the source codec.
func (et *EncodedTransaction) Decode() (*Transaction, error) {
	docs := make([]any, 0, len(et.Documents))
	for i, data := range et.Documents {
		doc := new(AnyDocument)
		if err := et.Codec.Decode(data, doc); err != nil {
			return nil, collErrf(et.Collection, 0, ErrIO, "document %d: %v", i+1, err)
		}
		docs = append(docs, doc)
	}
	return newTransaction(et.Collection, et.Op, docs), nil
}

func (s *FileSource) Position() int {
	return s.r.Line()
}

func (s *FileSource) String() string {
	return s.path
}

func (s *FileSource) Close() error {
	return s.r.Close()
}

// BoltSource reads transactions stored by BoltSink. It holds a read-only bolt
// transaction until closed.
type BoltSource struct {
	path  string
	bdb   *bbolt.DB
	owned bool
	btx   *bbolt.Tx
	c     *bbolt.Cursor
	pos   int
	seq   uint64
	done  bool
}

// OpenBoltSource opens a bolt log read-only. The file must not be held open
// by a BoltSink at the same time; use BoltSink.Source for that.
func OpenBoltSource(path string) (*BoltSource, error) {
	bdb, err := bbolt.Open(path, 0o666, &bbolt.Options{ReadOnly: true, Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	s, err := newBoltSource(path, bdb, true)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return s, nil
}

func newBoltSource(path string, bdb *bbolt.DB, owned bool) (*BoltSource, error) {
	btx, err := bdb.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	s := &BoltSource{path: path, bdb: bdb, owned: owned, btx: btx}
	if b := btx.Bucket(boltTxnBucket); b != nil {
		s.c = b.Cursor()
	} else {
		s.done = true
	}
	return s, nil
}

func (s *BoltSource) Next(ctx context.Context) (*EncodedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	var k, v []byte
	if s.pos == 0 {
		k, v = s.c.First()
	} else {
		k, v = s.c.Next()
	}
	if k == nil {
		s.done = true
		return nil, io.EOF
	}
	s.pos++
	if len(k) == 8 {
		s.seq = binary.BigEndian.Uint64(k)
	}

	var rec boltRecord
	if err := MsgPack.Decode(v, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed transaction: %w", ErrIO, err)
	}
	op := Op(rec.Op)
	if !op.Valid() {
		return nil, fmt.Errorf("%w: malformed transaction: %v", ErrIO, op)
	}
	txn := &EncodedTransaction{
		Collection: rec.Collection,
		Op:         op,
		Documents:  make([][]byte, len(rec.Documents)),
		Codec:      MsgPack,
	}
	for i, doc := range rec.Documents {
		txn.Documents[i] = bytes.Clone(doc)
	}
	return txn, nil
}

func (s *BoltSource) Position() int {
	return s.pos
}

// Sequence is the bolt sequence number of the last returned transaction.
func (s *BoltSource) Sequence() uint64 {
	return s.seq
}

func (s *BoltSource) String() string {
	return s.path
}

func (s *BoltSource) Close() error {
	err := s.btx.Rollback()
	if s.owned {
		if cerr := s.bdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
