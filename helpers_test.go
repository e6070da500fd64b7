package memdb

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/andreyvit/memdb/journal/journaltest"
	"github.com/stretchr/testify/require"
)

type (
	Item struct {
		ID   int64    `json:"id"`
		Name string   `json:"name"`
		Tags []string `json:"tags,omitempty"`
	}

	Note struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	}
)

func (it *Item) GetID() int64   { return it.ID }
func (it *Item) SetID(id int64) { it.ID = id }
func (it *Item) Clone() *Item {
	c := *it
	c.Tags = slices.Clone(it.Tags)
	return &c
}

func (n *Note) GetID() int64   { return n.ID }
func (n *Note) SetID(id int64) { n.ID = id }
func (n *Note) Clone() *Note {
	c := *n
	return &c
}

func setup(t testing.TB, opt Options) *DB {
	t.Helper()
	if opt.Logger == nil {
		opt.Logger = journaltest.Logger(t)
	}
	opt.Verbose = true
	db, err := Open("test", opt)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func items(t testing.TB, db *DB, name string) *Collection[*Item] {
	t.Helper()
	c, err := GetCollection[*Item](db, name)
	require.NoError(t, err)
	return c
}

func ids[D Document[D]](docs []D) []int64 {
	result := make([]int64, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.GetID())
	}
	return result
}

func names(docs []*Item) []string {
	result := make([]string, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.Name)
	}
	return result
}

// recordingSink remembers every transaction it accepts. Setting fail makes it
// reject transactions instead.
type recordingSink struct {
	sinkState

	mu     sync.Mutex
	txns   []*Transaction
	fail   error
	closed bool
}

func (s *recordingSink) OnTransaction(txn *Transaction) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.txns = append(s.txns, txn)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *recordingSink) transactions() []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.txns)
}

var errSinkBroken = errors.New("sink broken")

func slogTo(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
