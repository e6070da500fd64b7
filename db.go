package memdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DB is a registry of named collections, each holding documents of a single
// type, plus the sinks that every collection publishes its transactions to.
type DB struct {
	name     string
	logger   *slog.Logger
	verbose  bool
	defaults CollectionOptions
	collOpts map[string]CollectionOptions

	mu     sync.RWMutex
	colls  map[string]collection
	sinks  []Sink
	closed bool
}

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// Sinks are subscribed to every collection, including ones created later.
	Sinks []Sink

	// Defaults apply to collections that have no entry in Collections.
	Defaults    CollectionOptions
	Collections map[string]CollectionOptions
}

// collection is the type-erased view of a *Collection[D] kept by the registry.
type collection interface {
	Name() string
	Count() int
	Stats() CollectionStats
	Digest() (uint64, error)
	Subscribe(l Listener)

	documentType() reflect.Type
	replay(op Op, data []byte, codec Codec) (replayOutcome, error)
	dumpRows(w *strings.Builder, prefix string)
}

func Open(name string, opt Options) (*DB, error) {
	if isBlank(name) {
		return nil, invalidArgf("empty database name")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	defaults, err := opt.Defaults.normalize()
	if err != nil {
		return nil, fmt.Errorf("memdb: %s: %w", name, err)
	}
	collOpts := make(map[string]CollectionOptions, len(opt.Collections))
	for coll, o := range opt.Collections {
		if o.Seed == 0 {
			o.Seed = defaults.Seed
		}
		if o.Increment == 0 {
			o.Increment = defaults.Increment
		}
		if o, err = o.normalize(); err != nil {
			return nil, fmt.Errorf("memdb: %s: collection %s: %w", name, coll, err)
		}
		collOpts[coll] = o
	}

	db := &DB{
		name:     name,
		logger:   opt.Logger,
		verbose:  opt.Verbose,
		defaults: defaults,
		collOpts: collOpts,
		colls:    make(map[string]collection),
		sinks:    slices.Clone(opt.Sinks),
	}
	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: open", slog.String("db", name), slog.Int("sinks", len(db.sinks)))
	}
	return db, nil
}

func (db *DB) Name() string {
	return db.name
}

func (db *DB) String() string {
	return db.name
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

// CreateCollection registers a new, empty collection of documents of type D.
// Options, if given, override the database's configured identity settings for
// this collection.
func CreateCollection[D Document[D]](db *DB, name string, opts ...CollectionOptions) (*Collection[D], error) {
	if isBlank(name) {
		return nil, invalidArgf("empty collection name")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, found := db.colls[name]; found {
		return nil, collErrf(name, 0, ErrConflict, "collection of %s already exists", typeName(existing.documentType()))
	}
	return createCollection_locked[D](db, name, opts)
}

// GetCollection returns the collection registered under name, creating it if
// it does not exist yet. Asking for a registered collection with a different
// document type fails with ErrTypeMismatch.
func GetCollection[D Document[D]](db *DB, name string) (*Collection[D], error) {
	if isBlank(name) {
		return nil, invalidArgf("empty collection name")
	}

	db.mu.RLock()
	existing, found := db.colls[name]
	db.mu.RUnlock()
	if found {
		return castCollection[D](existing)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, found := db.colls[name]; found {
		return castCollection[D](existing)
	}
	return createCollection_locked[D](db, name, nil)
}

// MustGetCollection is GetCollection for bootstrap code where a failure is a
// programming error.
func MustGetCollection[D Document[D]](db *DB, name string) *Collection[D] {
	return must(GetCollection[D](db, name))
}

func castCollection[D Document[D]](h collection) (*Collection[D], error) {
	c, ok := h.(*Collection[D])
	if !ok {
		return nil, collErrf(h.Name(), 0, ErrTypeMismatch, "registered with %s, requested as %s", typeName(h.documentType()), typeName(reflect.TypeFor[D]()))
	}
	return c, nil
}

func createCollection_locked[D Document[D]](db *DB, name string, opts []CollectionOptions) (*Collection[D], error) {
	opt, found := db.collOpts[name]
	if !found {
		opt = db.defaults
	}
	for _, o := range opts {
		if o.Seed != 0 {
			opt.Seed = o.Seed
		}
		if o.Increment != 0 {
			opt.Increment = o.Increment
		}
	}

	c, err := newCollection[D](name, opt, db.logger, db.verbose)
	if err != nil {
		return nil, err
	}
	for _, s := range db.sinks {
		c.Subscribe(s)
	}
	db.colls[name] = c

	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: collection created", slog.String("db", db.name), slog.String("coll", name), slog.String("type", typeName(c.docType)), slog.Int64("seed", c.nextID), slog.Int64("inc", c.increment))
	}
	return c, nil
}

func (db *DB) Exists(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, found := db.colls[name]
	return found
}

// Drop unregisters a collection and discards its documents. Dropping is not
// recorded as a transaction, so replaying a log recreates the collection if
// the log mentions it.
func (db *DB) Drop(name string) error {
	db.mu.Lock()
	c, found := db.colls[name]
	if !found {
		db.mu.Unlock()
		return collErrf(name, 0, ErrNotFound, "cannot drop unknown collection")
	}
	delete(db.colls, name)
	db.mu.Unlock()

	db.logger.LogAttrs(context.Background(), slog.LevelInfo, "memdb: collection dropped", slog.String("db", db.name), slog.String("coll", name), slog.Int("docs", c.Count()))
	return nil
}

// SetLoggingEnabled turns every attached sink on or off.
func (db *DB) SetLoggingEnabled(enabled bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, s := range db.sinks {
		s.SetEnabled(enabled)
	}
	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: logging", slog.String("db", db.name), slog.Bool("enabled", enabled))
	}
}

// AttachSink subscribes s to all existing collections and to collections
// created later. Transactions published before the call are not replayed
// into s.
func (db *DB) AttachSink(s Sink) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sinks = append(db.sinks, s)
	for _, c := range db.colls {
		c.Subscribe(s)
	}
}

func (db *DB) Sinks() []Sink {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.sinks)
}

// CollectionNames returns the registered names in sorted order.
func (db *DB) CollectionNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.colls))
	for name := range db.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (db *DB) collection(name string) (collection, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, found := db.colls[name]
	return c, found
}

func (db *DB) sortedCollections() []collection {
	db.mu.RLock()
	colls := make([]collection, 0, len(db.colls))
	for _, c := range db.colls {
		colls = append(colls, c)
	}
	db.mu.RUnlock()
	slices.SortFunc(colls, func(a, b collection) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return colls
}

func (db *DB) Stats() DBStats {
	colls := db.sortedCollections()
	s := DBStats{Collections: make([]CollectionStats, 0, len(colls))}
	for _, c := range colls {
		s.Collections = append(s.Collections, c.Stats())
	}
	return s
}

// Digest fingerprints the content of every collection, in name order. Two
// databases with equal digests hold the same documents under the same ids.
func (db *DB) Digest() (uint64, error) {
	h := xxhash.New()
	var buf [8]byte
	for _, c := range db.sortedCollections() {
		d, err := c.Digest()
		if err != nil {
			return 0, err
		}
		h.WriteString(c.Name())
		h.Write(appendInt64(buf[:0], int64(d)))
	}
	return h.Sum64(), nil
}

// Close closes every attached sink. Collections stay usable, but their
// transactions are no longer logged.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	sinks := db.sinks
	db.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: closed", slog.String("db", db.name))
	}
	return errors.Join(errs...)
}
