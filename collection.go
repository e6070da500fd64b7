package memdb

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (v SortDirection) String() string {
	switch v {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	default:
		return fmt.Sprintf("invalid sort direction %d", int(v))
	}
}

func ParseSortDirection(s string) (SortDirection, error) {
	switch s {
	case "asc", "ascending", "":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return 0, invalidArgf("unknown sort direction %q", s)
	}
}

// CollectionOptions configures identity generation. Zero values mean 1.
type CollectionOptions struct {
	Seed      int64 `yaml:"seed"`
	Increment int64 `yaml:"increment"`
}

func (o CollectionOptions) normalize() (CollectionOptions, error) {
	if o.Seed == 0 {
		o.Seed = 1
	}
	if o.Increment == 0 {
		o.Increment = 1
	}
	if o.Seed < 0 || o.Increment < 0 {
		return o, invalidArgf("identity seed %d or increment %d is not positive", o.Seed, o.Increment)
	}
	return o, nil
}

// Page is one window of a collection listing plus the collection size at the
// moment the window was taken.
type Page[D any] struct {
	Data  []D
	Total int
}

// Collection is a named set of documents of one type, keyed by an id the
// collection assigns. Every document passed in or handed out is a private
// copy. All methods are safe for concurrent use; each one is a single
// critical section, so batch methods are atomic with respect to the map but
// InsertMany is not atomic as a whole.
//
// Predicates see stored documents directly and must not modify them.
type Collection[D Document[D]] struct {
	name    string
	docType reflect.Type
	logger  *slog.Logger
	verbose bool

	mu        sync.Mutex
	docs      map[int64]D
	order     []int64 // ascending
	nextID    int64
	increment int64
	exhausted bool
	tickets   uint64
	inserts   uint64
	updates   uint64
	deletes   uint64

	pub publisher
}

func newCollection[D Document[D]](name string, opt CollectionOptions, logger *slog.Logger, verbose bool) (*Collection[D], error) {
	if isBlank(name) {
		return nil, invalidArgf("empty collection name")
	}
	opt, err := opt.normalize()
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collection[D]{
		name:      name,
		docType:   reflect.TypeFor[D](),
		logger:    logger,
		verbose:   verbose,
		docs:      make(map[int64]D),
		nextID:    opt.Seed,
		increment: opt.Increment,
	}
	c.pub.init()
	return c, nil
}

func (c *Collection[D]) Name() string {
	return c.name
}

func (c *Collection[D]) String() string {
	return c.name
}

func (c *Collection[D]) documentType() reflect.Type {
	return c.docType
}

// Subscribe adds a listener for this collection's future transactions.
func (c *Collection[D]) Subscribe(l Listener) {
	c.pub.subscribe(l)
}

func (c *Collection[D]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// CountWhere counts documents matching pred; a nil pred matches everything.
func (c *Collection[D]) CountWhere(pred func(D) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pred == nil {
		return len(c.docs)
	}
	var n int
	for _, id := range c.order {
		if pred(c.docs[id]) {
			n++
		}
	}
	return n
}

// FindAll returns copies of the documents ordered by id in the given
// direction, skipping offset documents and returning at most limit of them.
// A zero limit means no limit.
func (c *Collection[D]) FindAll(sort SortDirection, offset, limit int) ([]D, error) {
	page, err := c.FindPage(sort, offset, limit)
	return page.Data, err
}

// All returns copies of all documents in ascending id order.
func (c *Collection[D]) All() []D {
	return must(c.FindAll(Ascending, 0, 0))
}

// FindPage is FindAll that also reports the total number of documents, both
// taken in the same critical section.
func (c *Collection[D]) FindPage(sort SortDirection, offset, limit int) (Page[D], error) {
	if offset < 0 || limit < 0 {
		return Page[D]{}, collErrf(c.name, 0, ErrInvalidArgument, "invalid offset %d or limit %d", offset, limit)
	}
	if sort != Ascending && sort != Descending {
		return Page[D]{}, collErrf(c.name, 0, ErrInvalidArgument, "%v", sort)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := Page[D]{Total: len(c.docs)}
	n := len(c.order) - offset
	if n <= 0 {
		result.Data = []D{}
		return result, nil
	}
	if limit > 0 && n > limit {
		n = limit
	}
	result.Data = make([]D, 0, n)
	c.each_locked(sort, func(doc D) bool {
		if offset > 0 {
			offset--
			return true
		}
		result.Data = append(result.Data, doc.Clone())
		return len(result.Data) < n
	})
	return result, nil
}

// Find returns a copy of the document with the given id.
func (c *Collection[D]) Find(id int64) (D, bool, error) {
	var zero D
	if id <= 0 {
		return zero, false, collErrf(c.name, id, ErrInvalidArgument, "invalid document id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	doc, found := c.docs[id]
	if !found {
		return zero, false, nil
	}
	return doc.Clone(), true, nil
}

// FindMany returns copies of all documents matching pred, ordered by id.
func (c *Collection[D]) FindMany(pred func(D) bool, sort SortDirection) ([]D, error) {
	if sort != Ascending && sort != Descending {
		return nil, collErrf(c.name, 0, ErrInvalidArgument, "%v", sort)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	result := []D{}
	c.each_locked(sort, func(doc D) bool {
		if pred == nil || pred(doc) {
			result = append(result, doc.Clone())
		}
		return true
	})
	return result, nil
}

// Insert stores a copy of doc under a newly assigned id and returns another
// copy carrying that id. The caller's document is not modified; any id it
// carries is ignored.
//
// A non-nil error together with a valid document means the insert has been
// committed but could not be logged (see LogError).
func (c *Collection[D]) Insert(doc D) (D, error) {
	var zero D
	if isNilDocument(doc) {
		return zero, collErrf(c.name, 0, ErrInvalidArgument, "nil document")
	}
	stored := doc.Clone()

	c.mu.Lock()
	id, err := c.reserveID_locked()
	if err != nil {
		c.mu.Unlock()
		return zero, err
	}
	if _, dup := c.docs[id]; dup {
		c.mu.Unlock()
		return zero, collErrf(c.name, id, ErrConflict, "collection already contains this id")
	}
	stored.SetID(id)
	c.docs[id] = stored
	c.insertOrder_locked(id)
	c.inserts++
	result, logged := stored.Clone(), stored.Clone()
	ticket := c.takeTicket_locked()
	c.mu.Unlock()

	if c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: insert", slog.String("coll", c.name), slog.Int64("id", id))
	}
	return result, c.publish(ticket, OpInsert, []any{logged})
}

// InsertMany inserts the documents one by one, in order. It stops at the first
// failure and returns the documents inserted so far; those stay committed.
func (c *Collection[D]) InsertMany(docs []D) ([]D, error) {
	result := make([]D, 0, len(docs))
	for _, doc := range docs {
		inserted, err := c.Insert(doc)
		if err != nil {
			if _, isLogErr := err.(*LogError); isLogErr {
				result = append(result, inserted)
			}
			return result, err
		}
		result = append(result, inserted)
	}
	return result, nil
}

// Update replaces the stored document that has doc's id with a copy of doc.
// It reports false if there is no such document.
func (c *Collection[D]) Update(doc D) (D, bool, error) {
	var zero D
	if isNilDocument(doc) {
		return zero, false, collErrf(c.name, 0, ErrInvalidArgument, "nil document")
	}
	id := doc.GetID()
	if id <= 0 {
		return zero, false, collErrf(c.name, id, ErrInvalidArgument, "invalid document id")
	}
	stored := doc.Clone()

	c.mu.Lock()
	if _, found := c.docs[id]; !found {
		c.mu.Unlock()
		return zero, false, nil
	}
	c.docs[id] = stored
	c.updates++
	result, logged := stored.Clone(), stored.Clone()
	ticket := c.takeTicket_locked()
	c.mu.Unlock()

	if c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: update", slog.String("coll", c.name), slog.Int64("id", id))
	}
	return result, true, c.publish(ticket, OpUpdate, []any{logged})
}

// UpdateMany replaces every document matching pred with a fresh copy of
// template, keeping the matched document's id, and returns copies of the
// updated documents. A single transaction covers all of them; nothing is
// published when nothing matches.
//
// All predicate calls and copies happen before the first document is
// replaced, so a panic in pred or Clone leaves the collection unchanged.
func (c *Collection[D]) UpdateMany(pred func(D) bool, template D) ([]D, error) {
	if isNilDocument(template) {
		return nil, collErrf(c.name, 0, ErrInvalidArgument, "nil template")
	}

	result, logged, ticket := c.updateMany_locking(pred, template)
	if len(result) == 0 {
		return []D{}, nil
	}

	if c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: update many", slog.String("coll", c.name), slog.Int("n", len(result)))
	}
	return result, c.publish(ticket, OpUpdate, logged)
}

func (c *Collection[D]) updateMany_locking(pred func(D) bool, template D) (result []D, logged []any, ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int64
	var stored []D
	for _, id := range c.order {
		if pred != nil && !pred(c.docs[id]) {
			continue
		}
		doc := template.Clone()
		doc.SetID(id)
		ids = append(ids, id)
		stored = append(stored, doc)
		result = append(result, doc.Clone())
		logged = append(logged, doc.Clone())
	}
	if len(ids) == 0 {
		return nil, nil, 0
	}
	for i, id := range ids {
		c.docs[id] = stored[i]
	}
	c.updates += uint64(len(ids))
	return result, logged, c.takeTicket_locked()
}

// DeleteAll removes every document and returns how many were removed.
func (c *Collection[D]) DeleteAll() (int, error) {
	return c.DeleteMany(nil)
}

// Delete removes the document with the given id, reporting whether it existed.
func (c *Collection[D]) Delete(id int64) (bool, error) {
	if id <= 0 {
		return false, collErrf(c.name, id, ErrInvalidArgument, "invalid document id")
	}

	c.mu.Lock()
	doc, found := c.docs[id]
	if !found {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.docs, id)
	if i, ok := slices.BinarySearch(c.order, id); ok {
		c.order = slices.Delete(c.order, i, i+1)
	}
	c.deletes++
	ticket := c.takeTicket_locked()
	c.mu.Unlock()

	if c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: delete", slog.String("coll", c.name), slog.Int64("id", id))
	}
	return true, c.publish(ticket, OpDelete, []any{doc})
}

// DeleteMany removes every document matching pred (all of them if pred is
// nil) and returns how many were removed. A single transaction covers all of
// them; nothing is published when nothing matches.
//
// Matches are collected before anything is removed, so a panic in pred leaves
// the collection unchanged.
func (c *Collection[D]) DeleteMany(pred func(D) bool) (int, error) {
	removed, ticket := c.deleteMany_locking(pred)
	if len(removed) == 0 {
		return 0, nil
	}

	if c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "memdb: delete many", slog.String("coll", c.name), slog.Int("n", len(removed)))
	}
	return len(removed), c.publish(ticket, OpDelete, removed)
}

func (c *Collection[D]) deleteMany_locking(pred func(D) bool) (removed []any, ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pred == nil {
		removed = make([]any, 0, len(c.order))
		for _, id := range c.order {
			removed = append(removed, c.docs[id])
		}
		clear(c.docs)
		c.order = c.order[:0]
	} else {
		var matched []int64
		for _, id := range c.order {
			if doc := c.docs[id]; pred(doc) {
				matched = append(matched, id)
				removed = append(removed, doc)
			}
		}
		if len(matched) > 0 {
			for _, id := range matched {
				delete(c.docs, id)
			}
			c.order = slices.DeleteFunc(c.order, func(id int64) bool {
				_, found := c.docs[id]
				return !found
			})
		}
	}
	if len(removed) == 0 {
		return nil, 0
	}
	c.deletes += uint64(len(removed))
	return removed, c.takeTicket_locked()
}

// Digest returns a fingerprint of the collection's content: equal for two
// collections holding equal documents under equal ids.
func (c *Collection[D]) Digest() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var h xxhash.Digest
	h.Reset()
	var buf []byte
	for _, id := range c.order {
		var err error
		buf = appendInt64(buf[:0], id)
		buf, err = JSON.Encode(buf, c.docs[id])
		if err != nil {
			return 0, collErrf(c.name, id, ErrInvalidArgument, "digest: %v", err)
		}
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return h.Sum64(), nil
}

func (c *Collection[D]) each_locked(sort SortDirection, f func(doc D) bool) {
	if sort == Descending {
		for i := len(c.order) - 1; i >= 0; i-- {
			if !f(c.docs[c.order[i]]) {
				return
			}
		}
	} else {
		for _, id := range c.order {
			if !f(c.docs[id]) {
				return
			}
		}
	}
}

func (c *Collection[D]) reserveID_locked() (int64, error) {
	if c.exhausted {
		return 0, collErrf(c.name, 0, ErrConflict, "identity space exhausted")
	}
	id := c.nextID
	if id > math.MaxInt64-c.increment {
		c.exhausted = true
	} else {
		c.nextID += c.increment
	}
	return id, nil
}

func (c *Collection[D]) insertOrder_locked(id int64) {
	if n := len(c.order); n == 0 || c.order[n-1] < id {
		c.order = append(c.order, id)
		return
	}
	i, _ := slices.BinarySearch(c.order, id)
	c.order = slices.Insert(c.order, i, id)
}

func (c *Collection[D]) takeTicket_locked() uint64 {
	t := c.tickets
	c.tickets++
	return t
}

func (c *Collection[D]) publish(ticket uint64, op Op, docs []any) error {
	err := c.pub.publish(ticket, newTransaction(c.name, op, docs))
	if err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "memdb: transaction not logged", slog.String("coll", c.name), slog.String("op", op.String()), slog.Any("err", err))
		return &LogError{Collection: c.name, Op: op, Err: err}
	}
	return nil
}

func appendInt64(b []byte, v int64) []byte {
	u := uint64(v)
	return append(b, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32), byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}
