package memdb

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_BasicLifecycle(t *testing.T) {
	db := setup(t, Options{})
	c := items(t, db, "x")

	a, err := c.Insert(&Item{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)

	b, err := c.Insert(&Item{Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.ID)

	updated, found, err := c.Update(&Item{ID: 1, Name: "A2"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, &Item{ID: 1, Name: "A2"}, updated)

	deleted, err := c.Delete(2)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, c.Count())

	all, err := c.FindAll(Ascending, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []*Item{{ID: 1, Name: "A2"}}, all)
}

func TestCollection_FindAllSortsBeforePaging(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")
	for range 5 {
		_, err := c.Insert(&Item{})
		require.NoError(t, err)
	}

	docs, err := c.FindAll(Descending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 2, 1}, ids(docs))

	docs, err = c.FindAll(Ascending, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(docs))

	docs, err = c.FindAll(Descending, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, ids(docs))

	docs, err = c.FindAll(Ascending, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NotNil(t, docs)

	page, err := c.FindPage(Descending, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(page.Data))
	assert.Equal(t, 5, page.Total)
}

func TestCollection_FindAllRejectsNegativePaging(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")

	_, err := c.FindAll(Ascending, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.FindAll(Ascending, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.FindAll(SortDirection(7), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCollection_Isolation(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")

	orig := &Item{ID: 42, Name: "orig", Tags: []string{"a"}}
	inserted, err := c.Insert(orig)
	require.NoError(t, err)

	// The caller's document is left alone, including its id.
	assert.Equal(t, int64(42), orig.ID)
	assert.Equal(t, int64(1), inserted.ID)
	assert.NotSame(t, orig, inserted)

	orig.Name = "changed"
	orig.Tags[0] = "changed"
	inserted.Name = "changed too"
	inserted.Tags[0] = "changed too"

	found, ok, err := c.Find(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &Item{ID: 1, Name: "orig", Tags: []string{"a"}}, found)

	found.Tags[0] = "mutated"
	again, _, _ := c.Find(1)
	assert.Equal(t, []string{"a"}, again.Tags)

	for _, doc := range c.All() {
		doc.Name = "bulk"
	}
	assert.Equal(t, []string{"orig"}, names(c.All()))
}

func TestCollection_IdentityIncrement(t *testing.T) {
	db := setup(t, Options{})
	c, err := CreateCollection[*Item](db, "x", CollectionOptions{Seed: 10, Increment: 5})
	require.NoError(t, err)

	inserted, err := c.InsertMany([]*Item{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 15, 20}, ids(inserted))
	assert.Equal(t, []string{"a", "b", "c"}, names(inserted))

	st := c.Stats()
	assert.Equal(t, int64(25), st.NextID)
	assert.Equal(t, int64(5), st.Increment)
}

func TestCollection_IdentityExhaustion(t *testing.T) {
	db := setup(t, Options{})
	c, err := CreateCollection[*Item](db, "x", CollectionOptions{Seed: math.MaxInt64 - 1})
	require.NoError(t, err)

	a, err := c.Insert(&Item{})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), a.ID)

	b, err := c.Insert(&Item{})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), b.ID)

	_, err = c.Insert(&Item{})
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, c.Stats().Exhausted)
	assert.Equal(t, 2, c.Count())

	inserted, err := c.InsertMany([]*Item{{}, {}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, inserted)
}

func TestCollection_InvalidArguments(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")

	_, _, err := c.Find(0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Delete(-1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = c.Update(&Item{Name: "no id"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Insert(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = c.Update(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.UpdateMany(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var ce *CollectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "x", ce.Collection)
}

func TestCollection_AbsentDocuments(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")
	_, err := c.Insert(&Item{Name: "a"})
	require.NoError(t, err)

	deleted, err := c.Delete(99)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, c.Count())

	doc, found, err := c.Update(&Item{ID: 99, Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)

	doc, found, err = c.Find(99)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)

	assert.Len(t, sink.transactions(), 1)
}

func TestCollection_DeleteAllIsIdempotent(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")
	_, err := c.InsertMany([]*Item{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	require.NoError(t, err)

	n, err := c.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, c.Count())

	n, err = c.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	txns := sink.transactions()
	require.Len(t, txns, 4)
	last := txns[3]
	assert.Equal(t, OpDelete, last.Op())
	assert.Equal(t, []int64{1, 2, 3}, ids(docsAs[*Item](last)))

	// Ids are not reused after a wipe.
	d, err := c.Insert(&Item{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.ID)
}

func TestCollection_UpdateMany(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")
	_, err := c.InsertMany([]*Item{{Name: "a"}, {Name: "b", Tags: []string{"hot"}}, {Name: "c", Tags: []string{"hot"}}})
	require.NoError(t, err)

	template := &Item{ID: 77, Name: "cool", Tags: []string{"t"}}
	updated, err := c.UpdateMany(func(it *Item) bool { return len(it.Tags) > 0 }, template)
	require.NoError(t, err)
	assert.Equal(t, []*Item{{ID: 2, Name: "cool", Tags: []string{"t"}}, {ID: 3, Name: "cool", Tags: []string{"t"}}}, updated)
	assert.Equal(t, int64(77), template.ID)

	// Every updated document got its own copy of the template.
	updated[0].Tags[0] = "x"
	assert.Equal(t, []string{"a", "cool", "cool"}, names(c.All()))
	d, _, _ := c.Find(3)
	assert.Equal(t, []string{"t"}, d.Tags)

	txns := sink.transactions()
	require.Len(t, txns, 4)
	assert.Equal(t, OpUpdate, txns[3].Op())
	assert.Equal(t, []int64{2, 3}, ids(docsAs[*Item](txns[3])))

	none, err := c.UpdateMany(func(it *Item) bool { return it.Name == "nobody" }, template)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, sink.transactions(), 4)
}

func TestCollection_PredicateQueries(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")
	_, err := c.InsertMany([]*Item{{Name: "ant"}, {Name: "bee"}, {Name: "asp"}, {Name: "cow"}})
	require.NoError(t, err)

	startsWithA := func(it *Item) bool { return it.Name[0] == 'a' }
	assert.Equal(t, 2, c.CountWhere(startsWithA))
	assert.Equal(t, 4, c.CountWhere(nil))
	assert.Equal(t, []string{"asp", "ant"}, names(must(c.FindMany(startsWithA, Descending))))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(must(c.FindMany(nil, Ascending))))
	assert.Empty(t, must(c.FindMany(func(*Item) bool { return false }, Ascending)))

	_, err = c.FindMany(nil, SortDirection(7))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	n, err := c.DeleteMany(startsWithA)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"bee", "cow"}, names(c.All()))

	n, err = c.DeleteMany(startsWithA)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCollection_PanickingPredicate(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")
	_, err := c.InsertMany([]*Item{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	require.NoError(t, err)

	// Fails on the second document, after the first has matched.
	boom := func(it *Item) bool {
		if it.ID == 2 {
			panic("boom")
		}
		return true
	}
	assert.PanicsWithValue(t, "boom", func() { c.DeleteMany(boom) })
	assert.PanicsWithValue(t, "boom", func() { c.UpdateMany(boom, &Item{Name: "z"}) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, 3, c.Count())
		assert.Equal(t, []string{"a", "b", "c"}, names(c.All()))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collection still locked after a predicate panic")
	}

	n, err := c.DeleteMany(func(it *Item) bool { return it.Name != "b" })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{2}, ids(c.All()))
	assert.Len(t, sink.transactions(), 4)
}

func TestCollection_TransactionsCarryCopies(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")

	_, err := c.Insert(&Item{Name: "a", Tags: []string{"t"}})
	require.NoError(t, err)
	_, _, err = c.Update(&Item{ID: 1, Name: "b"})
	require.NoError(t, err)
	_, err = c.Delete(1)
	require.NoError(t, err)

	txns := sink.transactions()
	require.Len(t, txns, 3)
	assert.Equal(t, []Op{OpInsert, OpUpdate, OpDelete}, []Op{txns[0].Op(), txns[1].Op(), txns[2].Op()})
	for _, txn := range txns {
		assert.Equal(t, "x", txn.Collection())
		assert.Equal(t, 1, txn.Len())
	}
	assert.Equal(t, "a", docsAs[*Item](txns[0])[0].Name)
	assert.Equal(t, "b", docsAs[*Item](txns[1])[0].Name)
	assert.Equal(t, "b", docsAs[*Item](txns[2])[0].Name)

	_, err = c.Insert(&Item{Name: "z"})
	require.NoError(t, err)
	docsAs[*Item](sink.transactions()[3])[0].Name = "tampered"
	assert.Equal(t, []string{"z"}, names(c.All()))
}

func TestCollection_LogFailureKeepsMutation(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")

	sink.setFail(errSinkBroken)
	inserted, err := c.Insert(&Item{Name: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, errSinkBroken)

	var le *LogError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, OpInsert, le.Op)
	assert.Equal(t, "x", le.Collection)

	require.NotNil(t, inserted)
	assert.Equal(t, int64(1), inserted.ID)
	assert.Equal(t, 1, c.Count())

	n, err := c.DeleteAll()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Count())

	inserted2, err := c.InsertMany([]*Item{{Name: "b"}, {Name: "c"}})
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, []int64{2}, ids(inserted2), "InsertMany stops after the first failure")

	st := c.Stats()
	assert.Equal(t, uint64(3), st.LogErrors)
	assert.Equal(t, uint64(3), st.Published)

	sink.setFail(nil)
	_, err = c.Insert(&Item{Name: "d"})
	require.NoError(t, err)
	assert.Len(t, sink.transactions(), 1)
}

func TestCollection_PanickingListener(t *testing.T) {
	c := items(t, setup(t, Options{}), "x")
	c.Subscribe(ListenerFunc(func(txn *Transaction) error {
		panic("boom")
	}))

	inserted, err := c.Insert(&Item{Name: "a"})
	assert.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int64(1), inserted.ID)

	// The publisher is not wedged by the panic.
	_, err = c.Insert(&Item{Name: "b"})
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 2, c.Count())
}

func TestCollection_ConcurrentInserts(t *testing.T) {
	db := setup(t, Options{})
	sink := &recordingSink{}
	db.AttachSink(sink)
	c := items(t, db, "x")

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	results := make([][]int64, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				d, err := c.Insert(&Item{Name: "w"})
				if err != nil {
					t.Error(err)
					return
				}
				results[w] = append(results[w], d.ID)
				c.Count()
				c.All()
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, r := range results {
		for i, id := range r {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
			if i > 0 {
				assert.Greater(t, id, r[i-1])
			}
		}
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, c.Count())

	// Listeners observe transactions in commit order.
	txns := sink.transactions()
	require.Len(t, txns, workers*perWorker)
	for i, txn := range txns {
		assert.Equal(t, int64(i+1), docsAs[*Item](txn)[0].ID)
	}
}

func TestCollection_Digest(t *testing.T) {
	db := setup(t, Options{})
	a, b := items(t, db, "a"), items(t, db, "b")

	for _, c := range []*Collection[*Item]{a, b} {
		_, err := c.InsertMany([]*Item{{Name: "x"}, {Name: "y"}})
		require.NoError(t, err)
	}
	digestA, err := a.Digest()
	require.NoError(t, err)
	digestB, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, digestA, digestB)

	_, _, err = b.Update(&Item{ID: 2, Name: "z"})
	require.NoError(t, err)
	digestB, err = b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, digestA, digestB)
}

func TestSortDirection(t *testing.T) {
	for _, s := range []string{"asc", "ascending", ""} {
		d, err := ParseSortDirection(s)
		require.NoError(t, err)
		assert.Equal(t, Ascending, d)
	}
	d, err := ParseSortDirection("desc")
	require.NoError(t, err)
	assert.Equal(t, Descending, d)
	assert.Equal(t, "desc", d.String())

	_, err = ParseSortDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func docsAs[D any](txn *Transaction) []D {
	var result []D
	for _, d := range txn.Documents() {
		result = append(result, d.(D))
	}
	return result
}
