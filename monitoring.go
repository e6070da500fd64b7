package memdb

import (
	"encoding/json"
	"reflect"
)

type CollectionStats struct {
	Name      string
	Type      string
	Documents int

	NextID    int64
	Increment int64
	Exhausted bool

	Inserts uint64
	Updates uint64
	Deletes uint64

	// Published counts delivered transactions; LogErrors counts those that at
	// least one listener failed to accept.
	Published uint64
	LogErrors uint64
}

func (cs *CollectionStats) Mutations() uint64 {
	return cs.Inserts + cs.Updates + cs.Deletes
}

func (c *Collection[D]) Stats() CollectionStats {
	c.mu.Lock()
	s := CollectionStats{
		Name:      c.name,
		Type:      typeName(c.docType),
		Documents: len(c.docs),
		NextID:    c.nextID,
		Increment: c.increment,
		Exhausted: c.exhausted,
		Inserts:   c.inserts,
		Updates:   c.updates,
		Deletes:   c.deletes,
	}
	c.mu.Unlock()
	s.Published, s.LogErrors = c.pub.counts()
	return s
}

type DBStats struct {
	Collections []CollectionStats
}

func (s *DBStats) Documents() int {
	var n int
	for _, cs := range s.Collections {
		n += cs.Documents
	}
	return n
}

func (s *DBStats) LogErrors() uint64 {
	var n uint64
	for _, cs := range s.Collections {
		n += cs.LogErrors
	}
	return n
}

func loggableDoc(doc any) string {
	if isNilDocument(doc) {
		return "<none>"
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "<" + reflect.TypeOf(doc).String() + ": " + err.Error() + ">"
	}
	return string(b)
}
