package memdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var dumpSep = strings.Repeat("-", 60)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the database in a human-readable form, collections in name
// order and documents in id order.
func (db *DB) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, c := range db.sortedCollections() {
		dumpCollection(&buf, f, c)
	}
	return buf.String()
}

func dumpCollection(w *strings.Builder, f DumpFlags, c collection) {
	prefix := c.Name()
	s := c.Stats()

	if f.Contains(DumpHeaders) {
		fmt.Fprintln(w, rpadf('=', "== %s (%d docs, %s) ", prefix, s.Documents, s.Type))
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: next_id = %d, increment = %d, inserts = %d, updates = %d, deletes = %d, published = %d, log_errors = %d\n", prefix, s.NextID, s.Increment, s.Inserts, s.Updates, s.Deletes, s.Published, s.LogErrors)
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep)
		}
		c.dumpRows(w, prefix)
	}
}

func (c *Collection[D]) dumpRows(w *strings.Builder, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		fmt.Fprintf(w, "%s.%d = %s\n", prefix, id, loggableDoc(c.docs[id]))
	}
}

func rpadf(pad rune, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	return rpad(s, 80, pad)
}
