/*
Package memdb implements an embedded, in-process document store that keeps
all data in memory and makes it durable through an append-only transaction
log.

We implement:

1. Collections, typed sets of documents keyed by an integer id the collection
assigns from a per-collection seed and increment.

2. A registry (DB) that binds collection names to document types and attaches
log sinks to every collection.

3. Sinks, which record every committed transaction: a debug stream, a
JSON-lines file, and a bolt database.

4. Restore, which rebuilds collections by replaying a log through the regular
write path with logging switched off.

# Technical Details

**Isolation.**
Documents are cloned on the way in and on the way out, so no caller ever holds
a reference into stored state. Document types provide the deep copy.

**Locking.**
Each collection has a single mutex guarding its document map and identity
counter. Every operation is one critical section.

**Publication.**
A mutation takes a publication ticket while still holding the collection lock,
then releases the lock and delivers its transaction to listeners once every
earlier ticket has been delivered. Listeners thus see a collection's
transactions in commit order, and sink I/O never happens under the data lock.
A listener failure is returned to the caller as a *LogError, but the
mutation stays committed.

## Log format

**JSON lines.**
One transaction per line:

	{"CollectionName":"activities","Type":"Insert","Documents":[{"id":1,...}]}

Type is "Insert", "Update" or "Delete"; older logs with numeric types 0, 1, 2
are accepted. A final line without a newline is a torn write and is ignored.

**Bolt.**
Bucket "memdb.transactions", keys are big-endian sequence numbers, values are
msgpack maps {c: collection, t: type, d: [msgpack documents]}.

## Replay

Inserts re-derive ids, so replaying a complete log into an empty database
reproduces the original ids. Drops are not logged; a dropped collection comes
back on replay if the log mentions it.
*/
package memdb
