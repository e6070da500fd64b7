package memdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

type (
	// Transaction is an immutable record of one mutating collection operation
	// and the documents it affected. Documents are private copies; listeners
	// must not modify them.
	Transaction struct {
		collection string
		op         Op
		docs       []any
	}

	Op int
)

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func newTransaction(coll string, op Op, docs []any) *Transaction {
	if docs == nil {
		docs = []any{}
	}
	return &Transaction{collection: coll, op: op, docs: docs}
}

// NewTransaction builds a transaction outside of a collection, for tools that
// feed sinks directly. The documents are used as is.
func NewTransaction(coll string, op Op, docs ...any) *Transaction {
	return newTransaction(coll, op, slices.Clone(docs))
}

func (txn *Transaction) Collection() string {
	return txn.collection
}
func (txn *Transaction) Op() Op {
	return txn.op
}
func (txn *Transaction) Len() int {
	return len(txn.docs)
}

// Documents returns the affected documents, in the order the operation touched them.
func (txn *Transaction) Documents() []any {
	return slices.Clone(txn.docs)
}

func (txn *Transaction) String() string {
	return fmt.Sprintf("%s %v (%d docs)", txn.collection, txn.op, len(txn.docs))
}

// transactionJSON is the durable log line format.
type transactionJSON struct {
	CollectionName string
	Type           Op
	Documents      []any
}

func (txn *Transaction) MarshalJSON() ([]byte, error) {
	return JSON.Encode(nil, transactionJSON{txn.collection, txn.op, txn.docs})
}

func (v Op) String() string {
	switch v {
	case OpInsert:
		return "Insert"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (v Op) Valid() bool {
	return v >= OpInsert && v <= OpDelete
}

func ParseOp(s string) (Op, error) {
	switch s {
	case "Insert":
		return OpInsert, nil
	case "Update":
		return OpUpdate, nil
	case "Delete":
		return OpDelete, nil
	default:
		return 0, invalidArgf("unknown transaction type %q", s)
	}
}

func (v Op) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, invalidArgf("cannot encode %v", v)
	}
	return []byte(v.String()), nil
}

func (v *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*v = op
	return nil
}

// UnmarshalJSON accepts both the named form and the older numeric form.
func (v *Op) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return v.UnmarshalText([]byte(s))
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return invalidArgf("invalid transaction type %s", data)
	}
	op := Op(n)
	if !op.Valid() {
		return invalidArgf("invalid transaction type %d", n)
	}
	*v = op
	return nil
}
