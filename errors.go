package memdb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error kinds. Every error returned by this package wraps exactly one of them,
// so callers classify failures with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrIO              = errors.New("i/o failure")
)

// CollectionError describes a failure scoped to a collection and, optionally,
// to a single document id.
type CollectionError struct {
	Collection string
	ID         int64
	Msg        string
	Err        error
}

func collErrf(coll string, id int64, err error, format string, args ...any) error {
	return &CollectionError{coll, id, fmt.Sprintf(format, args...), err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Collection)
	if e.ID != 0 {
		buf.WriteByte('/')
		buf.WriteString(strconv.FormatInt(e.ID, 10))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// LogError is returned alongside the result of a mutating call whose in-memory
// mutation has been committed but whose transaction could not be delivered to
// one or more listeners. The mutation stays committed.
type LogError struct {
	Collection string
	Op         Op
	Err        error
}

func (e *LogError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

func (e *LogError) Error() string {
	return fmt.Sprintf("%s: %v committed but not logged: %v", e.Collection, e.Op, e.Err)
}

// RestoreError describes a failure while replaying a transaction log.
// Record is the 1-based ordinal of the offending record in its source.
type RestoreError struct {
	Source     string
	Record     int
	Collection string
	Err        error
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

func (e *RestoreError) Error() string {
	var buf strings.Builder
	buf.WriteString("restore ")
	buf.WriteString(e.Source)
	if e.Record > 0 {
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(e.Record))
	}
	if e.Collection != "" {
		buf.WriteString(" (")
		buf.WriteString(e.Collection)
		buf.WriteByte(')')
	}
	buf.WriteString(": ")
	buf.WriteString(e.Err.Error())
	return buf.String()
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
