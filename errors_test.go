package memdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionError_ErrorAndUnwrap(t *testing.T) {
	err := collErrf("items", 7, ErrConflict, "duplicate id")

	var ce *CollectionError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "items/7: duplicate id: conflict", err.Error())

	err = collErrf("items", 0, ErrNotFound, "")
	assert.Equal(t, "items: not found", err.Error())
}

func TestLogError_IsIO(t *testing.T) {
	inner := errors.New("disk full")
	err := error(&LogError{Collection: "items", Op: OpInsert, Err: inner})

	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "items: Insert committed but not logged: disk full", err.Error())
}

func TestRestoreError_Error(t *testing.T) {
	err := error(&RestoreError{Source: "tx.log", Record: 3, Collection: "items", Err: ErrNotFound})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "restore tx.log:3 (items): not found", err.Error())

	err = &RestoreError{Source: "tx.log", Err: ErrIO}
	assert.Equal(t, "restore tx.log: i/o failure", err.Error())
}

func TestInvalidArgf(t *testing.T) {
	err := invalidArgf("bad id %d", -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, "invalid argument: bad id -1", err.Error())
}
