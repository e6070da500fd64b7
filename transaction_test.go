package memdb

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_MarshalJSON(t *testing.T) {
	txn := newTransaction("x", OpInsert, []any{&Item{ID: 1, Name: "A"}})
	raw, err := json.Marshal(txn)
	require.NoError(t, err)
	assert.Equal(t, `{"CollectionName":"x","Type":"Insert","Documents":[{"id":1,"name":"A"}]}`, string(raw))

	raw, err = json.Marshal(newTransaction("x", OpDelete, nil))
	require.NoError(t, err)
	assert.Equal(t, `{"CollectionName":"x","Type":"Delete","Documents":[]}`, string(raw))
}

func TestTransaction_DocumentsReturnsCopyOfSlice(t *testing.T) {
	txn := newTransaction("x", OpUpdate, []any{&Item{ID: 1}})
	docs := txn.Documents()
	docs[0] = nil
	assert.NotNil(t, txn.Documents()[0])
	assert.Equal(t, 1, txn.Len())
	assert.Equal(t, "x Update (1 docs)", txn.String())
}

func TestOp_JSON(t *testing.T) {
	for _, op := range []Op{OpInsert, OpUpdate, OpDelete} {
		raw, err := json.Marshal(op)
		require.NoError(t, err)

		var decoded Op
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, op, decoded)
	}

	var op Op
	require.NoError(t, json.Unmarshal([]byte(`2`), &op))
	assert.Equal(t, OpDelete, op)

	err := json.Unmarshal([]byte(`"Upsert"`), &op)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	err = json.Unmarshal([]byte(`-1`), &op)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = json.Marshal(Op(9))
	assert.Error(t, err)
	assert.Equal(t, "invalid op 9", Op(9).String())
}
