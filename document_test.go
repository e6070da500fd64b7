package memdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnyDocument_JSON(t *testing.T) {
	var d AnyDocument
	require.NoError(t, json.Unmarshal([]byte(`{"Id":12,"name":"x","n":1.5,"nested":{"k":[1,"two"]}}`), &d))
	assert.Equal(t, int64(12), d.ID)
	assert.Equal(t, "Id", d.IDKey)
	assert.Equal(t, "x", d.Fields["name"])
	assert.NotContains(t, d.Fields, "Id")

	raw, err := json.Marshal(&d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Id":12,"name":"x","n":1.5,"nested":{"k":[1,"two"]}}`, string(raw))

	d.SetID(5)
	raw, err = json.Marshal(&d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Id":5`)
}

func TestAnyDocument_DefaultIDKey(t *testing.T) {
	d := &AnyDocument{Fields: map[string]any{"a": "b"}}
	d.SetID(3)
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"a":"b"}`, string(raw))

	var bad AnyDocument
	assert.Error(t, json.Unmarshal([]byte(`{"id":1.5}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &bad))
}

func TestAnyDocument_CloneIsDeep(t *testing.T) {
	var d AnyDocument
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"nested":{"list":[{"k":"v"}]}}`), &d))

	c := d.Clone()
	c.Fields["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"] = "changed"
	c.Fields["extra"] = true

	assert.Equal(t, "v", d.Fields["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"])
	assert.NotContains(t, d.Fields, "extra")
}

func TestAnyDocument_MsgPack(t *testing.T) {
	var d AnyDocument
	require.NoError(t, json.Unmarshal([]byte(`{"ID":7,"count":3,"ratio":0.5,"tags":["a"]}`), &d))

	data, err := MsgPack.Encode(nil, &d)
	require.NoError(t, err)

	// Encoding converts json.Number values without touching the source.
	assert.Equal(t, json.Number("3"), d.Fields["count"])

	var back AnyDocument
	require.NoError(t, MsgPack.Decode(data, &back))
	assert.Equal(t, int64(7), back.ID)
	assert.Equal(t, "ID", back.IDKey)
	assert.EqualValues(t, 3, back.Fields["count"])
	assert.Equal(t, 0.5, back.Fields["ratio"])
	assert.Equal(t, []any{"a"}, back.Fields["tags"])
}

func TestAnyDocument_InCollection(t *testing.T) {
	db := setup(t, Options{})
	c, err := GetCollection[*AnyDocument](db, "any")
	require.NoError(t, err)

	orig := &AnyDocument{Fields: map[string]any{"k": []any{"v"}}}
	d, err := c.Insert(orig)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, int64(0), orig.ID)

	orig.Fields["k"].([]any)[0] = "changed"
	found, _, err := c.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []any{"v"}, found.Fields["k"])
}

func TestTypeName(t *testing.T) {
	db := setup(t, Options{})
	c := items(t, db, "x")
	assert.Equal(t, "*memdb.Item", typeName(c.documentType()))
}
