package memdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_JSONDoesNotEscapeHTML(t *testing.T) {
	prefix := []byte("prefix:")
	out, err := JSON.Encode(prefix, &Item{ID: 1, Name: "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `prefix:{"id":1,"name":"<a&b>"}`, string(out))
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON, MsgPack} {
		t.Run(codec.String(), func(t *testing.T) {
			in := &Item{ID: 3, Name: "n", Tags: []string{"x", "y"}}
			data, err := codec.Encode(nil, in)
			require.NoError(t, err)

			var out Item
			require.NoError(t, codec.Decode(data, &out))
			assert.Equal(t, *in, out)
		})
	}
}

func TestCodec_Errors(t *testing.T) {
	_, err := JSON.Encode(nil, func() {})
	assert.Error(t, err)

	var out Item
	assert.Error(t, JSON.Decode([]byte("{"), &out))
	assert.Error(t, MsgPack.Decode([]byte{0xc1}, &out))
	assert.Equal(t, "codec(9)", Codec(9).String())
}
