package memdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec selects how documents and transactions are serialized by sinks and
// read back by transaction sources.
type Codec int

const (
	JSON Codec = iota
	MsgPack
)

func (c Codec) String() string {
	switch c {
	case JSON:
		return "json"
	case MsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// Encode appends the encoding of v to buf.
func (c Codec) Encode(buf []byte, v any) ([]byte, error) {
	switch c {
	case JSON:
		bb := bytes.NewBuffer(buf)
		enc := json.NewEncoder(bb)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return buf, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
		}
		out := bb.Bytes()
		return out[:len(out)-1], nil // json.Encoder always appends '\n'
	case MsgPack:
		bb := bytes.NewBuffer(buf)
		enc := msgpack.GetEncoder()
		enc.Reset(bb)
		enc.SetSortMapKeys(true)
		err := enc.Encode(v)
		msgpack.PutEncoder(enc)
		if err != nil {
			return buf, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
		}
		return bb.Bytes(), nil
	default:
		panic("unsupported codec")
	}
}

// Decode decodes data into the value pointed to by ptr.
func (c Codec) Decode(data []byte, ptr any) error {
	switch c {
	case JSON:
		if err := json.Unmarshal(data, ptr); err != nil {
			return fmt.Errorf("failed to decode JSON into %T: %w", ptr, err)
		}
		return nil
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		dec := msgpack.GetDecoder()
		dec.Reset(&r)
		err := dec.Decode(ptr)
		msgpack.PutDecoder(dec)
		if err != nil {
			return fmt.Errorf("failed to decode msgpack into %T: %w", ptr, err)
		}
		return nil
	default:
		panic("unsupported codec")
	}
}
