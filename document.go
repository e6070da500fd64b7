package memdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Document is the capability every stored type must provide: a gettable and
// settable integer identity, and a deep copy. D is normally a pointer type
// such as *Activity, with Clone returning a fresh *Activity that shares no
// mutable state with the receiver.
type Document[D any] interface {
	GetID() int64
	SetID(id int64)
	Clone() D
}

func isNilDocument(doc any) bool {
	if doc == nil {
		return true
	}
	v := reflect.ValueOf(doc)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func typeName(t reflect.Type) string {
	if t.PkgPath() != "" || t.Name() != "" {
		return t.String()
	}
	if t.Kind() == reflect.Pointer {
		return "*" + typeName(t.Elem())
	}
	return t.String()
}

// AnyDocument is a schemaless document: a set of named fields plus an id.
// Tools use it to load a transaction log without the application's types.
// The id is read from the first of the "id", "Id" or "ID" keys and written
// back under the same key.
type AnyDocument struct {
	ID     int64
	IDKey  string
	Fields map[string]any
}

var anyDocumentIDKeys = []string{"id", "Id", "ID"}

func (d *AnyDocument) GetID() int64   { return d.ID }
func (d *AnyDocument) SetID(id int64) { d.ID = id }

func (d *AnyDocument) Clone() *AnyDocument {
	return &AnyDocument{ID: d.ID, IDKey: d.IDKey, Fields: deepCopyFields(d.Fields)}
}

func (d *AnyDocument) idKey() string {
	if d.IDKey == "" {
		return "id"
	}
	return d.IDKey
}

func (d *AnyDocument) merged() map[string]any {
	m := make(map[string]any, len(d.Fields)+1)
	maps.Copy(m, d.Fields)
	m[d.idKey()] = d.ID
	return m
}

func (d *AnyDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.merged())
}

func (d *AnyDocument) UnmarshalJSON(data []byte) error {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return err
	}
	return d.assign(m)
}

func (d *AnyDocument) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(numbersToNative(deepCopyFields(d.merged())))
}

func (d *AnyDocument) DecodeMsgpack(dec *msgpack.Decoder) error {
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	return d.assign(m)
}

func (d *AnyDocument) assign(m map[string]any) error {
	d.ID, d.IDKey = 0, ""
	for _, k := range anyDocumentIDKeys {
		raw, found := m[k]
		if !found {
			continue
		}
		id, err := anyToInt64(raw)
		if err != nil {
			return fmt.Errorf("document %s: %w", k, err)
		}
		d.ID, d.IDKey = id, k
		delete(m, k)
		break
	}
	d.Fields = m
	return nil
}

func anyToInt64(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		return v.Int64()
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("non-integer id %v", v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int8, int16, int32, int:
		return reflect.ValueOf(v).Int(), nil
	case uint8, uint16, uint32, uint64, uint:
		u := reflect.ValueOf(v).Uint()
		if u > 1<<63-1 {
			return 0, fmt.Errorf("id %d out of range", u)
		}
		return int64(u), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}

func deepCopyFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return deepCopyFields(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// numbersToNative replaces json.Number values (left by UnmarshalJSON) with
// int64 or float64 so that non-JSON encoders see numbers rather than strings.
func numbersToNative(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = numbersToNative(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = numbersToNative(e)
		}
		return v
	default:
		return v
	}
}
