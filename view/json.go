// Package view implements the incremental, persistent secondary-index
// engine described in SPEC_FULL.md: a CouchDB-inspired "view" subsystem
// that maintains a durable key/value index over a revision-tree document
// store and serves range, group and reduce queries against it with
// JSON-order collation.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// JSONType tags the kind of value held by a JSONValue.
type JSONType int

// Type precedence under Unicode and ASCII collation: Null < Bool < Number <
// String < Array < Object. Raw collation ignores it.
const (
	JSONNull JSONType = iota
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// KV is a single ordered object member. Object keys are stored as a slice
// of KV rather than a Go map because map/reduce keys must preserve the
// input's member order (spec.md §4.1): order matters for output and for
// the object collation rule, even though it never affects equality.
type KV struct {
	Key   string
	Value JSONValue
}

// JSONValue is the tagged variant used for every map/reduce key and value.
// It exists so collation logic has one concrete representation to work
// against instead of re-deriving type precedence from interface{} on every
// comparison (spec.md §9, "Dynamic JSON values").
type JSONValue struct {
	typ JSONType
	b   bool
	n   float64
	s   string
	arr []JSONValue
	obj []KV
}

// Null, Bool, Num, Str, Arr and Obj construct JSONValues directly.
// Map functions that need to control object member order build keys with
// Obj rather than passing a Go map (whose iteration order is randomized).
func Null() JSONValue                 { return JSONValue{typ: JSONNull} }
func Bool(b bool) JSONValue           { return JSONValue{typ: JSONBool, b: b} }
func Num(n float64) JSONValue         { return JSONValue{typ: JSONNumber, n: n} }
func Str(s string) JSONValue          { return JSONValue{typ: JSONString, s: s} }
func Arr(vals ...JSONValue) JSONValue { return JSONValue{typ: JSONArray, arr: vals} }
func Obj(pairs ...KV) JSONValue       { return JSONValue{typ: JSONObject, obj: pairs} }

// Type reports the JSONType tag.
func (v JSONValue) Type() JSONType { return v.typ }

// BoolValue, NumberValue, StringValue, ArrayValue and Members return the
// underlying payload.
// Callers are expected to check Type() first; calling the wrong accessor
// returns the zero value.
func (v JSONValue) BoolValue() bool       { return v.b }
func (v JSONValue) NumberValue() float64  { return v.n }
func (v JSONValue) StringValue() string   { return v.s }
func (v JSONValue) ArrayValue() []JSONValue { return v.arr }
func (v JSONValue) Members() []KV         { return v.obj }

// IsNull reports whether v is the JSON null value.
func (v JSONValue) IsNull() bool { return v.typ == JSONNull }

// Equal reports deep structural equality, respecting object member order.
// Scans never rely on this for ordering (use the codec's Compare).
func Equal(a, b JSONValue) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case JSONNull:
		return true
	case JSONBool:
		return a.b == b.b
	case JSONNumber:
		return a.n == b.n
	case JSONString:
		return a.s == b.s
	case JSONArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case JSONObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for i := range a.obj {
			if a.obj[i].Key != b.obj[i].Key || !Equal(a.obj[i].Value, b.obj[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// ToJSONValue converts a native Go value produced by map/reduce code into a
// JSONValue. Supported inputs: nil, bool, the numeric kinds, string, []any,
// []JSONValue, view.OrderedMap (order-preserving), map[string]interface{}
// (member order not preserved — keys are sorted for determinism, see
// DESIGN.md), and JSONValue itself (returned unchanged).
func ToJSONValue(in interface{}) (JSONValue, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case JSONValue:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Str(x), nil
	case float64:
		return Num(x), nil
	case float32:
		return Num(float64(x)), nil
	case int:
		return Num(float64(x)), nil
	case int64:
		return Num(float64(x)), nil
	case int32:
		return Num(float64(x)), nil
	case []JSONValue:
		return Arr(x...), nil
	case []interface{}:
		out := make([]JSONValue, len(x))
		for i, e := range x {
			v, err := ToJSONValue(e)
			if err != nil {
				return JSONValue{}, err
			}
			out[i] = v
		}
		return Arr(out...), nil
	case OrderedMap:
		pairs := make([]KV, len(x))
		for i, kv := range x {
			v, err := ToJSONValue(kv.Value)
			if err != nil {
				return JSONValue{}, err
			}
			pairs[i] = KV{Key: kv.Key, Value: v}
		}
		return Obj(pairs...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]KV, 0, len(keys))
		for _, k := range keys {
			v, err := ToJSONValue(x[k])
			if err != nil {
				return JSONValue{}, err
			}
			pairs = append(pairs, KV{Key: k, Value: v})
		}
		return Obj(pairs...), nil
	default:
		return JSONValue{}, fmt.Errorf("view: cannot convert %T to a JSON value", in)
	}
}

// OrderedMap lets map/reduce code build an object key or value with an
// explicit, preserved member order — the Go-native analogue of the JS map
// function literal `{a: 1, b: 2}`, whose property order CouchDB's own
// collation depends on.
type OrderedMap []KV

// ToGo converts a JSONValue back into plain interface{} (map[string]any for
// objects), for callers that want to hand the value to encoding/json or
// back to an EmitFunc.
func (v JSONValue) ToGo() interface{} {
	switch v.typ {
	case JSONNull:
		return nil
	case JSONBool:
		return v.b
	case JSONNumber:
		return v.n
	case JSONString:
		return v.s
	case JSONArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToGo()
		}
		return out
	case JSONObject:
		out := make(map[string]interface{}, len(v.obj))
		for _, kv := range v.obj {
			out[kv.Key] = kv.Value.ToGo()
		}
		return out
	}
	return nil
}

// MarshalCanonical serializes v to a stable JSON byte string, preserving
// object member order exactly as constructed (spec.md §4.1). This is the
// byte string the IndexStore persists and returns to callers unchanged
// (invariant 6); it is also the comparand for Raw collation.
func MarshalCanonical(v JSONValue) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.Bytes()
}

// MarshalJSON lets JSONValue participate in encoding/json (e.g. a CLI
// printing a QueryResult), delegating to MarshalCanonical so the encoded
// form matches what the IndexStore persists.
func (v JSONValue) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(v), nil
}

// UnmarshalJSON lets JSONValue participate in encoding/json, delegating to
// ParseJSON so object member order is preserved on the way in too.
func (v *JSONValue) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func writeCanonical(buf *bytes.Buffer, v JSONValue) {
	switch v.typ {
	case JSONNull:
		buf.WriteString("null")
	case JSONBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case JSONNumber:
		buf.WriteString(formatNumber(v.n))
	case JSONString:
		writeJSONString(buf, v.s)
	case JSONArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case JSONObject:
		buf.WriteByte('{')
		for i, kv := range v.obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, kv.Key)
			buf.WriteByte(':')
			writeCanonical(buf, kv.Value)
		}
		buf.WriteByte('}')
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) && n < 1e15 && n > -1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// ParseJSON decodes a single JSON value from data, preserving object member
// order. encoding/json's usual map[string]interface{} target cannot do
// this (Go map iteration is randomized), so this walks the token stream by
// hand (spec.md §4.1 impl note).
func ParseJSON(data []byte) (JSONValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return JSONValue{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return JSONValue{}, fmt.Errorf("view: trailing data after JSON value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (JSONValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return JSONValue{}, err
	}
	return parseToken(dec, tok)
}

func parseToken(dec *json.Decoder, tok json.Token) (JSONValue, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return JSONValue{}, fmt.Errorf("view: invalid JSON number %q: %w", t.String(), err)
		}
		return Num(f), nil
	case string:
		return Str(t), nil
	case json.Delim:
		switch t {
		case '[':
			var elems []JSONValue
			for dec.More() {
				e, err := parseValue(dec)
				if err != nil {
					return JSONValue{}, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return JSONValue{}, err
			}
			return Arr(elems...), nil
		case '{':
			var pairs []KV
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return JSONValue{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return JSONValue{}, fmt.Errorf("view: object key is not a string")
				}
				val, err := parseValue(dec)
				if err != nil {
					return JSONValue{}, err
				}
				pairs = append(pairs, KV{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return JSONValue{}, err
			}
			return Obj(pairs...), nil
		}
	}
	return JSONValue{}, fmt.Errorf("view: unexpected JSON token %v", tok)
}
