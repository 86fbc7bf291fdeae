package view

import (
	"bytes"
	"math"
)

// CollationMode selects the total order used to compare two JSONValues.
// A view carries its mode in View.Collation; View.SetCollation changes it
// in place, and rows already persisted stay ordered under the mode they
// were written with until the index is rebuilt.
type CollationMode int

const (
	// CollationUnicode orders strings by Unicode code point, case-sensitive,
	// language-insensitive. This is the default CouchDB view collation.
	CollationUnicode CollationMode = iota
	// CollationASCII orders strings by raw byte value. For valid UTF-8 input
	// this coincides with CollationUnicode; the two modes are kept distinct
	// because spec.md names them separately (see DESIGN.md).
	CollationASCII
	// CollationRaw compares the canonical JSON encoding of the two values
	// byte for byte, ignoring type precedence entirely.
	CollationRaw
)

// Compare orders a and b under mode, returning <0, 0 or >0 the way
// bytes.Compare does. Under Unicode and ASCII it is a byte comparison of
// each value's order-preserving encoding; under Raw it compares the
// canonical JSON bytes, which EncodeOrderPreserving also uses for Raw, so
// Compare and EncodeOrderPreserving agree in every mode (spec.md §4.1,
// "key ordering").
func Compare(a, b JSONValue, mode CollationMode) int {
	if mode == CollationRaw {
		return bytes.Compare(MarshalCanonical(a), MarshalCanonical(b))
	}
	return bytes.Compare(EncodeOrderPreserving(a, mode), EncodeOrderPreserving(b, mode))
}

// Type precedence tags for the order-preserving encoding. Values are chosen
// so that a byte comparison of the tags alone reproduces Null < Bool <
// Number < String < Array < Object.
const (
	tagNull   = 0x10
	tagFalse  = 0x20
	tagTrue   = 0x21
	tagNumber = 0x30
	tagString = 0x40
	tagArray  = 0x50
	tagObject = 0x60
)

// seqContinue/seqEnd delimit array and object (pair-sequence) elements
// so that a shorter sequence sorts before a longer one sharing its prefix,
// matching the "shorter array/object is smaller" rule.
const (
	seqContinue = 0x01
	seqEnd      = 0x00
)

// EncodeOrderPreserving produces a byte string for v such that
// bytes.Compare over two such strings matches Compare(a, b, mode). It is
// the physical sort key boltstore uses for range scans under every
// collation mode (DESIGN.md: doc_id and sequence are appended separately
// as tie-breakers by the caller). Under Raw it is the canonical JSON
// followed by a 0x00 terminator; canonical JSON never contains a raw 0x00
// byte, so the terminator keeps byte order and makes no encoding a prefix
// of another.
func EncodeOrderPreserving(v JSONValue, mode CollationMode) []byte {
	if mode == CollationRaw {
		return append(MarshalCanonical(v), 0x00)
	}
	var buf bytes.Buffer
	encodeValue(&buf, v, mode)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v JSONValue, mode CollationMode) {
	switch v.typ {
	case JSONNull:
		buf.WriteByte(tagNull)
	case JSONBool:
		if v.b {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case JSONNumber:
		buf.WriteByte(tagNumber)
		buf.Write(encodeFloat(v.n))
	case JSONString:
		buf.WriteByte(tagString)
		encodeStringOrdered(buf, v.s)
	case JSONArray:
		buf.WriteByte(tagArray)
		for _, e := range v.arr {
			buf.WriteByte(seqContinue)
			encodeValue(buf, e, mode)
		}
		buf.WriteByte(seqEnd)
	case JSONObject:
		// Objects collate as the sequence of (key, value) pairs as they
		// appear (spec.md §4.1); each pair is written as a continuation
		// byte, the key's string encoding and the value's encoding, and the
		// object is closed with seqEnd, so a shorter object sorts before a
		// longer one sharing a prefix, as for JSON arrays.
		buf.WriteByte(tagObject)
		for _, kv := range v.obj {
			buf.WriteByte(seqContinue)
			encodeValue(buf, Str(kv.Key), mode)
			encodeValue(buf, kv.Value, mode)
		}
		buf.WriteByte(seqEnd)
	}
}

// encodeFloat produces an 8-byte big-endian encoding of f whose unsigned
// byte order matches IEEE-754 numeric order across the full range,
// including negative values and +/-0. This is the standard
// "flip sign bit, or invert all bits for negatives" trick.
func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(bits >> (8 * i))
	}
	return out
}

// encodeStringOrdered escapes s so that byte-wise comparison of the
// escaped form matches comparison of the raw string, while still allowing
// an unambiguous terminator: a literal 0x00 byte is escaped to 0x00 0xFF,
// and the string is closed with a 0x00 0x00 terminator. Since 0x00 is
// strictly less than every escaped continuation byte, a prefix string
// terminates (and sorts) before any string that extends it.
func encodeStringOrdered(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xFF)
			continue
		}
		buf.WriteByte(c)
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
}

// PrefixMatchKey extends a structured end key so that a range scan using
// it as the upper bound matches every key that has k as a prefix up to
// depth elements (spec.md §4.1, "prefix-match upper bound"). depth must be
// >= 1. A string key becomes the supremum of every string sharing it as a
// prefix by appending U+FFFF, the highest Unicode code point, which sorts
// after any character that could follow in a real string. Any other
// non-array key is returned unchanged, since prefix-matching only has
// meaning on string and array keys.
func PrefixMatchKey(k JSONValue, depth int) JSONValue {
	if depth < 1 {
		return k
	}
	if k.typ == JSONString {
		return Str(k.s + string(rune(0xFFFF)))
	}
	if k.typ != JSONArray || len(k.arr) == 0 {
		return k
	}
	idx := depth - 1
	if idx >= len(k.arr) {
		idx = len(k.arr) - 1
	}
	out := make([]JSONValue, idx+1)
	copy(out, k.arr[:idx])
	if depth == 1 {
		// A bare empty object sorts above every non-object value under
		// our type precedence, so replacing the final retained element
		// with {} makes the upper bound exceed any suffix that could
		// follow the prefix at this position.
		out[idx] = Obj()
	} else {
		out[idx] = PrefixMatchKey(k.arr[idx], depth-1)
	}
	return Arr(out...)
}
