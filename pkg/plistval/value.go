// Package plistval is an owned, in-memory representation of property-list
// documents: a tagged variant tree over dictionaries, arrays and scalars.
// Values hold no references into the codec layer, so they are safe to keep
// for any lifetime; conversion to and from the codec's untyped graph always
// deep-copies (see codec.go).
package plistval

import (
	"bytes"
	"time"
)

// Kind tags the variant a Value holds.
type Kind uint8

const (
	KindDict Kind = iota
	KindArray
	KindString
	KindInteger
	KindReal
	KindBoolean
	KindData
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindDict:
		return "dict"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindData:
		return "data"
	case KindDate:
		return "date"
	}
	return "invalid"
}

// Value is one node of an owned plist tree.
type Value interface {
	Kind() Kind
}

type (
	String  string
	Integer int64
	Real    float64
	Boolean bool
	Data    []byte
	Date    time.Time
	Array   []Value
	Dict    map[string]Value
)

func (String) Kind() Kind  { return KindString }
func (Integer) Kind() Kind { return KindInteger }
func (Real) Kind() Kind    { return KindReal }
func (Boolean) Kind() Kind { return KindBoolean }
func (Data) Kind() Kind    { return KindData }
func (Date) Kind() Kind    { return KindDate }
func (Array) Kind() Kind   { return KindArray }
func (Dict) Kind() Kind    { return KindDict }

// Time returns the date normalized to UTC.
func (d Date) Time() time.Time { return time.Time(d).UTC() }

// Clone deep-copies a Value. The clone shares no mutable state with the
// original: releasing or mutating one never affects the other.
func Clone(v Value) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case Dict:
		out := make(Dict, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case Array:
		out := make(Array, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case Data:
		out := make(Data, len(t))
		copy(out, t)
		return out
	default:
		// scalars are immutable
		return v
	}
}

// Equal reports structural equality. Dictionary key order is irrelevant,
// binary data compares byte for byte, dates compare as instants.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Dict:
		bv := b.(Dict)
		if len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			other, ok := bv[k]
			if !ok || !Equal(e, other) {
				return false
			}
		}
		return true
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i, e := range av {
			if !Equal(e, bv[i]) {
				return false
			}
		}
		return true
	case Data:
		return bytes.Equal(av, b.(Data))
	case Date:
		return time.Time(av).Equal(time.Time(b.(Date)))
	default:
		return a == b
	}
}

// GetString looks up a string entry, "" and false when absent or mistyped.
func (d Dict) GetString(key string) (string, bool) {
	if s, ok := d[key].(String); ok {
		return string(s), true
	}
	return "", false
}

// GetInteger looks up an integer entry.
func (d Dict) GetInteger(key string) (int64, bool) {
	if i, ok := d[key].(Integer); ok {
		return int64(i), true
	}
	return 0, false
}

// GetDict looks up a nested dictionary.
func (d Dict) GetDict(key string) (Dict, bool) {
	sub, ok := d[key].(Dict)
	return sub, ok
}
