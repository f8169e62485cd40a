package plistval

import (
	"fmt"
	"math"
	"time"

	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/status"
)

// Format selects the wire encoding for Marshal. The codec identifies formats
// by plain integers; the alias keeps signatures readable without blocking
// direct use of the codec's constants.
type Format = int

const (
	XMLFormat    Format = plist.XMLFormat
	BinaryFormat Format = plist.BinaryFormat
)

// maxDepth bounds conversion recursion. Well-formed device responses never
// approach this; the limit guards against malformed or adversarial input
// arriving over the wire.
const maxDepth = 512

// overflowError reports an unsigned integer that cannot be represented as an
// Integer without changing sign.
func overflowError(v uint64) error {
	return &status.Error{
		Code:   status.UnsupportedType,
		Op:     "plistval: convert node",
		Detail: fmt.Sprintf("uint64 %d overflows integer", v),
	}
}

// FromAny deep-copies an untyped codec graph (what plist.Unmarshal produces)
// into an owned Value tree. The result holds no references into the input.
// Graphs deeper than maxDepth fail with StructureError, node types outside
// the plist data model fail with UnsupportedType.
func FromAny(raw any) (Value, error) {
	return fromAny(raw, 0)
}

func fromAny(raw any, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, status.New(status.StructureError, "plistval: graph exceeds maximum depth")
	}
	switch t := raw.(type) {
	case Value:
		return Clone(t), nil
	case string:
		return String(t), nil
	case bool:
		return Boolean(t), nil
	case int:
		return Integer(t), nil
	case int8:
		return Integer(t), nil
	case int16:
		return Integer(t), nil
	case int32:
		return Integer(t), nil
	case int64:
		return Integer(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, overflowError(uint64(t))
		}
		return Integer(t), nil
	case uint8:
		return Integer(t), nil
	case uint16:
		return Integer(t), nil
	case uint32:
		return Integer(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, overflowError(t)
		}
		return Integer(t), nil
	case float32:
		return Real(t), nil
	case float64:
		return Real(t), nil
	case []byte:
		out := make(Data, len(t))
		copy(out, t)
		return out, nil
	case time.Time:
		return Date(t.UTC()), nil
	case []any:
		out := make(Array, len(t))
		for i, e := range t {
			v, err := fromAny(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(Dict, len(t))
		for k, e := range t {
			v, err := fromAny(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, &status.Error{
			Code:   status.UnsupportedType,
			Op:     "plistval: convert node",
			Detail: fmt.Sprintf("%T", raw),
		}
	}
}

// ToAny allocates a fresh codec graph from an owned Value tree. Every
// container and byte slice is newly allocated, so the caller owns the result
// outright and mutating it never touches the Value.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case String:
		return string(t)
	case Integer:
		return int64(t)
	case Real:
		return float64(t)
	case Boolean:
		return bool(t)
	case Data:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case Date:
		return time.Time(t).UTC()
	case Array:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Dict:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToAny(e)
		}
		return out
	}
	return nil
}

// Marshal encodes an owned Value tree into a plist document.
func Marshal(v Value, format Format) ([]byte, error) {
	data, err := plist.Marshal(ToAny(v), format)
	if err != nil {
		return nil, status.Wrap(status.StructureError, "plistval: marshal", err)
	}
	return data, nil
}

// Unmarshal decodes a plist document (XML or binary, auto-detected) into an
// owned Value tree.
func Unmarshal(data []byte) (Value, error) {
	var raw any
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, status.Wrap(status.StructureError, "plistval: unmarshal", err)
	}
	return FromAny(raw)
}
