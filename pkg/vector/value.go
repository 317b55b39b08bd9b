package vector

import (
	"math"
	"strconv"
	"strings"
)

// Kind tags the type of an attribute value.
type Kind uint8

// Attribute value kinds.
const (
	KindNull Kind = iota
	KindInt
	KindInt64
	KindString
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindInt64:
		return "int64"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is an attribute value: null, integer, 64-bit integer or string.
type Value struct {
	Kind Kind
	Int  int64
	Str  string
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an integer value.
func Int(v int) Value { return Value{Kind: KindInt, Int: int64(v)} }

// Int64 returns a 64-bit integer value.
func Int64(v int64) Value { return Value{Kind: KindInt64, Int: v} }

// String returns a string value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Label converts the value to a label. ok is false for null values,
// strings that do not hold an integer and integers outside the uint32 range.
func (v Value) Label() (label uint32, ok bool) {
	n := v.Int

	switch v.Kind {
	case KindInt, KindInt64:
	case KindString:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}

		n = parsed
	default:
		return 0, false
	}

	if n < 0 || n > math.MaxUint32 {
		return 0, false
	}

	return uint32(n), true
}

// Text renders the value for logs and error messages.
func (v Value) Text() string {
	switch v.Kind {
	case KindInt, KindInt64:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return strconv.Quote(v.Str)
	default:
		return "null"
	}
}
